// Package stability infers completion of externally-hosted work items by
// watching their activity counters go idle.
//
// The hosted execution offers no native "done" event to this layer, so
// completion is inferred, not signaled: when an item's activity count is
// unchanged across enough consecutive polls, and the item has been running
// longer than a minimum activation delay, the detector declares it stable.
// This is best-effort idle detection — a heuristic, not a guarantee. An
// item that pauses long enough between actions will be declared complete
// early; callers must treat stability as "presumed finished".
package stability

import (
	"sync"
	"time"
)

const (
	// DefaultStableThreshold is the number of consecutive unchanged polls
	// required before an item is reported stable.
	DefaultStableThreshold = 3

	// DefaultActivationDelay is the minimum elapsed time since an item
	// started before stability may be declared. Without it, trivial no-op
	// items would be declared complete on their first polls.
	DefaultActivationDelay = 10 * time.Second
)

// PollResult is the outcome of a single stability poll.
type PollResult struct {
	// Stable is true when the item has just crossed the stability
	// threshold. It is reported once per idle stretch: further unchanged
	// polls return false until activity resumes and goes idle again.
	Stable bool
	// ConsecutiveStablePolls is the current run of unchanged polls.
	ConsecutiveStablePolls int
}

// itemState tracks one watched item's polling history.
type itemState struct {
	startedAt   time.Time
	lastCount   int
	hasBaseline bool
	consecutive int
	reported    bool
}

// Detector watches activity counters for tracked items. It is safe for
// concurrent use.
type Detector struct {
	mu              sync.Mutex
	items           map[string]*itemState
	stableThreshold int
	activationDelay time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithStableThreshold sets the consecutive unchanged polls required.
func WithStableThreshold(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.stableThreshold = n
		}
	}
}

// WithActivationDelay sets the minimum elapsed time before stability.
func WithActivationDelay(delay time.Duration) Option {
	return func(d *Detector) {
		if delay >= 0 {
			d.activationDelay = delay
		}
	}
}

// NewDetector creates a Detector with the given options.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		items:           make(map[string]*itemState),
		stableThreshold: DefaultStableThreshold,
		activationDelay: DefaultActivationDelay,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Track begins watching an item. startedAt anchors the activation delay;
// tracking an already-tracked item resets its history.
func (d *Detector) Track(itemID string, startedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[itemID] = &itemState{startedAt: startedAt}
}

// Poll records the item's current activity count and reports whether the
// item has just become stable. Untracked items are tracked implicitly with
// the current time as their start.
func (d *Detector) Poll(itemID string, activityCount int) PollResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.items[itemID]
	if !ok {
		state = &itemState{startedAt: d.now()}
		d.items[itemID] = state
	}

	if !state.hasBaseline {
		// First observation establishes the baseline; it cannot count
		// as an unchanged poll.
		state.hasBaseline = true
		state.lastCount = activityCount
		return PollResult{}
	}

	if activityCount != state.lastCount {
		state.lastCount = activityCount
		state.consecutive = 0
		state.reported = false
		return PollResult{}
	}

	state.consecutive++
	result := PollResult{ConsecutiveStablePolls: state.consecutive}

	if state.reported {
		return result
	}
	if state.consecutive < d.stableThreshold {
		return result
	}
	if d.now().Sub(state.startedAt) < d.activationDelay {
		return result
	}

	state.reported = true
	result.Stable = true
	return result
}

// Reset clears the item's stability history while keeping it tracked.
func (d *Detector) Reset(itemID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state, ok := d.items[itemID]; ok {
		state.hasBaseline = false
		state.consecutive = 0
		state.reported = false
	}
}

// Forget stops watching the item entirely.
func (d *Detector) Forget(itemID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, itemID)
}

// Tracked reports whether the item is currently watched.
func (d *Detector) Tracked(itemID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.items[itemID]
	return ok
}
