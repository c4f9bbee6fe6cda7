// Package modes manages named operating phases. At most one mode of the
// exclusive subset (planning, executing, verifying by default) may be
// active at a time; modes outside that subset are tracked the same way
// but never block and are never blocked. Each active mode is backed by
// a durable state document so the exclusion holds across coordinator
// restarts.
//
// Records left behind by a crashed holder self-heal: a mode record older
// than the staleness window is treated as inactive and cleared on the
// next read.
package modes

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"swarmgate/internal/event"
	"swarmgate/internal/statestore"
)

// Default exclusive modes.
const (
	ModePlanning  = "planning"
	ModeExecuting = "executing"
	ModeVerifying = "verifying"
)

// DefaultStaleAfter is how old a mode record may be before it is treated
// as abandoned.
const DefaultStaleAfter = 60 * time.Minute

var (
	// ErrModeActive is returned when starting a mode that is already
	// active, or an exclusive mode while another holds the slot.
	ErrModeActive = errors.New("mode is already active")

	// ErrModeNotActive is returned when ending a mode that is not active.
	ErrModeNotActive = errors.New("mode is not active")
)

// Record is the durable state of one mode.
type Record struct {
	Mode      string    `json:"mode"`
	Active    bool      `json:"active"`
	Holder    string    `json:"holder,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"lastUpdated"`
}

// Registry coordinates exclusive mode transitions. It is safe for
// concurrent use within one process; cross-process exclusion rests on
// the durable records.
type Registry struct {
	mu         sync.Mutex
	store      *statestore.Store
	bus        *event.Bus
	exclusive  map[string]bool
	staleAfter time.Duration

	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithStaleAfter sets the staleness window for abandoned mode records.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithExclusiveModes replaces the default exclusive mode set.
func WithExclusiveModes(modes ...string) Option {
	return func(r *Registry) {
		r.exclusive = make(map[string]bool, len(modes))
		for _, m := range modes {
			r.exclusive[m] = true
		}
	}
}

// NewRegistry creates a Registry persisting through store and publishing
// mode transitions on bus. A nil bus disables events.
func NewRegistry(store *statestore.Store, bus *event.Bus, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		bus:   bus,
		exclusive: map[string]bool{
			ModePlanning:  true,
			ModeExecuting: true,
			ModeVerifying: true,
		},
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func docName(mode string) string {
	return "mode-" + mode
}

// CanStart reports whether the mode could start now. Only modes in the
// exclusive set can be blocked, and only by a *different* active
// exclusive mode; a mode already holding the slot does not block
// itself, and non-exclusive modes are always allowed. When blocked, the
// name of the blocking mode is returned.
func (r *Registry) CanStart(mode string) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.exclusive[mode] {
		return true, "", nil
	}
	active, err := r.activeModeLocked()
	if err != nil {
		return false, "", err
	}
	if active != "" && active != mode {
		return false, active, nil
	}
	return true, "", nil
}

// StartMode activates the mode for the given holder. Starting a mode
// that is already active fails with ErrModeActive (use Touch to refresh
// a held record), as does starting an exclusive mode while another
// exclusive mode is active and fresh.
func (r *Registry) StartMode(mode, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok, err := r.loadLocked(mode)
	if err != nil {
		return err
	}
	if ok && rec.Active {
		return fmt.Errorf("%w: %s", ErrModeActive, mode)
	}
	if r.exclusive[mode] {
		active, err := r.activeModeLocked()
		if err != nil {
			return err
		}
		if active != "" {
			return fmt.Errorf("%w: %s", ErrModeActive, active)
		}
	}

	now := r.now()
	rec = Record{
		Mode:      mode,
		Active:    true,
		Holder:    holder,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveJSON(docName(mode), rec); err != nil {
		return fmt.Errorf("persist mode %s: %w", mode, err)
	}
	r.publish(event.NewModeChangedEvent(mode, true))
	return nil
}

// EndMode deactivates the mode. Ending an inactive mode returns
// ErrModeNotActive.
func (r *Registry) EndMode(mode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok, err := r.loadLocked(mode)
	if err != nil {
		return err
	}
	if !ok || !rec.Active {
		return fmt.Errorf("%w: %s", ErrModeNotActive, mode)
	}
	if err := r.store.Clear(docName(mode)); err != nil {
		return fmt.Errorf("clear mode %s: %w", mode, err)
	}
	r.publish(event.NewModeChangedEvent(mode, false))
	return nil
}

// IsModeActive reports whether the mode is currently active and fresh.
func (r *Registry) IsModeActive(mode string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok, err := r.loadLocked(mode)
	if err != nil {
		return false, err
	}
	return ok && rec.Active, nil
}

// ActiveMode returns the name of the currently active exclusive mode, or
// "" when none is active.
func (r *Registry) ActiveMode() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeModeLocked()
}

// Touch refreshes the active mode record's timestamp so a long-running
// holder is not mistaken for abandoned.
func (r *Registry) Touch(mode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok, err := r.loadLocked(mode)
	if err != nil {
		return err
	}
	if !ok || !rec.Active {
		return fmt.Errorf("%w: %s", ErrModeNotActive, mode)
	}
	rec.UpdatedAt = r.now()
	if err := r.store.SaveJSON(docName(mode), rec); err != nil {
		return fmt.Errorf("persist mode %s: %w", mode, err)
	}
	return nil
}

// Modes returns the exclusive mode set.
func (r *Registry) Modes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.exclusive))
	for m := range r.exclusive {
		out = append(out, m)
	}
	return out
}

// activeModeLocked scans the exclusive set for a fresh active record.
func (r *Registry) activeModeLocked() (string, error) {
	for mode := range r.exclusive {
		rec, ok, err := r.loadLocked(mode)
		if err != nil {
			return "", err
		}
		if ok && rec.Active {
			return mode, nil
		}
	}
	return "", nil
}

// loadLocked reads the mode's record, clearing and discarding it when it
// has gone stale.
func (r *Registry) loadLocked(mode string) (Record, bool, error) {
	var rec Record
	err := r.store.LoadJSON(docName(mode), &rec)
	if errors.Is(err, statestore.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load mode %s: %w", mode, err)
	}

	if rec.Active && r.now().Sub(rec.UpdatedAt) > r.staleAfter {
		// Abandoned by a crashed holder. Clear it so the slot frees up.
		if err := r.store.Clear(docName(mode)); err != nil {
			return Record{}, false, fmt.Errorf("clear stale mode %s: %w", mode, err)
		}
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (r *Registry) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
