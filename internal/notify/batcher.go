// Package notify batches work item completion notifications so that a
// burst of near-simultaneous completions surfaces as one digest instead
// of a stream of individual interruptions.
//
// A batch flushes when either the time window elapses after the first
// buffered completion, or the buffer reaches its maximum size, whichever
// comes first.
package notify

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is how long the batcher waits after the first
	// buffered completion before flushing.
	DefaultWindow = 1000 * time.Millisecond

	// DefaultMaxBatch flushes immediately once this many completions are
	// buffered.
	DefaultMaxBatch = 5
)

// Completion describes one finished work item.
type Completion struct {
	TaskID      string    `json:"taskId"`
	Description string    `json:"description,omitempty"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Sink receives flushed batches. It is called from the batcher's timer
// goroutine or from the caller of Record/Close; implementations should
// return quickly and must not call back into the Batcher.
type Sink func(batch []Completion)

// Batcher buffers completions and delivers them in batches. It is safe
// for concurrent use.
type Batcher struct {
	mu       sync.Mutex
	buf      []Completion
	timer    *time.Timer
	window   time.Duration
	maxBatch int
	sink     Sink
	closed   bool
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithWindow sets the flush window.
func WithWindow(window time.Duration) Option {
	return func(b *Batcher) {
		if window > 0 {
			b.window = window
		}
	}
}

// WithMaxBatch sets the size threshold for immediate flush.
func WithMaxBatch(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.maxBatch = n
		}
	}
}

// NewBatcher creates a Batcher delivering to sink. A nil sink discards
// batches.
func NewBatcher(sink Sink, opts ...Option) *Batcher {
	b := &Batcher{
		window:   DefaultWindow,
		maxBatch: DefaultMaxBatch,
		sink:     sink,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Record buffers one completion. The first completion in an empty buffer
// arms the flush timer; reaching the size threshold flushes immediately.
// Records after Close are dropped.
func (b *Batcher) Record(c Completion) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	if c.FinishedAt.IsZero() {
		c.FinishedAt = time.Now()
	}
	b.buf = append(b.buf, c)

	if len(b.buf) >= b.maxBatch {
		batch := b.takeLocked()
		b.mu.Unlock()
		b.deliver(batch)
		return
	}

	if len(b.buf) == 1 {
		b.timer = time.AfterFunc(b.window, b.flushTimer)
	}
	b.mu.Unlock()
}

// Flush delivers any buffered completions immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	b.deliver(batch)
}

// Close flushes the remaining buffer and stops the batcher. Further
// Records are no-ops. Close is idempotent.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.takeLocked()
	b.mu.Unlock()
	b.deliver(batch)
}

// Pending returns the number of buffered completions.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *Batcher) flushTimer() {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	b.deliver(batch)
}

// takeLocked drains the buffer and disarms the timer. Caller holds mu.
func (b *Batcher) takeLocked() []Completion {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.buf
	b.buf = nil
	return batch
}

func (b *Batcher) deliver(batch []Completion) {
	if len(batch) == 0 || b.sink == nil {
		return
	}
	b.sink(batch)
}
