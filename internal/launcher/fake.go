package launcher

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Launcher for tests and dry runs. It records every
// request and hands out sequential session IDs.
type Fake struct {
	mu       sync.Mutex
	requests []Request
	activity map[string]int
	nextID   int

	// Err, when set, is returned by Launch instead of a session ID.
	Err error
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{activity: make(map[string]int)}
}

// Launch records the request and returns a fresh session ID.
func (f *Fake) Launch(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return "", f.Err
	}
	f.nextID++
	id := fmt.Sprintf("session-%d", f.nextID)
	f.requests = append(f.requests, req)
	f.activity[id] = 0
	return id, nil
}

// ActivityCount returns the session's simulated activity counter.
func (f *Fake) ActivityCount(_ context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.activity[sessionID]
	if !ok {
		return 0, fmt.Errorf("unknown session %s", sessionID)
	}
	return n, nil
}

// Advance bumps the session's activity counter by n.
func (f *Fake) Advance(sessionID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity[sessionID] += n
}

// Requests returns a copy of all recorded launch requests.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// LaunchCount returns how many launches succeeded.
func (f *Fake) LaunchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
