// Package launcher abstracts the execution backend that hosts work
// items. The coordination layer never runs work itself; it hands a
// prepared request to a Launcher and tracks the returned session by ID.
package launcher

import (
	"context"
	"errors"
)

// ErrLaunchFailed is returned when the backend rejects a launch.
var ErrLaunchFailed = errors.New("launch failed")

// Request describes one work item to hand to the execution backend.
type Request struct {
	// Description is a short human-readable summary of the work.
	Description string
	// InstructionPayload is the full instruction text delivered to the
	// hosted session.
	InstructionPayload string
	// AgentRole selects the behavior profile for the session.
	AgentRole string
	// ModelTier selects the capacity tier the session runs on.
	ModelTier string
}

// Launcher starts hosted sessions for work items.
type Launcher interface {
	// Launch starts a session for the request and returns its backend
	// session ID. A returned error wraps ErrLaunchFailed when the
	// backend rejected the request.
	Launch(ctx context.Context, req Request) (sessionID string, err error)
}

// ActivityProber reports a session's activity counter, used for
// idle-based completion inference. Backends that cannot report activity
// simply don't implement it.
type ActivityProber interface {
	// ActivityCount returns a monotonically non-decreasing counter of
	// observable actions taken by the session.
	ActivityCount(ctx context.Context, sessionID string) (int, error)
}
