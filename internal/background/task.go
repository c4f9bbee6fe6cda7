// Package background is the task-lifecycle state machine for
// externally-hosted work items. It composes admission control
// (concurrency limiter), completion inference (stability detector),
// completion reporting (notification batcher) and durable persistence
// (state store); the work itself runs in hosted sessions this layer only
// tracks.
package background

import "time"

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Progress is a task's last observed activity snapshot.
type Progress struct {
	// ToolInvocations counts observable actions taken by the session.
	ToolInvocations int `json:"toolInvocations"`
	// LastTool names the most recent action, when known.
	LastTool string `json:"lastTool,omitempty"`
	// LastUpdate is when any progress field last changed.
	LastUpdate time.Time `json:"lastUpdate,omitempty"`
	// LastMessage is the most recent message text from the session.
	LastMessage string `json:"lastMessage,omitempty"`
	// LastMessageAt is when that message arrived.
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
}

// Task is one tracked work item. The zero time means "not reached yet"
// for the optional timestamps.
type Task struct {
	ID string `json:"id"`

	// SessionID is the hosted execution context, set once running.
	SessionID string `json:"sessionId,omitempty"`
	// ParentID is the execution context that requested this task.
	ParentID string `json:"parentId,omitempty"`
	// RequestMessageID is the triggering message within the parent.
	RequestMessageID string `json:"requestMessageId,omitempty"`

	Description        string `json:"description"`
	InstructionPayload string `json:"instructionPayload,omitempty"`
	AgentRole          string `json:"agentRole,omitempty"`

	Status Status `json:"status"`
	// Tier is the capacity tier this task consumes.
	Tier string `json:"tier"`

	QueuedAt    time.Time `json:"queuedAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`

	// Result and Error are set only at a terminal state.
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	Progress Progress `json:"progress"`

	// LastActivityCount and StablePolls mirror the stability detector's
	// view so it survives restarts in the persisted document.
	LastActivityCount int `json:"lastActivityCount"`
	StablePolls       int `json:"stablePolls"`
}

// clone returns a copy safe to hand to callers.
func (t *Task) clone() *Task {
	c := *t
	return &c
}
