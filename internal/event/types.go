package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.launched", "file.conflict").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskLaunchedEvent is emitted when a background task is created, whether
// it was admitted immediately or queued.
type TaskLaunchedEvent struct {
	baseEvent
	TaskID   string // Unique identifier for the task
	Tier     string // Capacity tier the task consumes
	Admitted bool   // Whether the task went straight to running
}

// NewTaskLaunchedEvent creates a TaskLaunchedEvent.
func NewTaskLaunchedEvent(taskID, tier string, admitted bool) TaskLaunchedEvent {
	return TaskLaunchedEvent{
		baseEvent: newBaseEvent("task.launched"),
		TaskID:    taskID,
		Tier:      tier,
		Admitted:  admitted,
	}
}

// TaskAdmittedEvent is emitted when a queued task is admitted to running
// by the requeue sweep.
type TaskAdmittedEvent struct {
	baseEvent
	TaskID string
	Tier   string
}

// NewTaskAdmittedEvent creates a TaskAdmittedEvent.
func NewTaskAdmittedEvent(taskID, tier string) TaskAdmittedEvent {
	return TaskAdmittedEvent{
		baseEvent: newBaseEvent("task.admitted"),
		TaskID:    taskID,
		Tier:      tier,
	}
}

// TaskCompletedEvent is emitted when a background task reaches a terminal
// state.
type TaskCompletedEvent struct {
	baseEvent
	TaskID  string // Task identifier
	Tier    string // Capacity tier released
	Success bool   // Whether the task completed successfully
	Reason  string // Terminal reason: "completed", "error", "cancelled", "stale"
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, tier string, success bool, reason string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent("task.completed"),
		TaskID:    taskID,
		Tier:      tier,
		Success:   success,
		Reason:    reason,
	}
}

// TaskStableEvent is emitted when the stability detector infers that a
// running task has gone idle and is presumed complete.
type TaskStableEvent struct {
	baseEvent
	TaskID      string
	StablePolls int // Consecutive unchanged polls observed
}

// NewTaskStableEvent creates a TaskStableEvent.
func NewTaskStableEvent(taskID string, stablePolls int) TaskStableEvent {
	return TaskStableEvent{
		baseEvent:   newBaseEvent("task.stable"),
		TaskID:      taskID,
		StablePolls: stablePolls,
	}
}

// -----------------------------------------------------------------------------
// File Ownership Events
// -----------------------------------------------------------------------------

// FileClaimEvent is emitted when a worker is assigned ownership of a file.
type FileClaimEvent struct {
	baseEvent
	WorkerID string
	Path     string
}

// NewFileClaimEvent creates a FileClaimEvent.
func NewFileClaimEvent(workerID, path string) FileClaimEvent {
	return FileClaimEvent{
		baseEvent: newBaseEvent("file.claimed"),
		WorkerID:  workerID,
		Path:      path,
	}
}

// FileReleaseEvent is emitted when a file's ownership is released.
type FileReleaseEvent struct {
	baseEvent
	WorkerID string
	Path     string
}

// NewFileReleaseEvent creates a FileReleaseEvent.
func NewFileReleaseEvent(workerID, path string) FileReleaseEvent {
	return FileReleaseEvent{
		baseEvent: newBaseEvent("file.released"),
		WorkerID:  workerID,
		Path:      path,
	}
}

// FileConflictEvent is emitted when a worker attempts to claim a file
// already owned by a different worker.
type FileConflictEvent struct {
	baseEvent
	Path     string // Contested path
	OwnerID  string // Worker that holds the file
	Claimant string // Worker whose claim was rejected
}

// NewFileConflictEvent creates a FileConflictEvent.
func NewFileConflictEvent(path, ownerID, claimant string) FileConflictEvent {
	return FileConflictEvent{
		baseEvent: newBaseEvent("file.conflict"),
		Path:      path,
		OwnerID:   ownerID,
		Claimant:  claimant,
	}
}

// -----------------------------------------------------------------------------
// Mode Events
// -----------------------------------------------------------------------------

// ModeChangedEvent is emitted when an exclusive mode starts or ends.
type ModeChangedEvent struct {
	baseEvent
	Mode   string // Mode name
	Active bool   // True on start, false on end
}

// NewModeChangedEvent creates a ModeChangedEvent.
func NewModeChangedEvent(mode string, active bool) ModeChangedEvent {
	return ModeChangedEvent{
		baseEvent: newBaseEvent("mode.changed"),
		Mode:      mode,
		Active:    active,
	}
}

// -----------------------------------------------------------------------------
// Checkpoint Events
// -----------------------------------------------------------------------------

// CheckpointCreatedEvent is emitted when a checkpoint commit succeeds.
type CheckpointCreatedEvent struct {
	baseEvent
	CheckpointID string
	CommitHash   string
	Phase        string
}

// NewCheckpointCreatedEvent creates a CheckpointCreatedEvent.
func NewCheckpointCreatedEvent(checkpointID, commitHash, phase string) CheckpointCreatedEvent {
	return CheckpointCreatedEvent{
		baseEvent:    newBaseEvent("checkpoint.created"),
		CheckpointID: checkpointID,
		CommitHash:   commitHash,
		Phase:        phase,
	}
}

// -----------------------------------------------------------------------------
// Notification Events
// -----------------------------------------------------------------------------

// NotificationFlushedEvent is emitted when a batch of completion
// notifications is delivered.
type NotificationFlushedEvent struct {
	baseEvent
	Count int // Number of completions in the batch
}

// NewNotificationFlushedEvent creates a NotificationFlushedEvent.
func NewNotificationFlushedEvent(count int) NotificationFlushedEvent {
	return NotificationFlushedEvent{
		baseEvent: newBaseEvent("notification.flushed"),
		Count:     count,
	}
}
