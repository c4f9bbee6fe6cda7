package background

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"swarmgate/internal/concurrency"
	"swarmgate/internal/event"
	"swarmgate/internal/launcher"
	"swarmgate/internal/logging"
	"swarmgate/internal/notify"
	"swarmgate/internal/stability"
	"swarmgate/internal/statestore"
)

const docName = "background"

// Default sweep thresholds.
const (
	// DefaultMinRuntime is how long a task must have run before the
	// staleness sweep may touch it.
	DefaultMinRuntime = 30 * time.Second
	// DefaultStaleTimeout fails running tasks whose progress is older
	// than this.
	DefaultStaleTimeout = 3 * time.Minute
	// DefaultRetention evicts terminal tasks older than this.
	DefaultRetention = time.Hour
)

var (
	// ErrTaskNotFound is returned for unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal is returned when transitioning a task that already
	// reached a terminal state.
	ErrTaskTerminal = errors.New("task already terminal")
)

// LaunchInput describes a work item to launch.
type LaunchInput struct {
	Description        string
	InstructionPayload string
	AgentRole          string
	// Tier is the capacity tier; empty falls back to the manager's
	// default tier.
	Tier string
	// ParentID and RequestMessageID link the task to its requester.
	ParentID         string
	RequestMessageID string
}

// stateDoc is the persisted shape of the manager's state.
type stateDoc struct {
	Tasks       map[string]*Task `json:"tasks"`
	QueueOrder  []string         `json:"queueOrder"`
	ActiveCount map[string]int   `json:"activeCount"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// Manager owns the task lifecycle: admission, progress tracking,
// completion and the sweeps. All mutating methods persist the whole
// state document before returning. Safe for concurrent use in-process;
// cross-process writers are last-writer-wins at document granularity.
//
// Event handlers subscribed to the bus must not call back into the
// Manager; events are published while its lock is held.
type Manager struct {
	mu       sync.Mutex
	store    *statestore.Store
	launcher launcher.Launcher
	bus      *event.Bus
	limiter  *concurrency.Limiter
	detector *stability.Detector
	notifier *notify.Batcher
	log      *logging.Logger

	defaultTier  string
	minRuntime   time.Duration
	staleTimeout time.Duration
	retention    time.Duration

	tasks map[string]*Task
	// queue holds pending task IDs in launch order. Admission is FIFO
	// per tier, not globally FIFO.
	queue []string

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus publishes lifecycle events on the given bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithLimiter replaces the default admission limiter.
func WithLimiter(l *concurrency.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// WithDetector replaces the default stability detector.
func WithDetector(d *stability.Detector) Option {
	return func(m *Manager) { m.detector = d }
}

// WithNotifier batches completion notifications through b.
func WithNotifier(b *notify.Batcher) Option {
	return func(m *Manager) { m.notifier = b }
}

// WithLogger sets the structured logger.
func WithLogger(log *logging.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithDefaultTier sets the tier for launches that don't specify one.
func WithDefaultTier(tier string) Option {
	return func(m *Manager) {
		if tier != "" {
			m.defaultTier = tier
		}
	}
}

// WithSweepThresholds sets the staleness and retention windows.
func WithSweepThresholds(minRuntime, staleTimeout, retention time.Duration) Option {
	return func(m *Manager) {
		if minRuntime > 0 {
			m.minRuntime = minRuntime
		}
		if staleTimeout > 0 {
			m.staleTimeout = staleTimeout
		}
		if retention > 0 {
			m.retention = retention
		}
	}
}

// NewManager creates a Manager backed by store, launching through lnch.
// Persisted state from a previous run is reloaded: tasks, queue order
// and per-tier active counts all survive a restart.
func NewManager(store *statestore.Store, lnch launcher.Launcher, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:        store,
		launcher:     lnch,
		limiter:      concurrency.NewLimiter(nil),
		detector:     stability.NewDetector(),
		log:          logging.NewDiscard(),
		defaultTier:  string(concurrency.TierFast),
		minRuntime:   DefaultMinRuntime,
		staleTimeout: DefaultStaleTimeout,
		retention:    DefaultRetention,
		tasks:        make(map[string]*Task),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// load restores the persisted document, if any.
func (m *Manager) load() error {
	var doc stateDoc
	err := m.store.LoadJSON(docName, &doc)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load background state: %w", err)
	}

	if doc.Tasks != nil {
		m.tasks = doc.Tasks
	}
	m.queue = doc.QueueOrder

	counts := make(map[concurrency.Tier]int, len(doc.ActiveCount))
	for tier, n := range doc.ActiveCount {
		counts[concurrency.Tier(tier)] = n
	}
	m.limiter.Restore(counts)

	// Re-arm stability tracking for tasks that were running.
	for id, t := range m.tasks {
		if t.Status == StatusRunning {
			m.detector.Track(id, t.StartedAt)
		}
	}
	return nil
}

// Launch creates a pending task and attempts immediate admission. When
// the tier is at capacity the task stays pending in FIFO order; a later
// sweep admits it once a slot frees. The returned Task is a copy.
func (m *Manager) Launch(ctx context.Context, input LaunchInput) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tier := input.Tier
	if tier == "" {
		tier = m.defaultTier
	}

	t := &Task{
		ID:                 uuid.New().String(),
		ParentID:           input.ParentID,
		RequestMessageID:   input.RequestMessageID,
		Description:        input.Description,
		InstructionPayload: input.InstructionPayload,
		AgentRole:          input.AgentRole,
		Status:             StatusPending,
		Tier:               tier,
		QueuedAt:           m.now(),
	}
	m.tasks[t.ID] = t
	m.queue = append(m.queue, t.ID)

	// The sweep admits oldest-first, so a new launch cannot jump ahead
	// of tasks already queued on its tier.
	m.requeueSweepLocked(ctx)

	if err := m.persistLocked(); err != nil {
		return nil, err
	}

	admitted := t.Status == StatusRunning
	m.publish(event.NewTaskLaunchedEvent(t.ID, t.Tier, admitted))
	m.log.Info("task launched",
		"task", t.ID, "tier", t.Tier, "admitted", admitted)

	if t.Status == StatusError {
		return t.clone(), fmt.Errorf("%w: %s", launcher.ErrLaunchFailed, t.Error)
	}
	return t.clone(), nil
}

// CompleteTask transitions the task to completed with the given result.
func (m *Manager) CompleteTask(ctx context.Context, id, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishLocked(ctx, id, StatusCompleted, result, "", "completed")
}

// FailTask transitions the task to error with the given message.
func (m *Manager) FailTask(ctx context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishLocked(ctx, id, StatusError, "", errMsg, "error")
}

// CancelTask marks the task cancelled and releases its slot. The hosted
// session cannot be forcibly stopped from here; cancellation is
// cooperative, with the staleness sweep as the fallback.
func (m *Manager) CancelTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishLocked(ctx, id, StatusCancelled, "", "", "cancelled")
}

// finishLocked performs a terminal transition, releases capacity, runs
// the requeue sweep and persists.
func (m *Manager) finishLocked(ctx context.Context, id string, status Status, result, errMsg, reason string) error {
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status)
	}

	wasRunning := t.Status == StatusRunning
	t.Status = status
	t.CompletedAt = m.now()
	t.Result = result
	t.Error = errMsg

	m.removeFromQueue(id)
	m.detector.Forget(id)
	if wasRunning {
		m.limiter.Release(concurrency.Tier(t.Tier))
		// A freed slot may admit the oldest pending task on the tier.
		m.requeueSweepLocked(ctx)
	}

	if err := m.persistLocked(); err != nil {
		return err
	}

	m.publish(event.NewTaskCompletedEvent(t.ID, t.Tier, status == StatusCompleted, reason))
	if m.notifier != nil {
		m.notifier.Record(notify.Completion{
			TaskID:      t.ID,
			Description: t.Description,
			Success:     status == StatusCompleted,
			Reason:      reason,
			FinishedAt:  t.CompletedAt,
		})
	}
	m.log.Info("task finished",
		"task", t.ID, "status", string(status), "reason", reason)
	return nil
}

// RequeueSweep admits as many pending tasks as freed capacity allows,
// oldest first per tier. It returns the number admitted. Safe to call
// from multiple goroutines and idempotent when nothing is admissible.
func (m *Manager) RequeueSweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	admitted := m.requeueSweepLocked(ctx)
	if admitted == 0 {
		return 0, nil
	}
	if err := m.persistLocked(); err != nil {
		return admitted, err
	}
	return admitted, nil
}

func (m *Manager) requeueSweepLocked(ctx context.Context) int {
	admitted := 0
	remaining := m.queue[:0]
	for _, id := range m.queue {
		t, ok := m.tasks[id]
		if !ok || t.Status != StatusPending {
			continue
		}
		tier := concurrency.Tier(t.Tier)
		if !m.limiter.TryAcquire(tier) {
			remaining = append(remaining, id)
			continue
		}

		sessionID, err := m.launcher.Launch(ctx, launcher.Request{
			Description:        t.Description,
			InstructionPayload: t.InstructionPayload,
			AgentRole:          t.AgentRole,
			ModelTier:          t.Tier,
		})
		if err != nil {
			m.limiter.Release(tier)
			t.Status = StatusError
			t.CompletedAt = m.now()
			t.Error = err.Error()
			m.publish(event.NewTaskCompletedEvent(t.ID, t.Tier, false, "error"))
			m.log.Error("launch failed", "task", t.ID, "error", err.Error())
			continue
		}

		t.Status = StatusRunning
		t.SessionID = sessionID
		t.StartedAt = m.now()
		m.detector.Track(t.ID, t.StartedAt)
		admitted++
		m.publish(event.NewTaskAdmittedEvent(t.ID, t.Tier))
		m.log.Debug("task admitted", "task", t.ID, "session", sessionID)
	}
	m.queue = remaining
	return admitted
}

// StaleSweep fails running tasks whose last progress update is older
// than the stale timeout, provided they have run at least the minimum
// runtime. It returns the IDs of tasks it failed.
func (m *Manager) StaleSweep(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var stale []string
	for id, t := range m.tasks {
		if t.Status != StatusRunning {
			continue
		}
		if now.Sub(t.StartedAt) < m.minRuntime {
			continue
		}
		last := t.Progress.LastUpdate
		if last.IsZero() {
			last = t.StartedAt
		}
		if now.Sub(last) > m.staleTimeout {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		if err := m.finishLocked(ctx, id, StatusError, "", "no progress within stale timeout", "stale"); err != nil {
			return stale, err
		}
	}
	return stale, nil
}

// TTLSweep evicts terminal tasks older than the retention window from
// the state document. It returns the number evicted.
func (m *Manager) TTLSweep() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for id, t := range m.tasks {
		if !t.Status.Terminal() {
			continue
		}
		if now.Sub(t.CompletedAt) > m.retention {
			delete(m.tasks, id)
			evicted++
		}
	}
	if evicted == 0 {
		return 0, nil
	}
	if err := m.persistLocked(); err != nil {
		return evicted, err
	}
	m.log.Debug("evicted terminal tasks", "count", evicted)
	return evicted, nil
}

// PollProgress records the task's current activity count and feeds the
// stability detector. When the detector declares the task stable it is
// auto-completed as presumed finished.
func (m *Manager) PollProgress(ctx context.Context, id string, activityCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != StatusRunning {
		return nil
	}

	if activityCount != t.LastActivityCount {
		t.Progress.LastUpdate = m.now()
	}
	t.LastActivityCount = activityCount
	t.Progress.ToolInvocations = activityCount

	res := m.detector.Poll(id, activityCount)
	t.StablePolls = res.ConsecutiveStablePolls

	if res.Stable {
		m.publish(event.NewTaskStableEvent(id, res.ConsecutiveStablePolls))
		return m.finishLocked(ctx, id, StatusCompleted, "presumed complete after idle period", "", "completed")
	}
	return m.persistLocked()
}

// UpdateProgress records an observed action and message from the hosted
// session.
func (m *Manager) UpdateProgress(id, tool, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	now := m.now()
	if tool != "" {
		t.Progress.LastTool = tool
	}
	if message != "" {
		t.Progress.LastMessage = message
		t.Progress.LastMessageAt = now
	}
	t.Progress.LastUpdate = now
	return m.persistLocked()
}

// Get returns a copy of the task.
func (m *Manager) Get(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// List returns copies of all tasks in queue-time order.
func (m *Manager) List() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// Pending returns the IDs of queued tasks in admission order.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.queue))
	copy(out, m.queue)
	return out
}

// ActiveCount returns the number of running tasks on the tier.
func (m *Manager) ActiveCount(tier string) int {
	return m.limiter.ActiveCount(concurrency.Tier(tier))
}

func (m *Manager) removeFromQueue(id string) {
	for i, qid := range m.queue {
		if qid == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) persistLocked() error {
	counts := make(map[string]int)
	for tier, n := range m.limiter.Snapshot() {
		counts[string(tier)] = n
	}
	doc := stateDoc{
		Tasks:       m.tasks,
		QueueOrder:  m.queue,
		ActiveCount: counts,
		LastUpdated: m.now(),
	}
	if err := m.store.SaveJSON(docName, doc); err != nil {
		return fmt.Errorf("persist background state: %w", err)
	}
	return nil
}

func (m *Manager) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
