// Package ownership tracks which parallel worker owns which file path.
// Each path is owned by at most one worker, or sits in a fixed
// coordinator-owned shared set (manifests, lockfiles) that no worker may
// claim. A second claim on an owned path is recorded as a conflict
// rather than surfaced as a failure, so a run can continue and report
// its conflicts at the end.
package ownership

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"swarmgate/internal/event"
	"swarmgate/internal/statestore"
)

const docName = "ownership"

// ErrWorkerNotFound is returned for unknown worker IDs.
var ErrWorkerNotFound = errors.New("worker not found")

// WorkerStatus is a worker's lifecycle state.
type WorkerStatus string

const (
	WorkerPending   WorkerStatus = "pending"
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
)

// Worker is one parallel execution agent's ownership context.
type Worker struct {
	ID          string       `json:"id"`
	Status      WorkerStatus `json:"status"`
	Description string       `json:"description,omitempty"`
	Files       []string     `json:"files"`
	StartedAt   time.Time    `json:"startedAt,omitempty"`
	CompletedAt time.Time    `json:"completedAt,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Conflict records a rejected claim on an already-owned path.
type Conflict struct {
	Path       string    `json:"path"`
	OwnerID    string    `json:"ownerId"`
	ClaimantID string    `json:"claimantId"`
	At         time.Time `json:"at"`
}

// AssignmentResult is the outcome of an AssignFile call.
type AssignmentResult struct {
	// Assigned is true when the claimant now owns the path (including
	// the idempotent re-claim case).
	Assigned bool `json:"assigned"`
	// Shared is true when the path is coordinator-owned and can never
	// be assigned to a worker.
	Shared bool `json:"shared"`
	// OwnerID names the current owner: the claimant on success, the
	// conflicting worker on rejection, empty for shared paths.
	OwnerID string `json:"ownerId,omitempty"`
	// Conflicted is true when this claim was recorded as a conflict.
	Conflicted bool `json:"conflicted"`
}

// stateDoc is the persisted shape of the ownership table.
type stateDoc struct {
	Workers     map[string]*Worker `json:"workers"`
	Owners      map[string]string  `json:"owners"` // path -> worker ID
	Conflicts   []Conflict         `json:"conflicts"`
	LastUpdated time.Time          `json:"lastUpdated"`
}

// Coordinator owns the file ownership table. Safe for concurrent use;
// every mutation persists the whole document.
//
// Bus handlers must not call back into the Coordinator.
type Coordinator struct {
	mu      sync.Mutex
	store   *statestore.Store
	bus     *event.Bus
	shared  map[string]bool
	workers map[string]*Worker
	owners  map[string]string
	// conflictSeen dedupes conflict records per path.
	conflictSeen map[string]bool
	conflicts    []Conflict

	now func() time.Time
}

// DefaultSharedPaths are coordinator-owned manifest and lockfile paths.
func DefaultSharedPaths() []string {
	return []string{
		"go.mod",
		"go.sum",
		"package.json",
		"package-lock.json",
		"yarn.lock",
		"pnpm-lock.yaml",
		"Cargo.toml",
		"Cargo.lock",
		"Gemfile.lock",
		"requirements.txt",
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSharedPaths replaces the default coordinator-owned path set.
func WithSharedPaths(paths []string) Option {
	return func(c *Coordinator) {
		c.shared = make(map[string]bool, len(paths))
		for _, p := range paths {
			c.shared[normalize(p)] = true
		}
	}
}

// NewCoordinator creates a Coordinator persisting through store and
// publishing claim/release/conflict events on bus (nil bus disables
// events). A previously persisted table is reloaded.
func NewCoordinator(store *statestore.Store, bus *event.Bus, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store:        store,
		bus:          bus,
		shared:       make(map[string]bool),
		workers:      make(map[string]*Worker),
		owners:       make(map[string]string),
		conflictSeen: make(map[string]bool),
		now:          time.Now,
	}
	for _, p := range DefaultSharedPaths() {
		c.shared[p] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) load() error {
	var doc stateDoc
	err := c.store.LoadJSON(docName, &doc)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ownership state: %w", err)
	}

	if doc.Workers != nil {
		c.workers = doc.Workers
	}
	if doc.Owners != nil {
		c.owners = doc.Owners
	}
	c.conflicts = doc.Conflicts
	for _, conflict := range c.conflicts {
		c.conflictSeen[conflict.Path] = true
	}
	return nil
}

// RegisterWorker creates a pending worker record.
func (c *Coordinator) RegisterWorker(workerID, description string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.workers[workerID]; ok {
		return fmt.Errorf("worker %s already registered", workerID)
	}
	c.workers[workerID] = &Worker{
		ID:          workerID,
		Status:      WorkerPending,
		Description: description,
		Files:       []string{},
	}
	return c.persistLocked()
}

// StartWorker marks the worker running.
func (c *Coordinator) StartWorker(workerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	w.Status = WorkerRunning
	w.StartedAt = c.now()
	return c.persistLocked()
}

// CompleteWorker marks the worker completed and releases its files.
func (c *Coordinator) CompleteWorker(workerID string) error {
	return c.finishWorker(workerID, WorkerCompleted, "")
}

// FailWorker marks the worker failed with the given message and releases
// its files.
func (c *Coordinator) FailWorker(workerID, errMsg string) error {
	return c.finishWorker(workerID, WorkerFailed, errMsg)
}

func (c *Coordinator) finishWorker(workerID string, status WorkerStatus, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	w.Status = status
	w.CompletedAt = c.now()
	w.Error = errMsg
	c.releaseAllLocked(workerID)
	return c.persistLocked()
}

// AssignFile attempts to give the worker ownership of the path.
//
// Shared coordinator-owned paths always fail assignment and never record
// a conflict. An unowned path is assigned. A path the same worker
// already owns succeeds idempotently. A path owned by another worker
// fails and records a conflict, at most once per path.
func (c *Coordinator) AssignFile(path, workerID string) (AssignmentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path = normalize(path)

	if c.shared[path] {
		return AssignmentResult{Shared: true}, nil
	}

	if owner, owned := c.owners[path]; owned {
		if owner == workerID {
			return AssignmentResult{Assigned: true, OwnerID: workerID}, nil
		}
		if !c.conflictSeen[path] {
			c.conflictSeen[path] = true
			c.conflicts = append(c.conflicts, Conflict{
				Path:       path,
				OwnerID:    owner,
				ClaimantID: workerID,
				At:         c.now(),
			})
			c.publish(event.NewFileConflictEvent(path, owner, workerID))
			if err := c.persistLocked(); err != nil {
				return AssignmentResult{}, err
			}
		}
		return AssignmentResult{OwnerID: owner, Conflicted: true}, nil
	}

	c.owners[path] = workerID
	if w, ok := c.workers[workerID]; ok {
		w.Files = append(w.Files, path)
	}
	if err := c.persistLocked(); err != nil {
		return AssignmentResult{}, err
	}
	c.publish(event.NewFileClaimEvent(workerID, path))
	return AssignmentResult{Assigned: true, OwnerID: workerID}, nil
}

// ReleaseFile releases ownership of the path. Releasing an unowned path
// is a no-op.
func (c *Coordinator) ReleaseFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path = normalize(path)
	owner, owned := c.owners[path]
	if !owned {
		return nil
	}
	delete(c.owners, path)
	if w, ok := c.workers[owner]; ok {
		w.Files = removePath(w.Files, path)
	}
	if err := c.persistLocked(); err != nil {
		return err
	}
	c.publish(event.NewFileReleaseEvent(owner, path))
	return nil
}

// ReleaseAll releases every path the worker owns.
func (c *Coordinator) ReleaseAll(workerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseAllLocked(workerID)
	return c.persistLocked()
}

func (c *Coordinator) releaseAllLocked(workerID string) {
	var released []string
	for path, owner := range c.owners {
		if owner == workerID {
			released = append(released, path)
		}
	}
	sort.Strings(released)
	for _, path := range released {
		delete(c.owners, path)
		c.publish(event.NewFileReleaseEvent(workerID, path))
	}
	if w, ok := c.workers[workerID]; ok {
		w.Files = []string{}
	}
}

// OwnerOf returns the worker owning the path, if any.
func (c *Coordinator) OwnerOf(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[normalize(path)]
	return owner, ok
}

// IsShared reports whether the path is coordinator-owned.
func (c *Coordinator) IsShared(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shared[normalize(path)]
}

// WorkerFiles returns the paths the worker owns, sorted.
func (c *Coordinator) WorkerFiles(workerID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok {
		return nil
	}
	out := make([]string, len(w.Files))
	copy(out, w.Files)
	sort.Strings(out)
	return out
}

// GetWorker returns a copy of the worker record.
func (c *Coordinator) GetWorker(workerID string) (*Worker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok {
		return nil, false
	}
	copied := *w
	copied.Files = append([]string(nil), w.Files...)
	return &copied, true
}

// Conflicts returns all recorded conflicts in order of occurrence.
func (c *Coordinator) Conflicts() []Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Conflict, len(c.conflicts))
	copy(out, c.conflicts)
	return out
}

func (c *Coordinator) persistLocked() error {
	doc := stateDoc{
		Workers:     c.workers,
		Owners:      c.owners,
		Conflicts:   c.conflicts,
		LastUpdated: c.now(),
	}
	if err := c.store.SaveJSON(docName, doc); err != nil {
		return fmt.Errorf("persist ownership state: %w", err)
	}
	return nil
}

func (c *Coordinator) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// normalize cleans the path so "./go.mod" and "go.mod" match.
func normalize(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

func removePath(paths []string, path string) []string {
	for i, p := range paths {
		if p == path {
			return append(paths[:i], paths[i+1:]...)
		}
	}
	return paths
}
