// Package checkpoint snapshots the coordination state directory into git
// commits and restores it from them. Commits are scoped to the state
// subdirectory; a rollback rewrites only that subdirectory's documents
// from a past commit and never moves HEAD, so the surrounding working
// tree is untouched either way.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"swarmgate/internal/event"
	"swarmgate/internal/logging"
	"swarmgate/internal/statestore"
)

const indexDoc = "checkpoints"

// DefaultMaxCheckpoints is how many checkpoint records the index keeps.
const DefaultMaxCheckpoints = 10

var (
	// ErrNotRepository is returned when the state directory is not
	// inside a git repository. Checkpointing requires one; there is no
	// partial fallback.
	ErrNotRepository = errors.New("state directory is not inside a git repository")

	// ErrCheckpointNotFound is returned for unknown checkpoint IDs.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// Checkpoint is one recorded state snapshot.
type Checkpoint struct {
	ID          string    `json:"id"`
	CommitHash  string    `json:"commitHash"`
	CreatedAt   time.Time `json:"createdAt"`
	Phase       string    `json:"phase,omitempty"`
	Plan        string    `json:"plan,omitempty"`
	Wave        string    `json:"wave,omitempty"`
	Description string    `json:"description,omitempty"`
	// Snapshot holds each state document's content as captured just
	// before the commit, keyed by document name.
	Snapshot map[string]json.RawMessage `json:"snapshot,omitempty"`
}

// indexDocBody is the persisted checkpoint index.
type indexDocBody struct {
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// Manager creates and restores checkpoints. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	store    *statestore.Store
	bus      *event.Bus
	log      *logging.Logger
	executor CommandExecutor
	repo     *git.Repository
	repoRoot string
	// stateRel is the state directory's path relative to the repo root,
	// in slash form. Every git operation is scoped to it.
	stateRel string
	maxKeep  int

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithExecutor replaces the git CLI executor.
func WithExecutor(e CommandExecutor) Option {
	return func(m *Manager) { m.executor = e }
}

// WithMaxCheckpoints sets the index retention count.
func WithMaxCheckpoints(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxKeep = n
		}
	}
}

// WithBus publishes checkpoint events on the given bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithLogger sets the structured logger.
func WithLogger(log *logging.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager over the store's directory. It fails with
// ErrNotRepository when no enclosing git repository exists.
func NewManager(store *statestore.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:    store,
		log:      logging.NewDiscard(),
		executor: NewGitExecutor(),
		maxKeep:  DefaultMaxCheckpoints,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	repo, err := git.PlainOpenWithOptions(store.Dir(), &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository worktree: %w", err)
	}
	m.repo = repo
	m.repoRoot = wt.Filesystem.Root()

	abs, err := filepath.Abs(store.Dir())
	if err != nil {
		return nil, fmt.Errorf("resolve state directory: %w", err)
	}
	rel, err := filepath.Rel(m.repoRoot, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("state directory %s is outside repository %s", abs, m.repoRoot)
	}
	m.stateRel = filepath.ToSlash(rel)
	return m, nil
}

// Create snapshots the current state documents and commits the state
// subdirectory. Commit failures surface the underlying git message so
// the caller can verify nothing outside the subdirectory was touched.
func (m *Manager) Create(ctx context.Context, phase, plan, wave, description string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.snapshotDocs()
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("checkpoint: %s", description)
	if description == "" {
		msg = fmt.Sprintf("checkpoint: %s", phase)
	}
	if hasFiles, err := dirHasFiles(m.store.Dir()); err != nil {
		return nil, err
	} else if hasFiles {
		if _, err := m.executor.Run(ctx, m.repoRoot, "add", "--", m.stateRel); err != nil {
			return nil, fmt.Errorf("stage state directory: %w", err)
		}
		if _, err := m.executor.Run(ctx, m.repoRoot,
			"commit", "--allow-empty", "-m", msg, "--", m.stateRel); err != nil {
			return nil, fmt.Errorf("commit state directory: %w", err)
		}
	} else {
		// Nothing under the state directory yet; git rejects an empty
		// pathspec, so record a plain empty commit.
		if _, err := m.executor.Run(ctx, m.repoRoot,
			"commit", "--allow-empty", "--only", "-m", msg); err != nil {
			return nil, fmt.Errorf("commit empty checkpoint: %w", err)
		}
	}

	head, err := m.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve commit hash: %w", err)
	}

	cp := Checkpoint{
		ID:          uuid.New().String(),
		CommitHash:  head.Hash().String(),
		CreatedAt:   m.now(),
		Phase:       phase,
		Plan:        plan,
		Wave:        wave,
		Description: description,
		Snapshot:    snapshot,
	}

	if err := m.appendToIndex(cp); err != nil {
		return nil, err
	}

	if m.bus != nil {
		m.bus.Publish(event.NewCheckpointCreatedEvent(cp.ID, cp.CommitHash, phase))
	}
	m.log.Info("checkpoint created",
		"checkpoint", cp.ID, "commit", cp.CommitHash, "phase", phase)
	return &cp, nil
}

// Rollback restores the state subdirectory's files from the checkpoint's
// commit without moving HEAD. Documents created after the checkpoint are
// removed; nothing outside the subdirectory is written.
func (m *Manager) Rollback(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.findLocked(id)
	if err != nil {
		return err
	}

	commit, err := m.repo.CommitObject(plumbing.NewHash(cp.CommitHash))
	if err != nil {
		return fmt.Errorf("load checkpoint commit %s: %w", cp.CommitHash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("load commit tree: %w", err)
	}

	prefix := m.stateRel + "/"
	indexPath := prefix + indexDoc + ".json"
	restored := make(map[string]bool)

	err = tree.Files().ForEach(func(f *object.File) error {
		if !strings.HasPrefix(f.Name, prefix) || f.Name == indexPath {
			// The index must survive a rollback, or later checkpoints
			// would be lost to the restore itself.
			return nil
		}
		contents, err := f.Contents()
		if err != nil {
			return fmt.Errorf("read %s from commit: %w", f.Name, err)
		}
		target := filepath.Join(m.repoRoot, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", f.Name, err)
		}
		if err := os.WriteFile(target, []byte(contents), 0644); err != nil {
			return fmt.Errorf("restore %s: %w", f.Name, err)
		}
		restored[f.Name] = true
		return nil
	})
	if err != nil {
		return err
	}

	// Documents written since the checkpoint don't exist in the commit;
	// drop them so the directory matches the snapshot. Only managed
	// .json documents are removed.
	names, err := m.store.List()
	if err != nil {
		return fmt.Errorf("list current documents: %w", err)
	}
	for _, name := range names {
		if name == indexDoc {
			continue
		}
		if !restored[prefix+name+".json"] {
			if err := m.store.Clear(name); err != nil {
				return err
			}
		}
	}

	m.log.Info("rolled back state directory",
		"checkpoint", cp.ID, "commit", cp.CommitHash)
	return nil
}

// List returns all checkpoints, newest first.
func (m *Manager) List() ([]Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]Checkpoint, len(idx.Checkpoints))
	copy(out, idx.Checkpoints)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns the checkpoint with the given ID.
func (m *Manager) Get(id string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(id)
}

// Prune trims the index to the configured retention count, dropping the
// oldest records. The underlying commits remain in git history.
func (m *Manager) Prune() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.loadIndex()
	if err != nil {
		return 0, err
	}
	pruned := len(idx.Checkpoints) - m.maxKeep
	if pruned <= 0 {
		return 0, nil
	}
	idx.Checkpoints = idx.Checkpoints[pruned:]
	if err := m.store.SaveJSON(indexDoc, idx); err != nil {
		return 0, fmt.Errorf("persist checkpoint index: %w", err)
	}
	return pruned, nil
}

func (m *Manager) findLocked(id string) (*Checkpoint, error) {
	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	for i := range idx.Checkpoints {
		if idx.Checkpoints[i].ID == id {
			cp := idx.Checkpoints[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
}

// snapshotDocs captures every state document's content, excluding the
// checkpoint index itself.
func (m *Manager) snapshotDocs() (map[string]json.RawMessage, error) {
	names, err := m.store.List()
	if err != nil {
		return nil, fmt.Errorf("list state documents: %w", err)
	}
	snapshot := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		if name == indexDoc {
			continue
		}
		raw, err := m.store.LoadRaw(name)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", name, err)
		}
		snapshot[name] = json.RawMessage(raw)
	}
	return snapshot, nil
}

// appendToIndex adds the checkpoint and prunes to the retention count.
func (m *Manager) appendToIndex(cp Checkpoint) error {
	idx, err := m.loadIndex()
	if err != nil {
		return err
	}
	idx.Checkpoints = append(idx.Checkpoints, cp)
	if excess := len(idx.Checkpoints) - m.maxKeep; excess > 0 {
		idx.Checkpoints = idx.Checkpoints[excess:]
	}
	if err := m.store.SaveJSON(indexDoc, idx); err != nil {
		return fmt.Errorf("persist checkpoint index: %w", err)
	}
	return nil
}

// dirHasFiles reports whether the directory contains any entries.
func dirHasFiles(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("read state directory: %w", err)
	}
	return len(entries) > 0, nil
}

func (m *Manager) loadIndex() (*indexDocBody, error) {
	var idx indexDocBody
	err := m.store.LoadJSON(indexDoc, &idx)
	if errors.Is(err, statestore.ErrNotFound) {
		return &indexDocBody{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint index: %w", err)
	}
	return &idx, nil
}
