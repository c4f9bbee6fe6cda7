package ownership

import (
	"errors"
	"testing"

	"swarmgate/internal/event"
	"swarmgate/internal/statestore"
)

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *statestore.Store) {
	t.Helper()
	store, err := statestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	c, err := NewCoordinator(store, nil, opts...)
	if err != nil {
		t.Fatalf("create coordinator: %v", err)
	}
	return c, store
}

func TestAssignUnownedPath(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.RegisterWorker("w1", "refactor parser")

	res, err := c.AssignFile("pkg/parser.go", "w1")
	if err != nil {
		t.Fatalf("AssignFile: %v", err)
	}
	if !res.Assigned || res.OwnerID != "w1" || res.Conflicted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if owner, ok := c.OwnerOf("pkg/parser.go"); !ok || owner != "w1" {
		t.Errorf("expected w1 owner, got %q %v", owner, ok)
	}
	if files := c.WorkerFiles("w1"); len(files) != 1 || files[0] != "pkg/parser.go" {
		t.Errorf("unexpected worker files: %v", files)
	}
}

func TestReclaimBySameWorkerIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.RegisterWorker("w1", "")

	c.AssignFile("a.go", "w1")
	res, err := c.AssignFile("a.go", "w1")
	if err != nil {
		t.Fatalf("AssignFile: %v", err)
	}
	if !res.Assigned || res.Conflicted {
		t.Errorf("re-claim by owner should succeed: %+v", res)
	}
	if len(c.Conflicts()) != 0 {
		t.Error("re-claim must not record a conflict")
	}
	if files := c.WorkerFiles("w1"); len(files) != 1 {
		t.Errorf("path should appear once, got %v", files)
	}
}

func TestSecondClaimRecordsConflictOnce(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.RegisterWorker("w1", "")
	c.RegisterWorker("w2", "")

	c.AssignFile("a.go", "w1")

	res, err := c.AssignFile("a.go", "w2")
	if err != nil {
		t.Fatalf("AssignFile: %v", err)
	}
	if res.Assigned || !res.Conflicted || res.OwnerID != "w1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Ownership is unchanged and repeated claims don't pile up records.
	c.AssignFile("a.go", "w2")
	c.AssignFile("a.go", "w3")

	conflicts := c.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict per path, got %d", len(conflicts))
	}
	if conflicts[0].OwnerID != "w1" || conflicts[0].ClaimantID != "w2" {
		t.Errorf("unexpected conflict record: %+v", conflicts[0])
	}
	if owner, _ := c.OwnerOf("a.go"); owner != "w1" {
		t.Errorf("owner must not change on conflict, got %q", owner)
	}
}

func TestSharedPathsNeverAssignedNoConflict(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.RegisterWorker("w1", "")

	for _, path := range []string{"go.mod", "./go.mod", "package.json"} {
		res, err := c.AssignFile(path, "w1")
		if err != nil {
			t.Fatalf("AssignFile(%s): %v", path, err)
		}
		if res.Assigned || !res.Shared {
			t.Errorf("%s: shared path must not assign: %+v", path, res)
		}
	}
	if len(c.Conflicts()) != 0 {
		t.Error("shared-path rejections must not record conflicts")
	}
	if _, ok := c.OwnerOf("go.mod"); ok {
		t.Error("shared path must stay unowned")
	}
}

func TestCustomSharedPaths(t *testing.T) {
	c, _ := newTestCoordinator(t, WithSharedPaths([]string{"schema.sql"}))

	if res, _ := c.AssignFile("schema.sql", "w1"); !res.Shared {
		t.Error("configured shared path should be rejected")
	}
	// The default set was replaced, so go.mod is claimable.
	if res, _ := c.AssignFile("go.mod", "w1"); !res.Assigned {
		t.Error("go.mod should be assignable with a custom shared set")
	}
}

func TestReleaseFile(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.RegisterWorker("w1", "")
	c.AssignFile("a.go", "w1")

	if err := c.ReleaseFile("a.go"); err != nil {
		t.Fatalf("ReleaseFile: %v", err)
	}
	if _, ok := c.OwnerOf("a.go"); ok {
		t.Error("released path should be unowned")
	}
	if files := c.WorkerFiles("w1"); len(files) != 0 {
		t.Errorf("released path should leave the worker's list: %v", files)
	}

	// Another worker can now claim it.
	if res, _ := c.AssignFile("a.go", "w2"); !res.Assigned {
		t.Error("released path should be claimable")
	}

	// Releasing an unowned path is a no-op.
	if err := c.ReleaseFile("nothing.go"); err != nil {
		t.Errorf("releasing unowned path should be a no-op: %v", err)
	}
}

func TestReleaseAll(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.RegisterWorker("w1", "")
	c.AssignFile("a.go", "w1")
	c.AssignFile("b.go", "w1")
	c.AssignFile("c.go", "w2")

	if err := c.ReleaseAll("w1"); err != nil {
		t.Fatalf("ReleaseAll: %v", err)
	}
	if _, ok := c.OwnerOf("a.go"); ok {
		t.Error("a.go should be released")
	}
	if owner, _ := c.OwnerOf("c.go"); owner != "w2" {
		t.Error("other workers' files must be untouched")
	}
}

func TestWorkerLifecycle(t *testing.T) {
	c, _ := newTestCoordinator(t)

	if err := c.RegisterWorker("w1", "implement storage"); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if err := c.RegisterWorker("w1", "dup"); err == nil {
		t.Error("duplicate registration should fail")
	}

	w, _ := c.GetWorker("w1")
	if w.Status != WorkerPending {
		t.Errorf("expected pending, got %s", w.Status)
	}

	c.StartWorker("w1")
	c.AssignFile("a.go", "w1")

	if err := c.CompleteWorker("w1"); err != nil {
		t.Fatalf("CompleteWorker: %v", err)
	}
	w, _ = c.GetWorker("w1")
	if w.Status != WorkerCompleted || w.CompletedAt.IsZero() {
		t.Errorf("unexpected worker after completion: %+v", w)
	}
	// Completion releases the worker's files.
	if _, ok := c.OwnerOf("a.go"); ok {
		t.Error("completed worker's files should be released")
	}
}

func TestFailWorkerRecordsError(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.RegisterWorker("w1", "")
	c.StartWorker("w1")

	if err := c.FailWorker("w1", "panic in handler"); err != nil {
		t.Fatalf("FailWorker: %v", err)
	}
	w, _ := c.GetWorker("w1")
	if w.Status != WorkerFailed || w.Error != "panic in handler" {
		t.Errorf("unexpected worker after failure: %+v", w)
	}

	if err := c.StartWorker("ghost"); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestOwnershipSurvivesRestart(t *testing.T) {
	store, err := statestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	c1, err := NewCoordinator(store, nil)
	if err != nil {
		t.Fatalf("create coordinator: %v", err)
	}
	c1.RegisterWorker("w1", "survivor")
	c1.AssignFile("a.go", "w1")
	c1.AssignFile("a.go", "w2") // conflict

	c2, err := NewCoordinator(store, nil)
	if err != nil {
		t.Fatalf("reload coordinator: %v", err)
	}
	if owner, ok := c2.OwnerOf("a.go"); !ok || owner != "w1" {
		t.Errorf("ownership not restored: %q %v", owner, ok)
	}
	if len(c2.Conflicts()) != 1 {
		t.Errorf("conflicts not restored: %v", c2.Conflicts())
	}
	// Conflict dedupe survives the restart too.
	c2.AssignFile("a.go", "w3")
	if len(c2.Conflicts()) != 1 {
		t.Error("restored coordinator should still dedupe conflicts per path")
	}
}

func TestClaimAndConflictEvents(t *testing.T) {
	store, err := statestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	bus := event.NewBus()
	c, err := NewCoordinator(store, bus)
	if err != nil {
		t.Fatalf("create coordinator: %v", err)
	}

	var types []string
	bus.SubscribeAll(func(e event.Event) { types = append(types, e.EventType()) })

	c.RegisterWorker("w1", "")
	c.AssignFile("a.go", "w1")
	c.AssignFile("a.go", "w2")
	c.ReleaseFile("a.go")
	c.AssignFile("go.mod", "w1") // shared: no event

	want := []string{"file.claimed", "file.conflict", "file.released"}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}
