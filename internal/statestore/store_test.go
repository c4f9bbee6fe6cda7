package statestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	in := testDoc{Name: "background", Count: 7}
	if err := store.SaveJSON("background", in); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	var out testDoc
	if err := store.LoadJSON("background", &out); err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	store := newTestStore(t)

	var out testDoc
	if err := store.LoadJSON("absent", &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.LoadRaw("absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from LoadRaw, got %v", err)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveJSON("doc", testDoc{Name: "x"}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestClearIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveJSON("doc", testDoc{}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	if err := store.Clear("doc"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if store.Exists("doc") {
		t.Error("document should not exist after Clear")
	}
	// Clearing again is a no-op.
	if err := store.Clear("doc"); err != nil {
		t.Errorf("second Clear should succeed: %v", err)
	}
}

func TestList(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"checkpoints", "background", "ownership"} {
		if err := store.SaveJSON(name, testDoc{}); err != nil {
			t.Fatalf("SaveJSON(%s): %v", name, err)
		}
	}
	// A stray non-JSON file should be ignored.
	if err := os.WriteFile(filepath.Join(store.Dir(), "events.jsonl"), []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	names, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"background", "checkpoints", "ownership"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List = %v, want %v", names, want)
	}
}

func TestConcurrentSaves(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.SaveJSON("shared", testDoc{Name: "writer", Count: n})
		}(i)
	}
	wg.Wait()

	var out testDoc
	if err := store.LoadJSON("shared", &out); err != nil {
		t.Fatalf("LoadJSON after concurrent saves: %v", err)
	}
	if out.Name != "writer" {
		t.Errorf("document corrupted by concurrent writes: %+v", out)
	}
}

func TestOverwriteReplacesWholeDocument(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveJSON("doc", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	if err := store.SaveJSON("doc", map[string]string{"c": "3"}); err != nil {
		t.Fatalf("SaveJSON overwrite: %v", err)
	}

	var out map[string]string
	if err := store.LoadJSON("doc", &out); err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if len(out) != 1 || out["c"] != "3" {
		t.Errorf("expected whole-document replacement, got %v", out)
	}
}

func TestAcquireLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("expected lock PID %d, got %d", os.Getpid(), lock.PID)
	}

	// Same live process holding the lock blocks a second acquisition.
	if _, err := AcquireLock(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	if _, held := IsLocked(dir); !held {
		t.Error("IsLocked should report held")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, held := IsLocked(dir); held {
		t.Error("IsLocked should report free after release")
	}
	// Release is safe to repeat.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestStaleLockIsReclaimed(t *testing.T) {
	dir := t.TempDir()

	// Fabricate a lock held by a process that cannot exist.
	stale := fmt.Sprintf(`{"pid": %d, "hostname": "ghost", "started_at": "2020-01-01T00:00:00Z"}`, 1<<30)
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte(stale), 0644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock over stale lock: %v", err)
	}
	defer lock.Release()

	if lock.PID != os.Getpid() {
		t.Errorf("expected reclaimed lock owned by this process")
	}
}
