package coordination

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"swarmgate/internal/background"
	"swarmgate/internal/config"
	"swarmgate/internal/eventlog"
	"swarmgate/internal/launcher"
	"swarmgate/internal/notify"
	"swarmgate/internal/statestore"
)

func testSettings() *config.Config {
	cfg := config.Default()
	cfg.Tiers.Limits = map[string]int{"fast": 2, "deep": 1}
	cfg.Notifications.MaxBatch = 1
	return cfg
}

func TestNewHubRequiresDependencies(t *testing.T) {
	if _, err := NewHub(Config{Launcher: launcher.NewFake()}); err == nil {
		t.Error("expected error without StateDir")
	}
	if _, err := NewHub(Config{StateDir: t.TempDir()}); err == nil {
		t.Error("expected error without Launcher")
	}
}

func TestHubWiresComponents(t *testing.T) {
	h, err := NewHub(Config{
		StateDir: t.TempDir(),
		Launcher: launcher.NewFake(),
		Settings: testSettings(),
	})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}

	if h.Manager() == nil || h.Ownership() == nil || h.Modes() == nil ||
		h.Bus() == nil || h.EventLog() == nil || h.Store() == nil || h.Limiter() == nil {
		t.Fatal("hub should construct all components")
	}
	// Outside a git repository, checkpointing is unavailable.
	if h.Checkpoints() != nil {
		t.Error("checkpoints should be nil outside a git repository")
	}
	if limit, _ := h.Limiter().Limit("fast"); limit != 2 {
		t.Errorf("configured tier limit not applied, got %d", limit)
	}
}

func TestBusEventsReachDurableLog(t *testing.T) {
	h, err := NewHub(Config{
		StateDir: t.TempDir(),
		Launcher: launcher.NewFake(),
		Settings: testSettings(),
	})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	ctx := context.Background()

	task, err := h.Manager().Launch(ctx, background.LaunchInput{Description: "observable", Tier: "fast"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := h.Manager().CompleteTask(ctx, task.ID, "done"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	res, err := h.EventLog().Poll(0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	types := make(map[string]bool)
	for _, ev := range res.Events {
		types[ev.Type] = true
		if ev.Source != "coordinator" {
			t.Errorf("expected coordinator source, got %q", ev.Source)
		}
	}
	for _, want := range []string{"task.admitted", "task.launched", "task.completed"} {
		if !types[want] {
			t.Errorf("durable log missing %s; got %v", want, types)
		}
	}
}

func TestFollowEventsStreamsDurableLog(t *testing.T) {
	h, err := NewHub(Config{
		StateDir: t.TempDir(),
		Launcher: launcher.NewFake(),
		Settings: testSettings(),
	})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	ctx := context.Background()

	// Already-logged events form the follower's backlog.
	task, err := h.Manager().Launch(ctx, background.LaunchInput{Description: "followed", Tier: "fast"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	followCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	types := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := h.FollowEvents(followCtx, 0, func(ev eventlog.StoredEvent) {
			types <- ev.Type
		}); err != nil {
			t.Errorf("FollowEvents: %v", err)
		}
	}()

	waitForType := func(want string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case got := <-types:
				if got == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s event", want)
			}
		}
	}

	waitForType("task.admitted")
	waitForType("task.launched")

	// Completing the task appends to the log and wakes the follower.
	if err := h.Manager().CompleteTask(ctx, task.ID, "done"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	waitForType("task.completed")

	cancel()
	<-done
}

func TestNotificationSinkReceivesBatches(t *testing.T) {
	var mu sync.Mutex
	var batches [][]notify.Completion

	h, err := NewHub(Config{
		StateDir: t.TempDir(),
		Launcher: launcher.NewFake(),
		Settings: testSettings(),
	}, WithNotificationSink(func(batch []notify.Completion) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, batch)
	}))
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	ctx := context.Background()

	task, _ := h.Manager().Launch(ctx, background.LaunchInput{Description: "work"})
	h.Manager().CompleteTask(ctx, task.ID, "done")

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 || batches[0][0].TaskID != task.ID {
		t.Errorf("unexpected notification batches: %v", batches)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHub(Config{
		StateDir: dir,
		Launcher: launcher.NewFake(),
		Settings: testSettings(),
	})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.Running() {
		t.Error("hub should report running")
	}
	if err := h.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if _, err := os.Stat(filepath.Join(dir, statestore.LockFileName)); err != nil {
		t.Errorf("lock file should exist while running: %v", err)
	}

	// Another hub on the same directory must be refused.
	h2, err := NewHub(Config{StateDir: dir, Launcher: launcher.NewFake(), Settings: testSettings()})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	if err := h2.Start(ctx); !errors.Is(err, statestore.ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.Running() {
		t.Error("hub should report stopped")
	}
	if _, err := os.Stat(filepath.Join(dir, statestore.LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed on stop")
	}
	// Stop is idempotent.
	if err := h.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
