package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"swarmgate/internal/background"
	"swarmgate/internal/checkpoint"
	"swarmgate/internal/concurrency"
	"swarmgate/internal/config"
	"swarmgate/internal/event"
	"swarmgate/internal/eventlog"
	"swarmgate/internal/launcher"
	"swarmgate/internal/logging"
	"swarmgate/internal/modes"
	"swarmgate/internal/notify"
	"swarmgate/internal/ownership"
	"swarmgate/internal/stability"
	"swarmgate/internal/statestore"
)

// Config holds the required dependencies for creating a Hub.
type Config struct {
	// StateDir is the durable state directory for this project.
	StateDir string
	// Launcher starts hosted sessions for admitted work items.
	Launcher launcher.Launcher
	// Settings tunes thresholds and intervals; nil uses defaults.
	Settings *config.Config
}

// Hub owns the coordination layer's components and periodic loops.
type Hub struct {
	mu      sync.RWMutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	lock    *statestore.Lock

	settings *config.Config
	log      *logging.Logger
	launcher launcher.Launcher

	store       *statestore.Store
	bus         *event.Bus
	events      *eventlog.Log
	limiter     *concurrency.Limiter
	detector    *stability.Detector
	batcher     *notify.Batcher
	manager     *background.Manager
	ownership   *ownership.Coordinator
	modes       *modes.Registry
	checkpoints *checkpoint.Manager
}

// NewHub constructs every component and wires the event bus into the
// durable event log. The checkpoint manager is only present when the
// state directory sits inside a git repository; everything else works
// without one.
func NewHub(cfg Config, opts ...Option) (*Hub, error) {
	if cfg.StateDir == "" {
		return nil, errors.New("coordination: StateDir is required")
	}
	if cfg.Launcher == nil {
		return nil, errors.New("coordination: Launcher is required")
	}

	hc := &hubConfig{log: logging.NewDiscard()}
	for _, opt := range opts {
		opt(hc)
	}

	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}

	store, err := statestore.New(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	h := &Hub{
		settings: settings,
		log:      hc.log,
		launcher: cfg.Launcher,
		store:    store,
		bus:      event.NewBus(),
		events: eventlog.New(cfg.StateDir,
			eventlog.WithRotateAfterLines(settings.EventLog.RotateAfterLines)),
	}

	limits := make(map[concurrency.Tier]int, len(settings.Tiers.Limits))
	for tier, n := range settings.Tiers.Limits {
		limits[concurrency.Tier(tier)] = n
	}
	h.limiter = concurrency.NewLimiter(limits)

	h.detector = stability.NewDetector(
		stability.WithStableThreshold(settings.Stability.StableThreshold),
		stability.WithActivationDelay(settings.Stability.ActivationDelay()),
	)

	sink := hc.notificationSink
	h.batcher = notify.NewBatcher(func(batch []notify.Completion) {
		h.bus.Publish(event.NewNotificationFlushedEvent(len(batch)))
		if sink != nil {
			sink(batch)
		}
	},
		notify.WithWindow(settings.Notifications.Window()),
		notify.WithMaxBatch(settings.Notifications.MaxBatch),
	)

	h.manager, err = background.NewManager(store, cfg.Launcher,
		background.WithBus(h.bus),
		background.WithLimiter(h.limiter),
		background.WithDetector(h.detector),
		background.WithNotifier(h.batcher),
		background.WithLogger(h.log),
		background.WithDefaultTier(settings.Tiers.DefaultTier),
		background.WithSweepThresholds(
			settings.Background.MinRuntime(),
			settings.Background.StaleTimeout(),
			settings.Background.Retention(),
		),
	)
	if err != nil {
		return nil, err
	}

	h.ownership, err = ownership.NewCoordinator(store, h.bus,
		ownership.WithSharedPaths(settings.Ownership.SharedPaths))
	if err != nil {
		return nil, err
	}

	h.modes = modes.NewRegistry(store, h.bus,
		modes.WithStaleAfter(settings.Modes.StaleAfter()))

	h.checkpoints, err = checkpoint.NewManager(store,
		checkpoint.WithBus(h.bus),
		checkpoint.WithLogger(h.log),
		checkpoint.WithMaxCheckpoints(settings.Checkpoint.MaxCheckpoints))
	if errors.Is(err, checkpoint.ErrNotRepository) {
		h.log.Warn("checkpointing disabled", "reason", "state directory not in a git repository")
		h.checkpoints = nil
	} else if err != nil {
		return nil, err
	}

	// Every bus event becomes a durable log record; the bus carries the
	// exported payload fields, the log adds ID, timestamp and source.
	h.bus.SubscribeAll(func(e event.Event) {
		if _, err := h.events.Emit(e.EventType(), e, "coordinator"); err != nil {
			h.log.Error("event log append failed", "type", e.EventType(), "error", err.Error())
		}
	})

	return h, nil
}

// Manager returns the background task manager.
func (h *Hub) Manager() *background.Manager { return h.manager }

// Ownership returns the file ownership coordinator.
func (h *Hub) Ownership() *ownership.Coordinator { return h.ownership }

// Modes returns the exclusive mode registry.
func (h *Hub) Modes() *modes.Registry { return h.modes }

// Checkpoints returns the checkpoint manager, or nil when the state
// directory is not inside a git repository.
func (h *Hub) Checkpoints() *checkpoint.Manager { return h.checkpoints }

// Bus returns the in-process event bus.
func (h *Hub) Bus() *event.Bus { return h.bus }

// EventLog returns the durable event log.
func (h *Hub) EventLog() *eventlog.Log { return h.events }

// FollowEvents streams durable log records appended after the given
// line offset to fn until ctx is cancelled. Consumers get woken by
// filesystem notifications rather than polling on an interval. Returns
// the offset a later FollowEvents should resume from.
func (h *Hub) FollowEvents(ctx context.Context, sinceLine int, fn func(eventlog.StoredEvent)) (int, error) {
	return h.events.Follow(ctx, sinceLine, fn)
}

// Store returns the durable state store.
func (h *Hub) Store() *statestore.Store { return h.store }

// Limiter returns the per-tier admission limiter.
func (h *Hub) Limiter() *concurrency.Limiter { return h.limiter }

// Start acquires the coordinator lock on the state directory and begins
// the periodic loops. Returns an error if the hub is already started or
// another process holds the directory.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return errors.New("coordination: hub already started")
	}

	lock, err := statestore.AcquireLock(h.store.Dir())
	if err != nil {
		return err
	}
	h.lock = lock

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	h.group = g

	g.Go(func() error { return h.sweepLoop(ctx) })
	g.Go(func() error { return h.pollLoop(ctx) })

	h.started = true
	h.log.Info("hub started", "stateDir", h.store.Dir())
	return nil
}

// Stop cancels the loops, flushes pending notifications and releases
// the coordinator lock. It is idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	h.cancel()
	err := h.group.Wait()

	h.batcher.Close()
	if h.lock != nil {
		if rerr := h.lock.Release(); rerr != nil && err == nil {
			err = rerr
		}
		h.lock = nil
	}

	h.started = false
	h.log.Info("hub stopped")
	return err
}

// Running reports whether the hub is started.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// sweepLoop runs the requeue, staleness and TTL sweeps plus event log
// rotation on the configured interval.
func (h *Hub) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.settings.Background.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.runSweeps(ctx)
		}
	}
}

func (h *Hub) runSweeps(ctx context.Context) {
	if _, err := h.manager.RequeueSweep(ctx); err != nil {
		h.log.Error("requeue sweep failed", "error", err.Error())
	}
	if stale, err := h.manager.StaleSweep(ctx); err != nil {
		h.log.Error("stale sweep failed", "error", err.Error())
	} else if len(stale) > 0 {
		h.log.Warn("failed stale tasks", "tasks", stale)
	}
	if _, err := h.manager.TTLSweep(); err != nil {
		h.log.Error("ttl sweep failed", "error", err.Error())
	}
	if rotated, err := h.events.RotateIfNeeded(); err != nil {
		h.log.Error("event log rotation failed", "error", err.Error())
	} else if rotated {
		h.log.Info("event log rotated")
	}
}

// pollLoop feeds running tasks' activity counters into the manager when
// the launcher can report them.
func (h *Hub) pollLoop(ctx context.Context) error {
	prober, ok := h.launcher.(launcher.ActivityProber)
	if !ok {
		// Backend reports no activity; stability must come from
		// explicit completion calls or the staleness sweep.
		return nil
	}

	ticker := time.NewTicker(h.settings.Stability.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.pollRunning(ctx, prober)
		}
	}
}

func (h *Hub) pollRunning(ctx context.Context, prober launcher.ActivityProber) {
	for _, t := range h.manager.List() {
		if t.Status != background.StatusRunning || t.SessionID == "" {
			continue
		}
		count, err := prober.ActivityCount(ctx, t.SessionID)
		if err != nil {
			h.log.Debug("activity probe failed", "task", t.ID, "error", err.Error())
			continue
		}
		if err := h.manager.PollProgress(ctx, t.ID, count); err != nil {
			h.log.Error("progress poll failed", "task", t.ID, "error", err.Error())
		}
	}
}
