// Package swarmgate is a file-state-backed coordination layer for
// externally-hosted work items: it tracks and limits background tasks,
// infers their completion from activity polling, arbitrates file
// ownership between parallel workers, enforces exclusive operating
// modes, and checkpoints its own state into git. It never executes the
// work itself; a host supplies a Launcher and this layer does the
// bookkeeping.
package swarmgate

import (
	"swarmgate/internal/config"
	"swarmgate/internal/coordination"
	"swarmgate/internal/eventlog"
	"swarmgate/internal/launcher"
	"swarmgate/internal/logging"
)

// Launcher starts hosted sessions for admitted work items. The host
// application implements it.
type Launcher = launcher.Launcher

// LaunchRequest describes one work item handed to the Launcher.
type LaunchRequest = launcher.Request

// Hub is the assembled coordination layer.
type Hub = coordination.Hub

// StoredEvent is one durable event log record, as delivered by
// Hub.FollowEvents and Poll.
type StoredEvent = eventlog.StoredEvent

// Config tunes the layer's thresholds and intervals.
type Config = config.Config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// Open assembles a Hub for the project directory using the given
// configuration (nil uses defaults). State lives under the resolved
// state directory; structured logs are written next to it when logging
// is enabled.
func Open(projectDir string, lnch Launcher, cfg *Config) (*Hub, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	stateDir := cfg.State.ResolveStateDir(projectDir)

	log := logging.NewDiscard()
	if cfg.Logging.Enabled {
		var err error
		log, err = logging.NewLogger(stateDir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		if err != nil {
			return nil, err
		}
	}

	return coordination.NewHub(coordination.Config{
		StateDir: stateDir,
		Launcher: lnch,
		Settings: cfg,
	}, coordination.WithLogger(log))
}
