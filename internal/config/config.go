// Package config defines the coordinator configuration, loaded via viper
// from config.yaml with defaults registered for every key. Thresholds that
// the coordination layer relies on (staleness windows, tier limits, poll
// intervals) are deliberately configuration rather than constants: the
// defaults are starting points, not tuned SLAs.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete coordinator configuration.
type Config struct {
	State         StateConfig         `mapstructure:"state"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Tiers         TiersConfig         `mapstructure:"tiers"`
	Stability     StabilityConfig     `mapstructure:"stability"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	EventLog      EventLogConfig      `mapstructure:"event_log"`
	Modes         ModesConfig         `mapstructure:"modes"`
	Background    BackgroundConfig    `mapstructure:"background"`
	Ownership     OwnershipConfig     `mapstructure:"ownership"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
}

// StateConfig controls where durable state documents are stored.
type StateConfig struct {
	// Dir is the state directory. If empty, defaults to ".swarmgate/state"
	// relative to the project root. Supports ~ for home expansion.
	Dir string `mapstructure:"dir"`
	// Global stores state under the user config directory instead of the
	// project when true.
	Global bool `mapstructure:"global"`
}

// LoggingConfig controls structured debug logging.
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true).
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info").
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10).
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3).
	MaxBackups int `mapstructure:"max_backups"`
}

// TiersConfig maps capacity tier names to their concurrency ceilings.
type TiersConfig struct {
	// Limits maps tier name to the maximum simultaneous work items on
	// that tier (default: fast=5, deep=2).
	Limits map[string]int `mapstructure:"limits"`
	// DefaultTier is the tier assigned to work items that do not specify
	// one (default: "fast").
	DefaultTier string `mapstructure:"default_tier"`
}

// StabilityConfig controls idle-based completion inference.
type StabilityConfig struct {
	// StableThreshold is the number of consecutive unchanged activity
	// polls before a work item is considered stable (default: 3).
	StableThreshold int `mapstructure:"stable_threshold"`
	// ActivationDelaySeconds is the minimum elapsed time since start
	// before stability may be declared, preventing trivial no-op items
	// from completing instantly (default: 10).
	ActivationDelaySeconds int `mapstructure:"activation_delay_seconds"`
	// PollIntervalSeconds is how often running items are polled (default: 3).
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// NotificationsConfig controls completion notification batching.
type NotificationsConfig struct {
	// WindowMs is the time window after the first buffered completion
	// before a flush (default: 1000).
	WindowMs int `mapstructure:"window_ms"`
	// MaxBatch flushes immediately once this many completions are
	// buffered (default: 5).
	MaxBatch int `mapstructure:"max_batch"`
}

// EventLogConfig controls the append-only event log.
type EventLogConfig struct {
	// RotateAfterLines rotates the log once its line count exceeds this
	// threshold (default: 5000).
	RotateAfterLines int `mapstructure:"rotate_after_lines"`
}

// ModesConfig controls the exclusive mode registry.
type ModesConfig struct {
	// StaleAfterMinutes treats a mode record older than this as inactive
	// regardless of its stored flag, recovering from crashed holders
	// (default: 60).
	StaleAfterMinutes int `mapstructure:"stale_after_minutes"`
}

// BackgroundConfig controls the background task manager.
type BackgroundConfig struct {
	// MinRuntimeSeconds is how long a task must have been running before
	// the staleness sweep may cancel it (default: 30).
	MinRuntimeSeconds int `mapstructure:"min_runtime_seconds"`
	// StaleTimeoutSeconds cancels running tasks whose last progress
	// update is older than this (default: 180).
	StaleTimeoutSeconds int `mapstructure:"stale_timeout_seconds"`
	// RetentionMinutes evicts terminal tasks older than this from the
	// state document (default: 60).
	RetentionMinutes int `mapstructure:"retention_minutes"`
	// SweepIntervalSeconds is how often the stale and TTL sweeps run
	// (default: 5).
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// OwnershipConfig controls the file ownership coordinator.
type OwnershipConfig struct {
	// SharedPaths are coordinator-owned paths that no worker may claim.
	// Defaults cover common manifest and lockfiles.
	SharedPaths []string `mapstructure:"shared_paths"`
}

// CheckpointConfig controls checkpoint creation and pruning.
type CheckpointConfig struct {
	// MaxCheckpoints is the number of checkpoint records retained in the
	// index; older records are pruned (default: 10).
	MaxCheckpoints int `mapstructure:"max_checkpoints"`
}

// ActivationDelay returns the stability activation delay as a Duration.
func (c *StabilityConfig) ActivationDelay() time.Duration {
	return time.Duration(c.ActivationDelaySeconds) * time.Second
}

// PollInterval returns the stability poll interval as a Duration.
func (c *StabilityConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Window returns the notification batching window as a Duration.
func (c *NotificationsConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// StaleAfter returns the mode staleness threshold as a Duration.
func (c *ModesConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// MinRuntime returns the minimum runtime before staleness as a Duration.
func (c *BackgroundConfig) MinRuntime() time.Duration {
	return time.Duration(c.MinRuntimeSeconds) * time.Second
}

// StaleTimeout returns the progress staleness timeout as a Duration.
func (c *BackgroundConfig) StaleTimeout() time.Duration {
	return time.Duration(c.StaleTimeoutSeconds) * time.Second
}

// Retention returns the terminal-task retention window as a Duration.
func (c *BackgroundConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// SweepInterval returns the sweep loop interval as a Duration.
func (c *BackgroundConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		State: StateConfig{
			Dir:    "",
			Global: false,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Tiers: TiersConfig{
			Limits: map[string]int{
				"fast": 5,
				"deep": 2,
			},
			DefaultTier: "fast",
		},
		Stability: StabilityConfig{
			StableThreshold:        3,
			ActivationDelaySeconds: 10,
			PollIntervalSeconds:    3,
		},
		Notifications: NotificationsConfig{
			WindowMs: 1000,
			MaxBatch: 5,
		},
		EventLog: EventLogConfig{
			RotateAfterLines: 5000,
		},
		Modes: ModesConfig{
			StaleAfterMinutes: 60,
		},
		Background: BackgroundConfig{
			MinRuntimeSeconds:    30,
			StaleTimeoutSeconds:  180,
			RetentionMinutes:     60,
			SweepIntervalSeconds: 5,
		},
		Ownership: OwnershipConfig{
			SharedPaths: []string{
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
			},
		},
		Checkpoint: CheckpointConfig{
			MaxCheckpoints: 10,
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	// State defaults
	viper.SetDefault("state.dir", defaults.State.Dir)
	viper.SetDefault("state.global", defaults.State.Global)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Tier defaults
	viper.SetDefault("tiers.limits", defaults.Tiers.Limits)
	viper.SetDefault("tiers.default_tier", defaults.Tiers.DefaultTier)

	// Stability defaults
	viper.SetDefault("stability.stable_threshold", defaults.Stability.StableThreshold)
	viper.SetDefault("stability.activation_delay_seconds", defaults.Stability.ActivationDelaySeconds)
	viper.SetDefault("stability.poll_interval_seconds", defaults.Stability.PollIntervalSeconds)

	// Notification defaults
	viper.SetDefault("notifications.window_ms", defaults.Notifications.WindowMs)
	viper.SetDefault("notifications.max_batch", defaults.Notifications.MaxBatch)

	// Event log defaults
	viper.SetDefault("event_log.rotate_after_lines", defaults.EventLog.RotateAfterLines)

	// Mode defaults
	viper.SetDefault("modes.stale_after_minutes", defaults.Modes.StaleAfterMinutes)

	// Background defaults
	viper.SetDefault("background.min_runtime_seconds", defaults.Background.MinRuntimeSeconds)
	viper.SetDefault("background.stale_timeout_seconds", defaults.Background.StaleTimeoutSeconds)
	viper.SetDefault("background.retention_minutes", defaults.Background.RetentionMinutes)
	viper.SetDefault("background.sweep_interval_seconds", defaults.Background.SweepIntervalSeconds)

	// Ownership defaults
	viper.SetDefault("ownership.shared_paths", defaults.Ownership.SharedPaths)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.max_checkpoints", defaults.Checkpoint.MaxCheckpoints)
}

// Load reads the configuration from viper into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "swarmgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".swarmgate"
	}
	return filepath.Join(home, ".config", "swarmgate")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolveStateDir returns the resolved state directory for a project.
// Precedence: explicit Dir (with ~ expansion, relative paths resolved
// against projectDir), then the user config dir when Global is set, then
// ".swarmgate/state" under the project.
func (s *StateConfig) ResolveStateDir(projectDir string) string {
	if s.Dir != "" {
		path := s.Dir
		if path == "~" {
			if home, err := os.UserHomeDir(); err == nil {
				path = home
			}
		} else if len(path) > 1 && path[:2] == "~/" {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, path[2:])
			}
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectDir, path)
		}
		return path
	}
	if s.Global {
		return filepath.Join(ConfigDir(), "state")
	}
	return filepath.Join(projectDir, ".swarmgate", "state")
}
