package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("default config should validate, got: %v", ValidationErrors(errs))
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Tiers.Limits["fast"] != 5 {
		t.Errorf("expected fast tier limit 5, got %d", cfg.Tiers.Limits["fast"])
	}
	if cfg.Tiers.Limits["deep"] != 2 {
		t.Errorf("expected deep tier limit 2, got %d", cfg.Tiers.Limits["deep"])
	}
	if cfg.Stability.StableThreshold != 3 {
		t.Errorf("expected stable threshold 3, got %d", cfg.Stability.StableThreshold)
	}
	if cfg.Notifications.MaxBatch != 5 {
		t.Errorf("expected max batch 5, got %d", cfg.Notifications.MaxBatch)
	}
	if cfg.Modes.StaleAfterMinutes != 60 {
		t.Errorf("expected mode staleness 60m, got %d", cfg.Modes.StaleAfterMinutes)
	}
	if cfg.Background.StaleTimeoutSeconds != 180 {
		t.Errorf("expected stale timeout 180s, got %d", cfg.Background.StaleTimeoutSeconds)
	}
	if cfg.Checkpoint.MaxCheckpoints != 10 {
		t.Errorf("expected 10 retained checkpoints, got %d", cfg.Checkpoint.MaxCheckpoints)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "zero tier limit",
			mutate: func(c *Config) { c.Tiers.Limits["fast"] = 0 },
			field:  "tiers.limits.fast",
		},
		{
			name:   "unknown default tier",
			mutate: func(c *Config) { c.Tiers.DefaultTier = "turbo" },
			field:  "tiers.default_tier",
		},
		{
			name:   "no tiers",
			mutate: func(c *Config) { c.Tiers.Limits = nil },
			field:  "tiers.limits",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			field:  "logging.level",
		},
		{
			name:   "zero stable threshold",
			mutate: func(c *Config) { c.Stability.StableThreshold = 0 },
			field:  "stability.stable_threshold",
		},
		{
			name:   "zero notification window",
			mutate: func(c *Config) { c.Notifications.WindowMs = 0 },
			field:  "notifications.window_ms",
		},
		{
			name:   "zero rotation threshold",
			mutate: func(c *Config) { c.EventLog.RotateAfterLines = 0 },
			field:  "event_log.rotate_after_lines",
		},
		{
			name:   "zero mode staleness",
			mutate: func(c *Config) { c.Modes.StaleAfterMinutes = 0 },
			field:  "modes.stale_after_minutes",
		},
		{
			name:   "zero stale timeout",
			mutate: func(c *Config) { c.Background.StaleTimeoutSeconds = 0 },
			field:  "background.stale_timeout_seconds",
		},
		{
			name:   "zero checkpoint retention",
			mutate: func(c *Config) { c.Checkpoint.MaxCheckpoints = 0 },
			field:  "checkpoint.max_checkpoints",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %s, got: %v", tt.field, ValidationErrors(errs))
			}
		})
	}
}

func TestResolveStateDirDefault(t *testing.T) {
	s := StateConfig{}
	got := s.ResolveStateDir("/work/project")
	want := filepath.Join("/work/project", ".swarmgate", "state")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestResolveStateDirExplicitRelative(t *testing.T) {
	s := StateConfig{Dir: "coord-state"}
	got := s.ResolveStateDir("/work/project")
	want := filepath.Join("/work/project", "coord-state")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestResolveStateDirExplicitAbsolute(t *testing.T) {
	s := StateConfig{Dir: "/var/lib/swarmgate"}
	if got := s.ResolveStateDir("/work/project"); got != "/var/lib/swarmgate" {
		t.Errorf("expected absolute dir kept, got %s", got)
	}
}

func TestResolveStateDirGlobal(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	s := StateConfig{Global: true}
	got := s.ResolveStateDir("/work/project")
	want := filepath.Join("/tmp/xdg", "swarmgate", "state")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
	single := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if single.Error() != single[0].Error() {
		t.Errorf("single error should render directly")
	}
}
