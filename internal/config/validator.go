package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "background.stale_timeout_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateTiers()...)
	errors = append(errors, c.validateStability()...)
	errors = append(errors, c.validateNotifications()...)
	errors = append(errors, c.validateEventLog()...)
	errors = append(errors, c.validateModes()...)
	errors = append(errors, c.validateBackground()...)
	errors = append(errors, c.validateCheckpoint()...)

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be >= 0 (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be >= 0",
		})
	}

	return errors
}

func (c *Config) validateTiers() []ValidationError {
	var errors []ValidationError

	if len(c.Tiers.Limits) == 0 {
		errors = append(errors, ValidationError{
			Field:   "tiers.limits",
			Value:   c.Tiers.Limits,
			Message: "at least one tier must be configured",
		})
		return errors
	}
	for name, limit := range c.Tiers.Limits {
		if limit < 1 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("tiers.limits.%s", name),
				Value:   limit,
				Message: "tier limit must be >= 1",
			})
		}
	}
	if c.Tiers.DefaultTier == "" {
		errors = append(errors, ValidationError{
			Field:   "tiers.default_tier",
			Value:   c.Tiers.DefaultTier,
			Message: "must not be empty",
		})
	} else if _, ok := c.Tiers.Limits[c.Tiers.DefaultTier]; !ok {
		errors = append(errors, ValidationError{
			Field:   "tiers.default_tier",
			Value:   c.Tiers.DefaultTier,
			Message: "must name a configured tier",
		})
	}

	return errors
}

func (c *Config) validateStability() []ValidationError {
	var errors []ValidationError

	if c.Stability.StableThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "stability.stable_threshold",
			Value:   c.Stability.StableThreshold,
			Message: "must be >= 1",
		})
	}
	if c.Stability.ActivationDelaySeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "stability.activation_delay_seconds",
			Value:   c.Stability.ActivationDelaySeconds,
			Message: "must be >= 0",
		})
	}
	if c.Stability.PollIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "stability.poll_interval_seconds",
			Value:   c.Stability.PollIntervalSeconds,
			Message: "must be >= 1",
		})
	}

	return errors
}

func (c *Config) validateNotifications() []ValidationError {
	var errors []ValidationError

	if c.Notifications.WindowMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "notifications.window_ms",
			Value:   c.Notifications.WindowMs,
			Message: "must be >= 1",
		})
	}
	if c.Notifications.MaxBatch < 1 {
		errors = append(errors, ValidationError{
			Field:   "notifications.max_batch",
			Value:   c.Notifications.MaxBatch,
			Message: "must be >= 1",
		})
	}

	return errors
}

func (c *Config) validateEventLog() []ValidationError {
	var errors []ValidationError

	if c.EventLog.RotateAfterLines < 1 {
		errors = append(errors, ValidationError{
			Field:   "event_log.rotate_after_lines",
			Value:   c.EventLog.RotateAfterLines,
			Message: "must be >= 1",
		})
	}

	return errors
}

func (c *Config) validateModes() []ValidationError {
	var errors []ValidationError

	if c.Modes.StaleAfterMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "modes.stale_after_minutes",
			Value:   c.Modes.StaleAfterMinutes,
			Message: "must be >= 1",
		})
	}

	return errors
}

func (c *Config) validateBackground() []ValidationError {
	var errors []ValidationError

	if c.Background.MinRuntimeSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "background.min_runtime_seconds",
			Value:   c.Background.MinRuntimeSeconds,
			Message: "must be >= 0",
		})
	}
	if c.Background.StaleTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "background.stale_timeout_seconds",
			Value:   c.Background.StaleTimeoutSeconds,
			Message: "must be >= 1",
		})
	}
	if c.Background.RetentionMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "background.retention_minutes",
			Value:   c.Background.RetentionMinutes,
			Message: "must be >= 1",
		})
	}
	if c.Background.SweepIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "background.sweep_interval_seconds",
			Value:   c.Background.SweepIntervalSeconds,
			Message: "must be >= 1",
		})
	}

	return errors
}

func (c *Config) validateCheckpoint() []ValidationError {
	var errors []ValidationError

	if c.Checkpoint.MaxCheckpoints < 1 {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.max_checkpoints",
			Value:   c.Checkpoint.MaxCheckpoints,
			Message: "must be >= 1",
		})
	}

	return errors
}
