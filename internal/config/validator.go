package config

import (
	"fmt"
	"net"
	"slices"
	"sort"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "poller.active_interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
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

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Upper bounds that catch unit mistakes (seconds typed as milliseconds and
// the reverse).
const (
	minPollIntervalMs = 10
	maxIntervalMs     = 24 * 60 * 60 * 1000
	maxOutputBuffer   = 16 * 1024 * 1024
	maxConcurrency    = 256
)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePoller()...)
	errors = append(errors, c.validateHealth()...)
	errors = append(errors, c.validateStuck()...)
	errors = append(errors, c.validateGateway()...)
	errors = append(errors, c.validateHistory()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateStatus()...)

	return errors
}

// checkInterval validates a millisecond interval against [min, maxIntervalMs].
func checkInterval(field string, ms, min int) []ValidationError {
	if ms < min {
		msg := "must be positive"
		if min > 1 {
			msg = fmt.Sprintf("must be at least %dms", min)
		}
		return []ValidationError{{Field: field, Value: ms, Message: msg}}
	}
	if ms > maxIntervalMs {
		return []ValidationError{{
			Field:   field,
			Value:   ms,
			Message: fmt.Sprintf("exceeds maximum of %dms (24h)", maxIntervalMs),
		}}
	}
	return nil
}

func checkPositive(field string, n int) []ValidationError {
	if n <= 0 {
		return []ValidationError{{Field: field, Value: n, Message: "must be positive"}}
	}
	return nil
}

// validatePoller validates the PollerConfig
func (c *Config) validatePoller() []ValidationError {
	var errors []ValidationError
	p := c.Poller

	errors = append(errors, checkInterval("poller.active_interval_ms", p.ActiveIntervalMs, minPollIntervalMs)...)
	errors = append(errors, checkInterval("poller.idle_interval_ms", p.IdleIntervalMs, minPollIntervalMs)...)
	errors = append(errors, checkInterval("poller.activity_timeout_ms", p.ActivityTimeoutMs, 1)...)
	errors = append(errors, checkPositive("poller.max_consecutive_errors", p.MaxConsecutiveErrors)...)
	errors = append(errors, checkPositive("poller.error_log_every", p.ErrorLogEvery)...)

	if p.IdleIntervalMs > 0 && p.ActiveIntervalMs > p.IdleIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "poller.active_interval_ms",
			Value:   p.ActiveIntervalMs,
			Message: fmt.Sprintf("must not exceed poller.idle_interval_ms (%d)", p.IdleIntervalMs),
		})
	}

	if p.OutputBufferSize < 1024 {
		errors = append(errors, ValidationError{
			Field:   "poller.output_buffer_size",
			Value:   p.OutputBufferSize,
			Message: "must be at least 1024 bytes",
		})
	} else if p.OutputBufferSize > maxOutputBuffer {
		errors = append(errors, ValidationError{
			Field:   "poller.output_buffer_size",
			Value:   p.OutputBufferSize,
			Message: fmt.Sprintf("exceeds maximum of %d bytes", maxOutputBuffer),
		})
	}

	return errors
}

// validateHealth validates the HealthConfig
func (c *Config) validateHealth() []ValidationError {
	var errors []ValidationError
	h := c.Health

	errors = append(errors, checkInterval("health.check_interval_ms", h.CheckIntervalMs, 1)...)
	errors = append(errors, checkInterval("health.daemon_ping_interval_ms", h.DaemonPingIntervalMs, 1)...)
	errors = append(errors, checkInterval("health.stale_threshold_ms", h.StaleThresholdMs, 1)...)

	if h.ProbeConcurrency <= 0 || h.ProbeConcurrency > maxConcurrency {
		errors = append(errors, ValidationError{
			Field:   "health.probe_concurrency",
			Value:   h.ProbeConcurrency,
			Message: fmt.Sprintf("must be between 1 and %d", maxConcurrency),
		})
	}

	return errors
}

// validateStuck validates the StuckConfig including per-role overrides
func (c *Config) validateStuck() []ValidationError {
	var errors []ValidationError
	s := c.Stuck

	errors = append(errors, checkInterval("stuck.check_interval_ms", s.CheckIntervalMs, 1)...)
	errors = append(errors, checkInterval("stuck.bypass_prompt_limit_ms", s.BypassPromptLimitMs, 1)...)

	// A zero cooldown notifies on every stuck cycle, which is allowed.
	if s.NotificationCooldownMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "stuck.notification_cooldown_ms",
			Value:   s.NotificationCooldownMs,
			Message: "must be non-negative",
		})
	}

	d := s.Defaults
	errors = append(errors, checkInterval("stuck.defaults.max_no_output_ms", d.MaxNoOutputMs, 1)...)
	errors = append(errors, checkInterval("stuck.defaults.max_needs_input_ms", d.MaxNeedsInputMs, 1)...)
	errors = append(errors, checkInterval("stuck.defaults.pattern_window_ms", d.PatternWindowMs, 1)...)
	errors = append(errors, checkInterval("stuck.defaults.no_progress_timeout_ms", d.NoProgressTimeoutMs, 1)...)
	errors = append(errors, checkRepeatThreshold("stuck.defaults.pattern_repeat_threshold", d.PatternRepeatThreshold)...)

	roles := make([]string, 0, len(s.Roles))
	for role := range s.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		o := s.Roles[role]
		prefix := "stuck.roles." + role
		if strings.TrimSpace(role) == "" {
			errors = append(errors, ValidationError{
				Field:   "stuck.roles",
				Value:   role,
				Message: "role name cannot be empty",
			})
			continue
		}
		for _, f := range []struct {
			name string
			ms   *int
		}{
			{"max_no_output_ms", o.MaxNoOutputMs},
			{"max_needs_input_ms", o.MaxNeedsInputMs},
			{"pattern_window_ms", o.PatternWindowMs},
			{"no_progress_timeout_ms", o.NoProgressTimeoutMs},
		} {
			if f.ms != nil {
				errors = append(errors, checkInterval(prefix+"."+f.name, *f.ms, 1)...)
			}
		}
		if o.PatternRepeatThreshold != nil {
			errors = append(errors, checkRepeatThreshold(prefix+".pattern_repeat_threshold", *o.PatternRepeatThreshold)...)
		}
	}

	return errors
}

// checkRepeatThreshold bounds the repeat count by the rolling window of
// chunks the detector keeps.
func checkRepeatThreshold(field string, n int) []ValidationError {
	const minRepeat, maxRepeat = 2, 10
	if n < minRepeat || n > maxRepeat {
		return []ValidationError{{
			Field:   field,
			Value:   n,
			Message: fmt.Sprintf("must be between %d and %d", minRepeat, maxRepeat),
		}}
	}
	return nil
}

// validateGateway validates the GatewayConfig
func (c *Config) validateGateway() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Gateway.Socket) == "" {
		errors = append(errors, ValidationError{
			Field:   "gateway.socket",
			Value:   c.Gateway.Socket,
			Message: "cannot be empty",
		})
	} else if strings.ContainsAny(c.Gateway.Socket, "/ \t") {
		errors = append(errors, ValidationError{
			Field:   "gateway.socket",
			Value:   c.Gateway.Socket,
			Message: "must be a socket name, not a path",
		})
	}

	errors = append(errors, checkInterval("gateway.capture_timeout_ms", c.Gateway.CaptureTimeoutMs, 1)...)

	return errors
}

// validateHistory validates the HistoryConfig
func (c *Config) validateHistory() []ValidationError {
	var errors []ValidationError

	if c.History.KeepPerSession < 0 {
		errors = append(errors, ValidationError{
			Field:   "history.keep_per_session",
			Value:   c.History.KeepPerSession,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateStatus validates the StatusConfig
func (c *Config) validateStatus() []ValidationError {
	if c.Status.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Status.Listen); err != nil {
		return []ValidationError{{
			Field:   "status.listen",
			Value:   c.Status.Listen,
			Message: "must be host:port",
		}}
	}
	return nil
}
