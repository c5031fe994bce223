package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("Default().Validate() = %v, want no errors", errs)
	}
}

func intPtr(n int) *int { return &n }

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{
			name:      "active interval below floor",
			modify:    func(c *Config) { c.Poller.ActiveIntervalMs = 5 },
			wantField: "poller.active_interval_ms",
		},
		{
			name: "active interval above idle interval",
			modify: func(c *Config) {
				c.Poller.ActiveIntervalMs = 20000
			},
			wantField: "poller.active_interval_ms",
		},
		{
			name:      "zero error ceiling",
			modify:    func(c *Config) { c.Poller.MaxConsecutiveErrors = 0 },
			wantField: "poller.max_consecutive_errors",
		},
		{
			name:      "tiny output buffer",
			modify:    func(c *Config) { c.Poller.OutputBufferSize = 10 },
			wantField: "poller.output_buffer_size",
		},
		{
			name:      "stale threshold zero",
			modify:    func(c *Config) { c.Health.StaleThresholdMs = 0 },
			wantField: "health.stale_threshold_ms",
		},
		{
			name:      "probe concurrency too high",
			modify:    func(c *Config) { c.Health.ProbeConcurrency = 1000 },
			wantField: "health.probe_concurrency",
		},
		{
			name:      "negative cooldown",
			modify:    func(c *Config) { c.Stuck.NotificationCooldownMs = -1 },
			wantField: "stuck.notification_cooldown_ms",
		},
		{
			name:      "repeat threshold one",
			modify:    func(c *Config) { c.Stuck.Defaults.PatternRepeatThreshold = 1 },
			wantField: "stuck.defaults.pattern_repeat_threshold",
		},
		{
			name: "role override negative",
			modify: func(c *Config) {
				c.Stuck.Roles["builder"] = RoleOverrideConfig{MaxNoOutputMs: intPtr(-5)}
			},
			wantField: "stuck.roles.builder.max_no_output_ms",
		},
		{
			name: "role repeat threshold beyond window",
			modify: func(c *Config) {
				c.Stuck.Roles["tester"] = RoleOverrideConfig{PatternRepeatThreshold: intPtr(11)}
			},
			wantField: "stuck.roles.tester.pattern_repeat_threshold",
		},
		{
			name:      "socket path",
			modify:    func(c *Config) { c.Gateway.Socket = "/tmp/tmux.sock" },
			wantField: "gateway.socket",
		},
		{
			name:      "empty socket",
			modify:    func(c *Config) { c.Gateway.Socket = "" },
			wantField: "gateway.socket",
		},
		{
			name:      "negative history retention",
			modify:    func(c *Config) { c.History.KeepPerSession = -1 },
			wantField: "history.keep_per_session",
		},
		{
			name:      "bad log level",
			modify:    func(c *Config) { c.Logging.Level = "verbose" },
			wantField: "logging.level",
		},
		{
			name:      "listen without port",
			modify:    func(c *Config) { c.Status.Listen = "localhost" },
			wantField: "status.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() = %v, want exactly one error", errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_AcceptsEdgeValues(t *testing.T) {
	cfg := Default()
	cfg.Stuck.NotificationCooldownMs = 0
	cfg.History.KeepPerSession = 0
	cfg.Status.Listen = "127.0.0.1:7420"
	cfg.Logging.Level = ""
	cfg.Stuck.Roles["reviewer"] = RoleOverrideConfig{PatternRepeatThreshold: intPtr(2)}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	expected := []string{"debug", "info", "warn", "error"}

	if len(levels) != len(expected) {
		t.Fatalf("ValidLogLevels() length = %d, want %d", len(levels), len(expected))
	}
	for i, l := range expected {
		if levels[i] != l {
			t.Errorf("ValidLogLevels()[%d] = %q, want %q", i, levels[i], l)
		}
	}
}
