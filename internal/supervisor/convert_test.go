package supervisor

import (
	"testing"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/config"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

func TestThresholdTable(t *testing.T) {
	c := config.Default().Stuck
	c.Defaults.MaxNoOutputMs = 20 * 60 * 1000
	c.Roles["reviewer"] = config.RoleOverrideConfig{MaxNeedsInputMs: intPtr(120000)}
	c.Roles["docs"] = config.RoleOverrideConfig{NoProgressTimeoutMs: intPtr(300000)}

	table := ThresholdTable(c)

	tests := []struct {
		role stuck.Role
		want stuck.Thresholds
	}{
		{
			role: "",
			want: stuck.Thresholds{
				MaxNoOutput: 20 * time.Minute, MaxNeedsInput: 10 * time.Minute,
				PatternRepeatThreshold: 3, PatternWindow: 30 * time.Second, NoProgressTimeout: 10 * time.Minute,
			},
		},
		{
			// Built-in override kept.
			role: stuck.RoleBuilder,
			want: stuck.Thresholds{
				MaxNoOutput: 30 * time.Minute, MaxNeedsInput: 10 * time.Minute,
				PatternRepeatThreshold: 3, PatternWindow: 30 * time.Second, NoProgressTimeout: 20 * time.Minute,
			},
		},
		{
			// Configured entry replaces the built-in one entirely.
			role: stuck.RoleReviewer,
			want: stuck.Thresholds{
				MaxNoOutput: 20 * time.Minute, MaxNeedsInput: 2 * time.Minute,
				PatternRepeatThreshold: 3, PatternWindow: 30 * time.Second, NoProgressTimeout: 10 * time.Minute,
			},
		},
		{
			role: "docs",
			want: stuck.Thresholds{
				MaxNoOutput: 20 * time.Minute, MaxNeedsInput: 10 * time.Minute,
				PatternRepeatThreshold: 3, PatternWindow: 30 * time.Second, NoProgressTimeout: 5 * time.Minute,
			},
		},
	}

	for _, tt := range tests {
		if got := table.Resolve(tt.role); got != tt.want {
			t.Errorf("Resolve(%q) = %+v, want %+v", tt.role, got, tt.want)
		}
	}
}

func TestPollerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.CaptureTimeoutMs = 2500

	pc := PollerConfig(cfg)
	if pc.ActiveInterval != 50*time.Millisecond {
		t.Errorf("ActiveInterval = %v, want 50ms", pc.ActiveInterval)
	}
	if pc.IdleInterval != 10*time.Second {
		t.Errorf("IdleInterval = %v, want 10s", pc.IdleInterval)
	}
	if pc.FetchTimeout != 2500*time.Millisecond {
		t.Errorf("FetchTimeout = %v, want 2.5s", pc.FetchTimeout)
	}
}
