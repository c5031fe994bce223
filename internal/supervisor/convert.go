package supervisor

import (
	"github.com/Iron-Ham/fleetwatch/internal/config"
	"github.com/Iron-Ham/fleetwatch/internal/health"
	"github.com/Iron-Ham/fleetwatch/internal/poller"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

// PollerConfig maps the poller section onto poller.Config.
func PollerConfig(c *config.Config) poller.Config {
	return poller.Config{
		ActiveInterval:       config.Ms(c.Poller.ActiveIntervalMs),
		IdleInterval:         config.Ms(c.Poller.IdleIntervalMs),
		ActivityTimeout:      config.Ms(c.Poller.ActivityTimeoutMs),
		MaxConsecutiveErrors: c.Poller.MaxConsecutiveErrors,
		ErrorLogEvery:        c.Poller.ErrorLogEvery,
		FetchTimeout:         config.Ms(c.Gateway.CaptureTimeoutMs),
	}
}

// HealthConfig maps the health section onto health.Config.
func HealthConfig(c *config.Config) health.Config {
	return health.Config{
		CheckInterval:      config.Ms(c.Health.CheckIntervalMs),
		DaemonPingInterval: config.Ms(c.Health.DaemonPingIntervalMs),
		StaleThreshold:     config.Ms(c.Health.StaleThresholdMs),
		ProbeConcurrency:   c.Health.ProbeConcurrency,
	}
}

// StuckConfig maps the stuck section onto stuck.Config.
func StuckConfig(c *config.Config) stuck.Config {
	return stuck.Config{
		CheckInterval:        config.Ms(c.Stuck.CheckIntervalMs),
		NotificationCooldown: config.Ms(c.Stuck.NotificationCooldownMs),
		BypassPromptLimit:    config.Ms(c.Stuck.BypassPromptLimitMs),
	}
}

// ThresholdTable builds the detector's table: configured defaults, the
// built-in role overrides, then configured roles replacing built-ins of the
// same name.
func ThresholdTable(c config.StuckConfig) stuck.ThresholdTable {
	builtin := stuck.DefaultThresholdTable()

	table := stuck.ThresholdTable{
		Default: stuck.Thresholds{
			MaxNoOutput:            config.Ms(c.Defaults.MaxNoOutputMs),
			MaxNeedsInput:          config.Ms(c.Defaults.MaxNeedsInputMs),
			PatternRepeatThreshold: c.Defaults.PatternRepeatThreshold,
			PatternWindow:          config.Ms(c.Defaults.PatternWindowMs),
			NoProgressTimeout:      config.Ms(c.Defaults.NoProgressTimeoutMs),
		},
		Roles: make(map[stuck.Role]stuck.ThresholdOverrides, len(builtin.Roles)+len(c.Roles)),
	}
	for role, o := range builtin.Roles {
		table.Roles[role] = o
	}
	for name, rc := range c.Roles {
		table.Roles[stuck.Role(name)] = overrides(rc)
	}
	return table
}

func overrides(rc config.RoleOverrideConfig) stuck.ThresholdOverrides {
	var o stuck.ThresholdOverrides
	if rc.MaxNoOutputMs != nil {
		o.MaxNoOutput = stuck.Duration(config.Ms(*rc.MaxNoOutputMs))
	}
	if rc.MaxNeedsInputMs != nil {
		o.MaxNeedsInput = stuck.Duration(config.Ms(*rc.MaxNeedsInputMs))
	}
	if rc.PatternRepeatThreshold != nil {
		o.PatternRepeatThreshold = stuck.Int(*rc.PatternRepeatThreshold)
	}
	if rc.PatternWindowMs != nil {
		o.PatternWindow = stuck.Duration(config.Ms(*rc.PatternWindowMs))
	}
	if rc.NoProgressTimeoutMs != nil {
		o.NoProgressTimeout = stuck.Duration(config.Ms(*rc.NoProgressTimeoutMs))
	}
	return o
}
