package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// FLEETWATCH_POLLER_ACTIVE_INTERVAL_MS.
const EnvPrefix = "FLEETWATCH"

// Config represents the complete fleetwatch configuration
type Config struct {
	Poller  PollerConfig  `mapstructure:"poller"`
	Health  HealthConfig  `mapstructure:"health"`
	Stuck   StuckConfig   `mapstructure:"stuck"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
	Status  StatusConfig  `mapstructure:"status"`
}

// PollerConfig controls the adaptive output poller
type PollerConfig struct {
	// ActiveIntervalMs is the poll interval while a session produces output
	ActiveIntervalMs int `mapstructure:"active_interval_ms"`
	// IdleIntervalMs is the poll interval once a session has been quiet for ActivityTimeoutMs
	IdleIntervalMs int `mapstructure:"idle_interval_ms"`
	// ActivityTimeoutMs is how long without output before switching to the idle interval
	ActivityTimeoutMs int `mapstructure:"activity_timeout_ms"`
	// MaxConsecutiveErrors stops polling a session after this many failed fetches in a row
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors"`
	// ErrorLogEvery logs the first failure and then only every Nth
	ErrorLogEvery int `mapstructure:"error_log_every"`
	// OutputBufferSize is the size of each session's display buffer in bytes
	OutputBufferSize int `mapstructure:"output_buffer_size"`
}

// HealthConfig controls the health monitor
type HealthConfig struct {
	CheckIntervalMs      int `mapstructure:"check_interval_ms"`
	DaemonPingIntervalMs int `mapstructure:"daemon_ping_interval_ms"`
	// StaleThresholdMs is how long without activity before a session is reported stale
	StaleThresholdMs int `mapstructure:"stale_threshold_ms"`
	// ProbeConcurrency bounds parallel session existence probes
	ProbeConcurrency int `mapstructure:"probe_concurrency"`
}

// StuckConfig controls the stuck-agent detector
type StuckConfig struct {
	CheckIntervalMs        int `mapstructure:"check_interval_ms"`
	NotificationCooldownMs int `mapstructure:"notification_cooldown_ms"`
	// BypassPromptLimitMs is how long a session may sit at the bypass
	// permissions prompt before it is reported with high confidence
	BypassPromptLimitMs int `mapstructure:"bypass_prompt_limit_ms"`
	// Defaults apply to every role without an override
	Defaults ThresholdsConfig `mapstructure:"defaults"`
	// Roles maps a role name to the thresholds it overrides. Entries replace
	// the built-in overrides for the same role.
	Roles map[string]RoleOverrideConfig `mapstructure:"roles"`
}

// ThresholdsConfig is a complete set of stuck thresholds
type ThresholdsConfig struct {
	MaxNoOutputMs          int `mapstructure:"max_no_output_ms"`
	MaxNeedsInputMs        int `mapstructure:"max_needs_input_ms"`
	PatternRepeatThreshold int `mapstructure:"pattern_repeat_threshold"`
	PatternWindowMs        int `mapstructure:"pattern_window_ms"`
	NoProgressTimeoutMs    int `mapstructure:"no_progress_timeout_ms"`
}

// RoleOverrideConfig overrides the thresholds that are set; nil fields keep
// the defaults
type RoleOverrideConfig struct {
	MaxNoOutputMs          *int `mapstructure:"max_no_output_ms"`
	MaxNeedsInputMs        *int `mapstructure:"max_needs_input_ms"`
	PatternRepeatThreshold *int `mapstructure:"pattern_repeat_threshold"`
	PatternWindowMs        *int `mapstructure:"pattern_window_ms"`
	NoProgressTimeoutMs    *int `mapstructure:"no_progress_timeout_ms"`
}

// GatewayConfig controls the tmux-backed session gateway
type GatewayConfig struct {
	// Socket is the tmux socket name (tmux -L)
	Socket string `mapstructure:"socket"`
	// SessionPrefix limits `watch` to tmux sessions whose names start with it
	// (empty means all sessions)
	SessionPrefix string `mapstructure:"session_prefix"`
	// CaptureTimeoutMs bounds a single output fetch
	CaptureTimeoutMs int `mapstructure:"capture_timeout_ms"`
}

// HistoryConfig controls the output history cache
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is the sqlite database file (default: <config dir>/history.db)
	Path string `mapstructure:"path"`
	// KeepPerSession is how many chunks to retain per session (0 = unbounded)
	KeepPerSession int `mapstructure:"keep_per_session"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where fleetwatch.log is written (empty means stderr)
	Dir string `mapstructure:"dir"`
}

// StatusConfig controls the read-only HTTP status endpoint
type StatusConfig struct {
	// Listen is the address to serve on, e.g. "127.0.0.1:7420" (empty disables it)
	Listen string `mapstructure:"listen"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Poller: PollerConfig{
			ActiveIntervalMs:     50,
			IdleIntervalMs:       10000,
			ActivityTimeoutMs:    30000,
			MaxConsecutiveErrors: 5,
			ErrorLogEvery:        10,
			OutputBufferSize:     64 * 1024,
		},
		Health: HealthConfig{
			CheckIntervalMs:      30000,
			DaemonPingIntervalMs: 10000,
			StaleThresholdMs:     15 * 60 * 1000,
			ProbeConcurrency:     8,
		},
		Stuck: StuckConfig{
			CheckIntervalMs:        60000,
			NotificationCooldownMs: 5 * 60 * 1000,
			BypassPromptLimitMs:    60000,
			Defaults: ThresholdsConfig{
				MaxNoOutputMs:          15 * 60 * 1000,
				MaxNeedsInputMs:        10 * 60 * 1000,
				PatternRepeatThreshold: 3,
				PatternWindowMs:        30000,
				NoProgressTimeoutMs:    10 * 60 * 1000,
			},
			Roles: map[string]RoleOverrideConfig{},
		},
		Gateway: GatewayConfig{
			Socket:           "fleetwatch",
			SessionPrefix:    "",
			CaptureTimeoutMs: 10000,
		},
		History: HistoryConfig{
			Enabled:        false,
			Path:           "",
			KeepPerSession: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
		},
		Status: StatusConfig{
			Listen: "",
		},
	}
}

// Ms converts a millisecond setting to a time.Duration.
func Ms(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SetDefaults registers default values with viper and enables environment
// overrides
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Poller defaults
	v.SetDefault("poller.active_interval_ms", defaults.Poller.ActiveIntervalMs)
	v.SetDefault("poller.idle_interval_ms", defaults.Poller.IdleIntervalMs)
	v.SetDefault("poller.activity_timeout_ms", defaults.Poller.ActivityTimeoutMs)
	v.SetDefault("poller.max_consecutive_errors", defaults.Poller.MaxConsecutiveErrors)
	v.SetDefault("poller.error_log_every", defaults.Poller.ErrorLogEvery)
	v.SetDefault("poller.output_buffer_size", defaults.Poller.OutputBufferSize)

	// Health defaults
	v.SetDefault("health.check_interval_ms", defaults.Health.CheckIntervalMs)
	v.SetDefault("health.daemon_ping_interval_ms", defaults.Health.DaemonPingIntervalMs)
	v.SetDefault("health.stale_threshold_ms", defaults.Health.StaleThresholdMs)
	v.SetDefault("health.probe_concurrency", defaults.Health.ProbeConcurrency)

	// Stuck defaults
	v.SetDefault("stuck.check_interval_ms", defaults.Stuck.CheckIntervalMs)
	v.SetDefault("stuck.notification_cooldown_ms", defaults.Stuck.NotificationCooldownMs)
	v.SetDefault("stuck.bypass_prompt_limit_ms", defaults.Stuck.BypassPromptLimitMs)
	v.SetDefault("stuck.defaults.max_no_output_ms", defaults.Stuck.Defaults.MaxNoOutputMs)
	v.SetDefault("stuck.defaults.max_needs_input_ms", defaults.Stuck.Defaults.MaxNeedsInputMs)
	v.SetDefault("stuck.defaults.pattern_repeat_threshold", defaults.Stuck.Defaults.PatternRepeatThreshold)
	v.SetDefault("stuck.defaults.pattern_window_ms", defaults.Stuck.Defaults.PatternWindowMs)
	v.SetDefault("stuck.defaults.no_progress_timeout_ms", defaults.Stuck.Defaults.NoProgressTimeoutMs)

	// Gateway defaults
	v.SetDefault("gateway.socket", defaults.Gateway.Socket)
	v.SetDefault("gateway.session_prefix", defaults.Gateway.SessionPrefix)
	v.SetDefault("gateway.capture_timeout_ms", defaults.Gateway.CaptureTimeoutMs)

	// History defaults
	v.SetDefault("history.enabled", defaults.History.Enabled)
	v.SetDefault("history.path", defaults.History.Path)
	v.SetDefault("history.keep_per_session", defaults.History.KeepPerSession)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)

	// Status defaults
	v.SetDefault("status.listen", defaults.Status.Listen)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return decode(viper.GetViper())
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Stuck.Roles == nil {
		cfg.Stuck.Roles = map[string]RoleOverrideConfig{}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// Watch reloads the configuration whenever the config file changes and hands
// every valid result to onChange. Invalid edits are reported to onError and
// otherwise ignored.
func Watch(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fleetwatch")
	}
	// Fall back to ~/.config/fleetwatch
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fleetwatch"
	}
	return filepath.Join(home, ".config", "fleetwatch")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// HistoryPath returns the history database path, defaulting to a file in
// the config directory.
func (h *HistoryConfig) HistoryPath(fileName string) string {
	if h.Path != "" {
		return h.Path
	}
	return filepath.Join(ConfigDir(), fileName)
}
