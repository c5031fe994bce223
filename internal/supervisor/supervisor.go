// Package supervisor is the composition root of fleetwatch's supervision
// subsystems. It builds one poller, one health monitor and one stuck
// detector around a shared event bus and wires them together:
//
//   - poller activity stamps the health monitor's activity map
//   - poller output feeds the detector's pattern and progress tracking
//   - the detector reads last activity back from the health monitor
//   - health transitions stop and restart polling for missing sessions
//   - a poller that gives up on a session marks it errored in the registry
//   - the detector's screen classifications set registry busy/idle status
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/clock"
	"github.com/Iron-Ham/fleetwatch/internal/config"
	"github.com/Iron-Ham/fleetwatch/internal/display"
	"github.com/Iron-Ham/fleetwatch/internal/event"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
	"github.com/Iron-Ham/fleetwatch/internal/health"
	"github.com/Iron-Ham/fleetwatch/internal/history"
	"github.com/Iron-Ham/fleetwatch/internal/logging"
	"github.com/Iron-Ham/fleetwatch/internal/poller"
	"github.com/Iron-Ham/fleetwatch/internal/registry"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

// Registry is the registry surface the supervisor needs: the read/update
// contract plus membership changes.
type Registry interface {
	registry.Registry
	Add(s registry.Session)
	Remove(id string) bool
}

// Pruner trims stored history. history.SQLite implements it.
type Pruner interface {
	Prune(ctx context.Context, sessionID string, keep int) (int64, error)
}

// forgetter is implemented by sinks that keep per-session buffers.
type forgetter interface {
	Forget(sessionID string)
}

// Options configure a Supervisor. Gateway, Registry and Sink are required.
type Options struct {
	// Config seeds every subsystem. Nil uses config.Default().
	Config *config.Config

	Gateway  gateway.Gateway
	Registry Registry
	Sink     display.Sink

	// History receives polled output. May be nil. When it also implements
	// Pruner and history.keep_per_session is positive, each health check
	// trims tracked sessions to that many chunks.
	History history.Cache

	// Prompts supplies prompt dispatch times to the detector. May be nil.
	Prompts stuck.PromptStatusSource

	Clock  clock.Clock
	Logger *logging.Logger
}

// Supervisor owns the subsystems. It is safe for concurrent use.
type Supervisor struct {
	mu      sync.Mutex
	cfg     config.Config
	running bool
	unsubs  []func()

	bus      *event.Bus
	poller   *poller.Poller
	health   *health.Monitor
	stuck    *stuck.Detector
	registry Registry
	sink     display.Sink
	pruner   Pruner
	logger   *logging.Logger
}

// New builds and wires the subsystems. Nothing runs until Start.
func New(opts Options) *Supervisor {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = opts.Config
	}
	logger := logging.OrNop(opts.Logger)
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	bus := event.NewBus(logger.WithComponent("bus"))

	p := poller.New(PollerConfig(cfg), poller.Deps{
		Gateway: opts.Gateway,
		Sink:    opts.Sink,
		History: opts.History,
		Clock:   clk,
		Logger:  logger,
		Bus:     bus,
	})
	h := health.New(HealthConfig(cfg), health.Deps{
		Gateway:  opts.Gateway,
		Registry: opts.Registry,
		Errors:   p,
		Clock:    clk,
		Logger:   logger,
		Bus:      bus,
	})
	table := ThresholdTable(cfg.Stuck)
	d := stuck.New(StuckConfig(cfg), stuck.Deps{
		Gateway:    opts.Gateway,
		Registry:   opts.Registry,
		Activity:   h,
		Prompts:    opts.Prompts,
		Thresholds: &table,
		Clock:      clk,
		Logger:     logger,
		Bus:        bus,
	})
	// stuck.Config reads a zero cooldown as unset; here it means no throttling.
	d.SetNotificationCooldown(config.Ms(cfg.Stuck.NotificationCooldownMs))

	s := &Supervisor{
		cfg:      *cfg,
		bus:      bus,
		poller:   p,
		health:   h,
		stuck:    d,
		registry: opts.Registry,
		sink:     opts.Sink,
		logger:   logger.WithComponent("supervisor"),
	}
	if pr, ok := opts.History.(Pruner); ok {
		s.pruner = pr
	}
	s.wire()
	return s
}

func (s *Supervisor) wire() {
	s.unsubs = append(s.unsubs,
		s.poller.OnActivity(func(id string, _ time.Time) {
			s.health.RecordActivity(id)
		}),
		s.poller.OnOutput(func(id, text string) {
			s.stuck.RecordOutput(id, text)
		}),
		s.poller.OnError(func(id, msg string) {
			s.logger.Error("session polling abandoned", "session_id", id, "reason", msg)
			s.registry.UpdateStatus(id, registry.StatusPatch{Status: registry.StatusPtr(registry.StatusError)})
		}),
		s.health.OnSessionStatusChange(func(id string, missing bool) {
			if missing {
				s.poller.StopPolling(id)
				return
			}
			s.poller.StartPolling(id)
		}),
		s.health.OnDaemonStatusChange(func(d health.DaemonHealth) {
			if d.Connected {
				s.logger.Info("daemon reconnected")
				return
			}
			s.logger.Error("daemon unreachable", "consecutive_failures", d.ConsecutiveFailures)
		}),
		s.health.OnHealthUpdate(func(health.Snapshot) {
			s.pruneHistory()
		}),
		s.stuck.OnTerminalState(s.syncStatus),
	)
}

// syncStatus mirrors a screen classification into the registry. Missing,
// errored and stopped sessions keep their status.
func (s *Supervisor) syncStatus(id string, ts gateway.TerminalState) {
	sess, ok := s.registry.Get(id)
	if !ok || sess.Missing {
		return
	}
	if sess.Status == registry.StatusError || sess.Status == registry.StatusStopped {
		return
	}
	want := registry.StatusIdle
	if ts.Status == gateway.TerminalBusy {
		want = registry.StatusBusy
	}
	if sess.Status == want {
		return
	}
	s.registry.UpdateStatus(id, registry.StatusPatch{Status: registry.StatusPtr(want)})
	s.logger.Debug("session status changed", "session_id", id, "status", string(want))
}

// Start runs the health monitor and the stuck detector. Polling is driven
// per session by Track.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.health.Start()
	s.stuck.Start()
	s.logger.Info("supervisor started", "sessions", len(s.registry.List()))
}

// Stop halts every timer and detaches the internal wiring. A stopped
// supervisor cannot be restarted.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.running = false
	s.mu.Unlock()

	s.stuck.Stop()
	s.health.Stop()
	s.poller.StopAll()
	for _, u := range unsubs {
		u()
	}
}

// Track registers a session and starts polling it.
func (s *Supervisor) Track(sess registry.Session) {
	s.registry.Add(sess)
	s.poller.StartPolling(sess.ID)
	s.logger.Info("tracking session", "session_id", sess.ID, "role", sess.Role)
}

// Untrack stops polling a session and forgets everything about it. The
// registry entry is removed first; late output for an unknown session is
// dropped by the subsystems.
func (s *Supervisor) Untrack(id string) {
	removed := s.registry.Remove(id)
	s.poller.StopPolling(id)
	s.health.Forget(id)
	s.stuck.ClearTerminalState(id)
	if f, ok := s.sink.(forgetter); ok {
		f.Forget(id)
	}
	if removed {
		s.logger.Info("untracked session", "session_id", id)
	}
}

// IsMissing reports whether the health monitor confirmed the session gone.
// Sessions the registry does not know count as missing.
func (s *Supervisor) IsMissing(id string) bool {
	sess, ok := s.registry.Get(id)
	return !ok || sess.Missing
}

// ApplyConfig pushes a reloaded configuration into the running subsystems.
// Only changed settings are applied; the threshold table is replaced whole.
func (s *Supervisor) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = *cfg
	s.mu.Unlock()

	pc, pp := cfg.Poller, prev.Poller
	if pc.ActiveIntervalMs != pp.ActiveIntervalMs {
		s.poller.SetPollInterval(config.Ms(pc.ActiveIntervalMs))
	}
	if pc.IdleIntervalMs != pp.IdleIntervalMs {
		s.poller.SetIdleInterval(config.Ms(pc.IdleIntervalMs))
	}
	if pc.ActivityTimeoutMs != pp.ActivityTimeoutMs {
		s.poller.SetActivityTimeout(config.Ms(pc.ActivityTimeoutMs))
	}
	if pc.MaxConsecutiveErrors != pp.MaxConsecutiveErrors {
		s.poller.SetMaxConsecutiveErrors(pc.MaxConsecutiveErrors)
	}

	hc, hp := cfg.Health, prev.Health
	if hc.StaleThresholdMs != hp.StaleThresholdMs {
		s.health.SetStaleThreshold(config.Ms(hc.StaleThresholdMs))
	}
	if hc.CheckIntervalMs != hp.CheckIntervalMs {
		s.health.SetHealthCheckInterval(config.Ms(hc.CheckIntervalMs))
	}
	if hc.DaemonPingIntervalMs != hp.DaemonPingIntervalMs {
		s.health.SetDaemonPingInterval(config.Ms(hc.DaemonPingIntervalMs))
	}

	sc, sp := cfg.Stuck, prev.Stuck
	if sc.CheckIntervalMs != sp.CheckIntervalMs {
		s.stuck.SetCheckInterval(config.Ms(sc.CheckIntervalMs))
	}
	if sc.NotificationCooldownMs != sp.NotificationCooldownMs {
		s.stuck.SetNotificationCooldown(config.Ms(sc.NotificationCooldownMs))
	}
	s.stuck.SetThresholdTable(ThresholdTable(sc))

	s.logger.Info("configuration applied")
}

func (s *Supervisor) pruneHistory() {
	s.mu.Lock()
	keep := s.cfg.History.KeepPerSession
	s.mu.Unlock()
	if s.pruner == nil || keep <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range s.poller.GetPolledTerminals() {
		n, err := s.pruner.Prune(ctx, id, keep)
		if err != nil {
			s.logger.Warn("history prune failed", "session_id", id, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Debug("history pruned", "session_id", id, "removed", n)
		}
	}
}

// Bus returns the shared event bus.
func (s *Supervisor) Bus() *event.Bus { return s.bus }

// Poller returns the output poller.
func (s *Supervisor) Poller() *poller.Poller { return s.poller }

// Health returns the health monitor.
func (s *Supervisor) Health() *health.Monitor { return s.health }

// Stuck returns the stuck-agent detector.
func (s *Supervisor) Stuck() *stuck.Detector { return s.stuck }

// Registry returns the session registry.
func (s *Supervisor) Registry() Registry { return s.registry }
