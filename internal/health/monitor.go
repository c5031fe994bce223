// Package health tracks binary liveness of worker sessions and of the daemon
// hosting them, plus per-session staleness from recorded activity.
//
// Two independent timers drive the monitor: the health check probes every
// non-busy session through the gateway, and the daemon ping tracks daemon
// reachability with a failure-streak hysteresis. Transport failures are only
// logged; they never count as proof that a session is missing.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/fleetwatch/internal/clock"
	"github.com/Iron-Ham/fleetwatch/internal/event"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
	"github.com/Iron-Ham/fleetwatch/internal/logging"
	"github.com/Iron-Ham/fleetwatch/internal/registry"
)

// Config holds monitor tuning.
type Config struct {
	CheckInterval      time.Duration
	DaemonPingInterval time.Duration

	// StaleThreshold is how long a session may go without activity before
	// it is reported stale.
	StaleThreshold time.Duration

	// ProbeConcurrency bounds parallel SessionExists calls per check.
	ProbeConcurrency int

	// ProbeTimeout bounds a single gateway call.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:      30 * time.Second,
		DaemonPingInterval: 10 * time.Second,
		StaleThreshold:     15 * time.Minute,
		ProbeConcurrency:   8,
		ProbeTimeout:       5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.DaemonPingInterval <= 0 {
		c.DaemonPingInterval = d.DaemonPingInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = d.StaleThreshold
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = d.ProbeConcurrency
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// ErrorCounter reports a session's current fetch failure streak.
type ErrorCounter interface {
	ConsecutiveErrors(sessionID string) int
}

// Deps are the monitor's collaborators. Gateway and Registry are required.
type Deps struct {
	Gateway  gateway.Gateway
	Registry registry.Registry

	// Errors fills SessionHealth.PollerErrors. May be nil.
	Errors ErrorCounter

	Clock  clock.Clock
	Logger *logging.Logger
	Bus    *event.Bus
}

// loop is one self-rescheduling timer chain. inFlight holds the generation
// of the running cycle, zero when idle.
type loop struct {
	timer    clock.Timer
	seq      uint64
	inFlight uint64
}

// Monitor is the health monitor. It is safe for concurrent use.
type Monitor struct {
	mu           sync.Mutex
	config       Config
	running      bool
	gen          uint64 // bumped on Start and Stop
	check        loop
	ping         loop
	lastActivity map[string]time.Time
	daemon       DaemonHealth
	snapshot     Snapshot

	// checkMu and pingMu serialize cycles, whether timer-driven or called
	// directly.
	checkMu sync.Mutex
	pingMu  sync.Mutex

	gateway  gateway.Gateway
	registry registry.Registry
	errors   ErrorCounter
	clock    clock.Clock
	logger   *logging.Logger
	bus      *event.Bus
}

// New creates a monitor. Zero config fields take their defaults.
func New(cfg Config, deps Deps) *Monitor {
	logger := logging.OrNop(deps.Logger).WithComponent("health")
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	bus := deps.Bus
	if bus == nil {
		bus = event.NewBus(logger)
	}
	return &Monitor{
		config:       cfg.withDefaults(),
		lastActivity: make(map[string]time.Time),
		daemon:       DaemonHealth{Connected: true},
		snapshot:     Snapshot{Sessions: map[string]SessionHealth{}},
		gateway:      deps.Gateway,
		registry:     deps.Registry,
		errors:       deps.Errors,
		clock:        clk,
		logger:       logger,
		bus:          bus,
	}
}

// Start runs one health check and one daemon ping immediately, then keeps
// both on their intervals. Starting a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn("health monitor already running")
		return
	}
	m.running = true
	m.gen++
	m.scheduleCheckLocked(0)
	m.schedulePingLocked(0)
	m.logger.Info("health monitor started",
		"check_interval", m.config.CheckInterval.String(),
		"daemon_ping_interval", m.config.DaemonPingInterval.String())
}

// Stop cancels both timers. Cycles already in flight finish without
// applying their results.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	m.gen++
	cancelLoop(&m.check)
	cancelLoop(&m.ping)
	m.logger.Info("health monitor stopped")
}

// IsRunning reports whether the monitor's timers are active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RecordActivity stamps the session's last activity with the current time.
// Sessions unknown to the registry are ignored.
func (m *Monitor) RecordActivity(id string) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registry.Get(id); !ok {
		return
	}
	m.lastActivity[id] = now
}

// GetLastActivity returns the session's last recorded activity.
func (m *Monitor) GetLastActivity(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastActivity[id]
	return t, ok
}

// Forget drops the activity record for id.
func (m *Monitor) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastActivity, id)
}

// GetHealth returns the latest snapshot with the current daemon record.
func (m *Monitor) GetHealth() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snapshot.clone()
	s.Daemon = m.daemon
	return s
}

// SetStaleThreshold changes the staleness limit used by subsequent checks.
func (m *Monitor) SetStaleThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.StaleThreshold = d
}

// SetHealthCheckInterval changes the check interval, rescheduling the check
// timer when running. The ping timer is untouched.
func (m *Monitor) SetHealthCheckInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.CheckInterval = d
	if m.running && m.check.inFlight != m.gen {
		m.scheduleCheckLocked(d)
	}
}

// SetDaemonPingInterval changes the ping interval, rescheduling the ping
// timer when running. The check timer is untouched.
func (m *Monitor) SetDaemonPingInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.DaemonPingInterval = d
	if m.running && m.ping.inFlight != m.gen {
		m.schedulePingLocked(d)
	}
}

// OnHealthUpdate registers cb for every completed health check.
func (m *Monitor) OnHealthUpdate(cb func(Snapshot)) (unsubscribe func()) {
	return m.bus.SubscribeFunc(EventHealthUpdated, event.Typed(func(e HealthUpdatedEvent) {
		cb(e.Snapshot)
	}))
}

// OnDaemonStatusChange registers cb for connected/disconnected transitions.
func (m *Monitor) OnDaemonStatusChange(cb func(DaemonHealth)) (unsubscribe func()) {
	return m.bus.SubscribeFunc(EventDaemonStatus, event.Typed(func(e DaemonStatusEvent) {
		cb(e.Daemon)
	}))
}

// OnSessionStatusChange registers cb for missing/recovered transitions.
func (m *Monitor) OnSessionStatusChange(cb func(sessionID string, missing bool)) (unsubscribe func()) {
	return m.bus.SubscribeFunc(EventSessionStatus, event.Typed(func(e SessionStatusEvent) {
		cb(e.SessionID, e.Missing)
	}))
}

func cancelLoop(l *loop) {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.seq++
}

func (m *Monitor) scheduleCheckLocked(d time.Duration) {
	cancelLoop(&m.check)
	seq, gen := m.check.seq, m.gen
	m.check.timer = m.clock.AfterFunc(d, func() { m.runCheck(seq, gen) })
}

func (m *Monitor) schedulePingLocked(d time.Duration) {
	cancelLoop(&m.ping)
	seq, gen := m.ping.seq, m.gen
	m.ping.timer = m.clock.AfterFunc(d, func() { m.runPing(seq, gen) })
}

// live reports whether a timer-driven cycle started in gen may still apply
// its results. Caller holds m.mu.
func (m *Monitor) live(gen uint64) bool {
	return m.running && m.gen == gen
}

func (m *Monitor) runCheck(seq, gen uint64) {
	m.mu.Lock()
	if !m.live(gen) || m.check.seq != seq || m.check.inFlight == gen {
		m.mu.Unlock()
		return
	}
	m.check.timer = nil
	m.check.inFlight = gen
	m.mu.Unlock()

	m.performHealthCheck(context.Background(), func() bool { return m.live(gen) })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.check.inFlight == gen {
		m.check.inFlight = 0
	}
	if m.live(gen) {
		m.scheduleCheckLocked(m.config.CheckInterval)
	}
}

func (m *Monitor) runPing(seq, gen uint64) {
	m.mu.Lock()
	if !m.live(gen) || m.ping.seq != seq || m.ping.inFlight == gen {
		m.mu.Unlock()
		return
	}
	m.ping.timer = nil
	m.ping.inFlight = gen
	m.mu.Unlock()

	m.pingDaemon(context.Background(), func() bool { return m.live(gen) })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ping.inFlight == gen {
		m.ping.inFlight = 0
	}
	if m.live(gen) {
		m.schedulePingLocked(m.config.DaemonPingInterval)
	}
}

// PingDaemon runs one daemon ping and returns the updated record.
func (m *Monitor) PingDaemon(ctx context.Context) DaemonHealth {
	return m.pingDaemon(ctx, nil)
}

// pingDaemon pings and applies the result. When apply is non-nil it is
// consulted under the lock and the result is discarded if it returns false.
func (m *Monitor) pingDaemon(ctx context.Context, apply func() bool) DaemonHealth {
	m.pingMu.Lock()
	defer m.pingMu.Unlock()

	m.mu.Lock()
	timeout := m.config.ProbeTimeout
	m.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, timeout)
	ok, err := m.gateway.PingDaemon(pctx)
	cancel()

	m.mu.Lock()
	if apply != nil && !apply() {
		d := m.daemon
		m.mu.Unlock()
		return d
	}

	now := m.clock.Now()
	m.daemon.LastPing = now
	changed := false
	if err == nil && ok {
		m.daemon.ConsecutiveFailures = 0
		changed = !m.daemon.Connected
		m.daemon.Connected = true
	} else {
		m.daemon.ConsecutiveFailures++
		if m.daemon.ConsecutiveFailures >= DaemonFailureThreshold && m.daemon.Connected {
			m.daemon.Connected = false
			changed = true
		}
	}
	d := m.daemon
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("daemon ping failed", "consecutive_failures", d.ConsecutiveFailures, "error", err)
	}
	if changed {
		if d.Connected {
			m.logger.Info("daemon reconnected")
		} else {
			m.logger.Error("daemon disconnected", "consecutive_failures", d.ConsecutiveFailures)
		}
		m.bus.Publish(DaemonStatusEvent{Base: event.NewBase(EventDaemonStatus, now), Daemon: d})
	}
	return d
}

type probe struct {
	session registry.Session
	exists  bool
	err     error
}

// PerformHealthCheck probes every non-busy, non-stopped session, applies
// missing/recovered transitions to the registry, recomputes staleness and
// notifies subscribers. It returns the new snapshot.
func (m *Monitor) PerformHealthCheck(ctx context.Context) Snapshot {
	return m.performHealthCheck(ctx, nil)
}

func (m *Monitor) performHealthCheck(ctx context.Context, apply func() bool) Snapshot {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.mu.Lock()
	cfg := m.config
	m.mu.Unlock()

	sessions := m.registry.List()
	probes := make([]probe, 0, len(sessions))
	for _, s := range sessions {
		if s.Status == registry.StatusBusy || s.Status == registry.StatusStopped {
			continue
		}
		probes = append(probes, probe{session: s})
	}

	p := pool.New().WithMaxGoroutines(cfg.ProbeConcurrency)
	for i := range probes {
		pr := &probes[i]
		p.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
			defer cancel()
			pr.exists, pr.err = m.gateway.SessionExists(pctx, pr.session.ID)
		})
	}
	p.Wait()

	m.mu.Lock()
	if apply != nil && !apply() {
		s := m.snapshot.clone()
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	probed := make(map[string]bool, len(probes))
	var transitions []SessionStatusEvent
	now := m.clock.Now()
	for _, pr := range probes {
		id := pr.session.ID
		if pr.err != nil {
			m.logger.Warn("session existence check failed", "session_id", id, "error", pr.err)
			continue
		}
		probed[id] = true
		switch {
		case !pr.exists && !pr.session.Missing:
			m.registry.UpdateStatus(id, registry.StatusPatch{
				Status:  registry.StatusPtr(registry.StatusError),
				Missing: registry.BoolPtr(true),
			})
			transitions = append(transitions, SessionStatusEvent{
				Base: event.NewBase(EventSessionStatus, now), SessionID: id, Missing: true,
			})
			m.logger.Warn("session missing", "session_id", id)
		case pr.exists && pr.session.Missing:
			m.registry.UpdateStatus(id, registry.StatusPatch{
				Status:  registry.StatusPtr(registry.StatusIdle),
				Missing: registry.BoolPtr(false),
			})
			transitions = append(transitions, SessionStatusEvent{
				Base: event.NewBase(EventSessionStatus, now), SessionID: id, Missing: false,
			})
			m.logger.Info("session recovered", "session_id", id)
		}
	}

	current := m.registry.List()
	m.mu.Lock()
	snap := Snapshot{
		Sessions:  make(map[string]SessionHealth, len(current)),
		CheckedAt: now,
	}
	for _, s := range current {
		h := SessionHealth{HasSession: !s.Missing, Probed: probed[s.ID]}
		if last, ok := m.lastActivity[s.ID]; ok {
			h.HasActivity = true
			h.TimeSinceActivity = now.Sub(last)
			h.IsStale = h.TimeSinceActivity >= cfg.StaleThreshold
		} else {
			h.IsStale = true
		}
		snap.Sessions[s.ID] = h
	}
	m.mu.Unlock()

	// The counter takes the poller's lock; never call it under m.mu.
	if m.errors != nil {
		for id, h := range snap.Sessions {
			h.PollerErrors = m.errors.ConsecutiveErrors(id)
			snap.Sessions[id] = h
		}
	}

	m.mu.Lock()
	snap.Daemon = m.daemon
	m.snapshot = snap
	out := snap.clone()
	m.mu.Unlock()

	for _, tr := range transitions {
		m.bus.Publish(tr)
	}
	m.bus.Publish(HealthUpdatedEvent{Base: event.NewBase(EventHealthUpdated, now), Snapshot: snap.clone()})
	return out
}
