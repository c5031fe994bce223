// Package stuck judges whether a live worker session is stuck by combining
// weak signals: silence, time spent waiting for input, repeated output and
// prompts that produced no progress. Each analysis yields a confidence and a
// recommended action; notifications are throttled per session.
package stuck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/fleetwatch/internal/clock"
	"github.com/Iron-Ham/fleetwatch/internal/event"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
	"github.com/Iron-Ham/fleetwatch/internal/logging"
	"github.com/Iron-Ham/fleetwatch/internal/registry"
)

var (
	// ErrUnknownSession is returned for sessions the registry does not know.
	ErrUnknownSession = errors.New("stuck: unknown session")

	// ErrStateCleared is returned when the session's state was cleared while
	// its analysis was in flight.
	ErrStateCleared = errors.New("stuck: state cleared during analysis")

	errSweepCanceled = errors.New("stuck: detector stopped during sweep")
)

// Config holds detector tuning.
type Config struct {
	CheckInterval time.Duration

	// NotificationCooldown is the minimum gap between two notifications
	// for the same session.
	NotificationCooldown time.Duration

	// BypassPromptLimit is how long a session may sit at the bypass
	// permissions prompt before confidence is forced high.
	BypassPromptLimit time.Duration

	// Concurrency bounds parallel analyses during a sweep.
	Concurrency int

	ClassifyTimeout time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:        time.Minute,
		NotificationCooldown: 5 * time.Minute,
		BypassPromptLimit:    time.Minute,
		Concurrency:          4,
		ClassifyTimeout:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.NotificationCooldown <= 0 {
		c.NotificationCooldown = d.NotificationCooldown
	}
	if c.BypassPromptLimit <= 0 {
		c.BypassPromptLimit = d.BypassPromptLimit
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = d.ClassifyTimeout
	}
	return c
}

// Deps are the detector's collaborators. Gateway and Registry are required.
type Deps struct {
	Gateway  gateway.Gateway
	Registry registry.Registry

	// Activity supplies the no-output signal. May be nil.
	Activity ActivitySource

	// Prompts supplies dispatch times from the interval prompt manager.
	// May be nil.
	Prompts PromptStatusSource

	// Thresholds defaults to DefaultThresholdTable.
	Thresholds *ThresholdTable

	Clock  clock.Clock
	Logger *logging.Logger
	Bus    *event.Bus
}

// Detector is the stuck-agent detector. It is safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	config   Config
	table    ThresholdTable
	states   map[string]*TerminalStuckState
	analyses map[string]Analysis

	running  bool
	gen      uint64
	timer    clock.Timer
	seq      uint64
	inFlight uint64 // generation of the running sweep, zero when idle

	gateway  gateway.Gateway
	registry registry.Registry
	activity ActivitySource
	prompts  PromptStatusSource
	clock    clock.Clock
	logger   *logging.Logger
	bus      *event.Bus
}

// New creates a detector. Zero config fields take their defaults.
func New(cfg Config, deps Deps) *Detector {
	logger := logging.OrNop(deps.Logger).WithComponent("stuck")
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	bus := deps.Bus
	if bus == nil {
		bus = event.NewBus(logger)
	}
	table := DefaultThresholdTable()
	if deps.Thresholds != nil {
		table = *deps.Thresholds
	}
	return &Detector{
		config:   cfg.withDefaults(),
		table:    table,
		states:   make(map[string]*TerminalStuckState),
		analyses: make(map[string]Analysis),
		gateway:  deps.Gateway,
		registry: deps.Registry,
		activity: deps.Activity,
		prompts:  deps.Prompts,
		clock:    clk,
		logger:   logger,
		bus:      bus,
	}
}

// Start begins periodic sweeps. The first sweep runs one interval after
// Start. Starting a running detector is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		d.logger.Warn("stuck detector already running")
		return
	}
	d.running = true
	d.gen++
	d.scheduleLocked(d.config.CheckInterval)
	d.logger.Info("stuck detector started", "check_interval", d.config.CheckInterval.String())
}

// Stop cancels the sweep timer.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.running = false
	d.gen++
	d.cancelLocked()
	d.logger.Info("stuck detector stopped")
}

// IsRunning reports whether sweeps are scheduled.
func (d *Detector) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// SetCheckInterval changes the sweep interval, rescheduling when running.
func (d *Detector) SetCheckInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.CheckInterval = interval
	if d.running && d.inFlight != d.gen {
		d.scheduleLocked(interval)
	}
}

// SetNotificationCooldown changes the per-session notification cooldown.
func (d *Detector) SetNotificationCooldown(cooldown time.Duration) {
	if cooldown < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.NotificationCooldown = cooldown
}

// SetThresholdTable replaces the threshold table.
func (d *Detector) SetThresholdTable(t ThresholdTable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table = t
}

// GetThresholdsForRole resolves the thresholds a session with role uses.
func (d *Detector) GetThresholdsForRole(role Role) Thresholds {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table.Resolve(role)
}

// OnStuckDetected registers cb for throttled stuck notifications.
func (d *Detector) OnStuckDetected(cb func(Analysis)) (unsubscribe func()) {
	return d.bus.SubscribeFunc(EventStuckDetected, event.Typed(func(e DetectedEvent) {
		cb(e.Analysis)
	}))
}

// OnTerminalState registers cb for every successful classification made
// by a sweep or AnalyzeTerminal.
func (d *Detector) OnTerminalState(cb func(id string, state gateway.TerminalState)) (unsubscribe func()) {
	return d.bus.SubscribeFunc(EventTerminalState, event.Typed(func(e TerminalStateEvent) {
		cb(e.SessionID, e.State)
	}))
}

// GetTerminalStuckState returns a copy of the session's state.
func (d *Detector) GetTerminalStuckState(id string) (TerminalStuckState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[id]
	if !ok {
		return TerminalStuckState{}, false
	}
	return st.clone(), true
}

// ClearTerminalState forgets everything about the session. An analysis in
// flight for it is discarded.
func (d *Detector) ClearTerminalState(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, id)
	delete(d.analyses, id)
}

// LastAnalyses returns the most recent analysis of every session.
func (d *Detector) LastAnalyses() map[string]Analysis {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Analysis, len(d.analyses))
	for id, a := range d.analyses {
		out[id] = a
	}
	return out
}

// stateLocked returns the session's state, creating it on first use.
func (d *Detector) stateLocked(id string, now time.Time) *TerminalStuckState {
	st, ok := d.states[id]
	if !ok {
		st = &TerminalStuckState{FirstSeen: now}
		d.states[id] = st
	}
	return st
}

// RecordOutput feeds new output into the session's pattern and progress
// tracking. Sessions unknown to the registry are ignored.
func (d *Detector) RecordOutput(id, text string) {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.registry.Get(id)
	if !ok {
		return
	}
	st := d.stateLocked(id, now)
	st.Pattern.add(text, now, d.table.Resolve(Role(sess.Role)).PatternWindow)
	st.Progress.observe(text, now)
}

// RecordPromptSent marks a prompt dispatch to the session. Sessions unknown
// to the registry are ignored.
func (d *Detector) RecordPromptSent(id string) {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.registry.Get(id); !ok {
		return
	}
	d.stateLocked(id, now).Progress.LastPromptSent = now
}

// AnalyzeTerminal evaluates one session and fires a notification when it is
// stuck and outside its cooldown.
func (d *Detector) AnalyzeTerminal(ctx context.Context, id string) (Analysis, error) {
	return d.analyze(ctx, id, nil)
}

// analyze runs one analysis. When live is non-nil it is checked under the
// lock after the gateway call and the result is dropped if it returns false.
func (d *Detector) analyze(ctx context.Context, id string, live func() bool) (Analysis, error) {
	sess, ok := d.registry.Get(id)
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	role := Role(sess.Role)

	d.mu.Lock()
	st := d.stateLocked(id, d.clock.Now())
	timeout := d.config.ClassifyTimeout
	d.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	ts, classifyErr := d.gateway.ClassifyTerminalState(cctx, id)
	cancel()

	var lastActivity time.Time
	var hasActivity bool
	if d.activity != nil {
		lastActivity, hasActivity = d.activity.GetLastActivity(id)
	}
	var external time.Time
	if d.prompts != nil {
		if ps, ok := d.prompts.GetStatus(id); ok {
			external = ps.LastPromptTime
		}
	}

	d.mu.Lock()
	if live != nil && !live() {
		d.mu.Unlock()
		return Analysis{}, errSweepCanceled
	}
	if d.states[id] != st {
		d.mu.Unlock()
		return Analysis{}, fmt.Errorf("%w: %s", ErrStateCleared, id)
	}

	now := d.clock.Now()
	if classifyErr == nil {
		d.updateWaitingLocked(st, ts.Status, now)
	}
	if !hasActivity {
		lastActivity = st.FirstSeen
	}

	th := d.table.Resolve(role)
	st.Pattern.finalizeIfDue(now, th.PatternWindow)
	signals := Signals{
		NoOutputDuration:      now.Sub(lastActivity),
		RepeatedPatterns:      st.Pattern.repeated(th.PatternRepeatThreshold),
		PromptWithoutProgress: st.Progress.promptWithoutProgress(now, th.NoProgressTimeout, external),
		TerminalStatus:        st.LastStatus,
	}
	if st.WaitingSince != nil {
		signals.NeedsInputDuration = now.Sub(*st.WaitingSince)
	}

	a := d.evaluate(signals, th, st.ConsecutiveStuck)
	a.SessionID = id
	a.Role = role
	a.AnalyzedAt = now

	notify := false
	if a.IsStuck {
		if st.LastNotified.IsZero() || now.Sub(st.LastNotified) >= d.config.NotificationCooldown {
			notify = true
			st.ConsecutiveStuck++
			st.LastNotified = now
		}
	} else {
		st.ConsecutiveStuck = 0
	}
	d.analyses[id] = a
	d.mu.Unlock()

	if classifyErr != nil {
		d.logger.Warn("terminal state classification failed",
			"session_id", id, "error", classifyErr)
	} else {
		d.bus.Publish(TerminalStateEvent{
			Base:      event.NewBase(EventTerminalState, now),
			SessionID: id,
			State:     ts,
		})
	}
	if notify {
		d.logger.Warn("session stuck",
			"session_id", id,
			"role", string(role),
			"confidence", string(a.Confidence),
			"action", string(a.RecommendedAction),
			"consecutive_detections", a.ConsecutiveDetections)
		d.bus.Publish(DetectedEvent{Base: event.NewBase(EventStuckDetected, now), Analysis: a})
	}
	return a, nil
}

// updateWaitingLocked tracks when the session entered the needs-input set.
func (d *Detector) updateWaitingLocked(st *TerminalStuckState, status gateway.TerminalStatus, now time.Time) {
	if status.NeedsInput() {
		if st.WaitingSince == nil {
			t := now
			st.WaitingSince = &t
		}
	} else {
		st.WaitingSince = nil
	}
	st.LastStatus = status
}

// evaluate applies the thresholds and the confidence ladder. prior is the
// session's consecutive stuck count before this cycle.
func (d *Detector) evaluate(s Signals, th Thresholds, prior int) Analysis {
	a := Analysis{Confidence: ConfidenceLow, Signals: s}

	if s.NoOutputDuration > th.MaxNoOutput {
		a.IsStuck = true
		a.Reasons = append(a.Reasons, fmt.Sprintf("no output for %s (limit %s)",
			roundDuration(s.NoOutputDuration), th.MaxNoOutput))
		a.Confidence = ConfidenceMedium
	}

	if s.NeedsInputDuration > th.MaxNeedsInput {
		a.IsStuck = true
		a.Reasons = append(a.Reasons, fmt.Sprintf("waiting for input for %s (limit %s)",
			roundDuration(s.NeedsInputDuration), th.MaxNeedsInput))
		if a.Confidence == ConfidenceMedium {
			a.Confidence = ConfidenceHigh
		} else {
			a.Confidence = ConfidenceMedium
		}
	}

	if s.TerminalStatus == gateway.TerminalBypassPrompt && s.NeedsInputDuration > d.config.BypassPromptLimit {
		a.IsStuck = true
		a.Reasons = append(a.Reasons, fmt.Sprintf("blocked at bypass permissions prompt for %s",
			roundDuration(s.NeedsInputDuration)))
		a.Confidence = ConfidenceHigh
	}

	if s.RepeatedPatterns {
		a.IsStuck = true
		a.Reasons = append(a.Reasons, fmt.Sprintf("output repeated at least %d times", th.PatternRepeatThreshold))
		switch a.Confidence {
		case ConfidenceLow:
			a.Confidence = ConfidenceMedium
		case ConfidenceMedium:
			a.Confidence = ConfidenceHigh
		}
	}

	if s.PromptWithoutProgress {
		a.IsStuck = true
		a.Reasons = append(a.Reasons, fmt.Sprintf("no progress within %s of the last prompt", th.NoProgressTimeout))
	}

	if a.IsStuck {
		a.ConsecutiveDetections = prior + 1
		if a.ConsecutiveDetections >= 3 {
			a.Confidence = ConfidenceHigh
		}
	}
	a.RecommendedAction = recommend(a.Confidence, a.ConsecutiveDetections)
	return a
}

func recommend(c Confidence, detections int) Action {
	switch c {
	case ConfidenceHigh:
		if detections >= 5 {
			return ActionEscalate
		}
		return ActionRestart
	case ConfidenceMedium:
		return ActionNotify
	default:
		return ActionNone
	}
}

func roundDuration(d time.Duration) time.Duration {
	return d.Round(time.Second)
}

// CheckAllTerminals analyzes every non-stopped session that has a role.
// Sessions whose analysis fails are logged and left out of the result.
func (d *Detector) CheckAllTerminals(ctx context.Context) map[string]Analysis {
	return d.checkAll(ctx, nil)
}

func (d *Detector) checkAll(ctx context.Context, live func() bool) map[string]Analysis {
	d.mu.Lock()
	concurrency := d.config.Concurrency
	d.mu.Unlock()

	var mu sync.Mutex
	results := make(map[string]Analysis)

	p := pool.New().WithMaxGoroutines(concurrency)
	for _, s := range d.registry.List() {
		if !s.HasRole() || s.Status == registry.StatusStopped {
			continue
		}
		id := s.ID
		p.Go(func() {
			a, err := d.analyze(ctx, id, live)
			if errors.Is(err, errSweepCanceled) {
				return
			}
			if err != nil {
				d.logger.Warn("stuck analysis failed", "session_id", id, "error", err)
				return
			}
			mu.Lock()
			results[id] = a
			mu.Unlock()
		})
	}
	p.Wait()
	return results
}

func (d *Detector) scheduleLocked(after time.Duration) {
	d.cancelLocked()
	seq, gen := d.seq, d.gen
	d.timer = d.clock.AfterFunc(after, func() { d.sweep(seq, gen) })
}

func (d *Detector) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}

func (d *Detector) sweep(seq, gen uint64) {
	d.mu.Lock()
	if !d.running || d.gen != gen || d.seq != seq || d.inFlight == gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.inFlight = gen
	d.mu.Unlock()

	d.checkAll(context.Background(), func() bool { return d.running && d.gen == gen })

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight == gen {
		d.inFlight = 0
	}
	if d.running && d.gen == gen {
		d.scheduleLocked(d.config.CheckInterval)
	}
}
