// Package poller keeps a continuously refreshed mirror of each worker
// session's output. Every session has its own self-rescheduling fetch loop
// whose interval adapts to observed activity: fast while output flows, slow
// once the session has been quiet for the activity timeout.
package poller

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/clock"
	"github.com/Iron-Ham/fleetwatch/internal/display"
	"github.com/Iron-Ham/fleetwatch/internal/event"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
	"github.com/Iron-Ham/fleetwatch/internal/history"
	"github.com/Iron-Ham/fleetwatch/internal/logging"
)

// Config holds poller tuning.
type Config struct {
	// ActiveInterval is the fetch interval while output is flowing.
	ActiveInterval time.Duration

	// IdleInterval is the fetch interval once a session has been quiet for
	// ActivityTimeout.
	IdleInterval time.Duration

	ActivityTimeout time.Duration

	// MaxConsecutiveErrors is the failure streak after which a session is
	// abandoned and the error callback fires.
	MaxConsecutiveErrors int

	// ErrorLogEvery controls log flooding: failures are logged on the first
	// of a streak and every Nth after that.
	ErrorLogEvery int

	// FetchTimeout bounds a single gateway call.
	FetchTimeout time.Duration
}

// DefaultConfig returns the default poller configuration.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:       50 * time.Millisecond,
		IdleInterval:         10 * time.Second,
		ActivityTimeout:      30 * time.Second,
		MaxConsecutiveErrors: 5,
		ErrorLogEvery:        10,
		FetchTimeout:         10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = d.ActiveInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = d.IdleInterval
	}
	if c.ActivityTimeout <= 0 {
		c.ActivityTimeout = d.ActivityTimeout
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.ErrorLogEvery <= 0 {
		c.ErrorLogEvery = d.ErrorLogEvery
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	return c
}

// Deps are the poller's collaborators. Gateway and Sink are required.
type Deps struct {
	Gateway gateway.Gateway
	Sink    display.Sink

	// History receives every decoded chunk, best-effort. May be nil.
	History history.Cache

	Clock  clock.Clock
	Logger *logging.Logger
	Bus    *event.Bus
}

// ErrorState is the failure bookkeeping for one tracked session.
type ErrorState struct {
	ConsecutiveErrors int
	LastErrorAt       time.Time
	Offset            int64
	Running           bool
}

type pollerState struct {
	id                string
	offset            int64
	running           bool
	timer             clock.Timer
	seq               uint64 // bumped on every schedule and cancel
	inFlight          bool
	consecutiveErrors int
	lastErrorAt       time.Time
	lastOutputAt      time.Time
	interval          time.Duration
}

// Poller owns one polling loop per session. It is safe for concurrent use.
type Poller struct {
	mu     sync.Mutex
	config Config
	states map[string]*pollerState

	gateway gateway.Gateway
	sink    display.Sink
	history history.Cache
	clock   clock.Clock
	logger  *logging.Logger
	bus     *event.Bus
}

// New creates a poller. Zero config fields take their defaults.
func New(cfg Config, deps Deps) *Poller {
	logger := logging.OrNop(deps.Logger).WithComponent("poller")
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	bus := deps.Bus
	if bus == nil {
		bus = event.NewBus(logger)
	}
	return &Poller{
		config:  cfg.withDefaults(),
		states:  make(map[string]*pollerState),
		gateway: deps.Gateway,
		sink:    deps.Sink,
		history: deps.History,
		clock:   clk,
		logger:  logger,
		bus:     bus,
	}
}

// StartPolling begins polling id with an immediate fetch from offset 0.
// Already tracked sessions are left alone.
func (p *Poller) StartPolling(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.states[id]; ok {
		p.logger.Debug("already polling", "session_id", id)
		return
	}

	st := &pollerState{
		id:           id,
		running:      true,
		lastOutputAt: p.clock.Now(),
		interval:     p.config.ActiveInterval,
	}
	p.states[id] = st
	p.scheduleLocked(st, 0)
	p.logger.Debug("started polling", "session_id", id)
}

// PausePolling cancels the pending fetch but keeps the offset and counters.
func (p *Poller) PausePolling(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[id]
	if !ok || !st.running {
		return
	}
	st.running = false
	p.cancelLocked(st)
}

// ResumePolling continues a paused session from its retained offset. A
// session with no state is started fresh.
func (p *Poller) ResumePolling(id string) {
	p.mu.Lock()
	st, ok := p.states[id]
	if !ok {
		p.mu.Unlock()
		p.StartPolling(id)
		return
	}
	defer p.mu.Unlock()

	if st.running {
		return
	}
	st.running = true
	p.scheduleLocked(st, 0)
}

// StopPolling cancels the loop and discards all state for id. Idempotent.
func (p *Poller) StopPolling(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(id)
}

// StopAll stops every session.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.states {
		p.stopLocked(id)
	}
}

func (p *Poller) stopLocked(id string) {
	st, ok := p.states[id]
	if !ok {
		return
	}
	st.running = false
	p.cancelLocked(st)
	delete(p.states, id)
}

// IsPolling reports whether id is tracked and not paused.
func (p *Poller) IsPolling(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[id]
	return ok && st.running
}

// GetPollerCount returns the number of tracked sessions, paused included.
func (p *Poller) GetPollerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// GetPolledTerminals returns the tracked session IDs in sorted order.
func (p *Poller) GetPolledTerminals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.states))
	for id := range p.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetErrorState returns the failure bookkeeping for a tracked session.
func (p *Poller) GetErrorState(id string) (ErrorState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[id]
	if !ok {
		return ErrorState{}, false
	}
	return ErrorState{
		ConsecutiveErrors: st.consecutiveErrors,
		LastErrorAt:       st.lastErrorAt,
		Offset:            st.offset,
		Running:           st.running,
	}, true
}

// ConsecutiveErrors returns the current failure streak for id, or 0 when
// the session is not tracked.
func (p *Poller) ConsecutiveErrors(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[id]; ok {
		return st.consecutiveErrors
	}
	return 0
}

// SetPollInterval changes the active interval and restarts every running
// loop with it. Offsets are preserved.
func (p *Poller) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.config.ActiveInterval = d
	for _, st := range p.states {
		if !st.running {
			continue
		}
		st.interval = d
		p.scheduleLocked(st, 0)
	}
}

// SetIdleInterval changes the idle interval. It applies from the next cycle.
func (p *Poller) SetIdleInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.IdleInterval = d
}

// SetActivityTimeout changes how long a session may be quiet before it
// drops to the idle interval.
func (p *Poller) SetActivityTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.ActivityTimeout = d
}

// SetMaxConsecutiveErrors changes the failure ceiling.
func (p *Poller) SetMaxConsecutiveErrors(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.MaxConsecutiveErrors = n
}

// scheduleLocked replaces any pending timer for st with one firing after d.
func (p *Poller) scheduleLocked(st *pollerState, d time.Duration) {
	p.cancelLocked(st)
	seq := st.seq
	st.timer = p.clock.AfterFunc(d, func() { p.poll(st, seq) })
}

func (p *Poller) cancelLocked(st *pollerState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.seq++
}

// current reports whether st is still the live, running state for its
// session. Caller holds p.mu.
func (p *Poller) current(st *pollerState) bool {
	return p.states[st.id] == st && st.running
}

func (p *Poller) isCurrent(st *pollerState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current(st)
}

// poll runs one fetch cycle. The next cycle is only scheduled once this
// one's gateway call has settled.
func (p *Poller) poll(st *pollerState, seq uint64) {
	p.mu.Lock()
	if !p.current(st) || st.seq != seq || st.inFlight {
		p.mu.Unlock()
		return
	}
	st.timer = nil
	st.inFlight = true
	var since *int64
	if st.offset > 0 {
		off := st.offset
		since = &off
	}
	timeout := p.config.FetchTimeout
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	out, err := p.gateway.FetchOutput(ctx, st.id, since)
	cancel()

	if err != nil {
		p.fetchFailed(st, err)
		return
	}
	p.fetchSucceeded(st, since == nil, out)
}

func (p *Poller) fetchSucceeded(st *pollerState, first bool, out gateway.Output) {
	p.mu.Lock()
	if !p.current(st) {
		st.inFlight = false
		p.mu.Unlock()
		return
	}

	now := p.clock.Now()
	st.consecutiveErrors = 0
	var text string
	if len(out.Content) > 0 {
		text = decode(out.Content)
		if out.NewOffset < st.offset {
			p.logger.Debug("offset moved backwards", "session_id", st.id,
				"offset", st.offset, "new_offset", out.NewOffset)
		}
		st.offset = out.NewOffset
		st.lastOutputAt = now
	}
	if now.Sub(st.lastOutputAt) > p.config.ActivityTimeout {
		st.interval = p.config.IdleInterval
	} else {
		st.interval = p.config.ActiveInterval
	}
	p.mu.Unlock()

	if len(out.Content) > 0 && p.isCurrent(st) {
		p.deliver(st.id, first, text, now)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	st.inFlight = false
	if p.current(st) {
		p.scheduleLocked(st, st.interval)
	}
}

// deliver hands a decoded chunk to the sink, subscribers and history.
func (p *Poller) deliver(id string, first bool, text string, at time.Time) {
	if p.sink != nil {
		if first {
			p.sink.Replace(id, text)
		} else {
			p.sink.Append(id, text)
		}
	}

	p.bus.Publish(ActivityEvent{Base: event.NewBase(EventActivity, at), SessionID: id})
	p.bus.Publish(OutputEvent{Base: event.NewBase(EventOutput, at), SessionID: id, Text: text})

	if p.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.fetchTimeout())
		defer cancel()
		if err := p.history.AppendOutput(ctx, id, text); err != nil {
			p.logger.Warn("history append failed", "session_id", id, "error", err)
		}
	}
}

func (p *Poller) fetchFailed(st *pollerState, fetchErr error) {
	p.mu.Lock()
	if !p.current(st) {
		st.inFlight = false
		p.mu.Unlock()
		return
	}

	st.consecutiveErrors++
	st.lastErrorAt = p.clock.Now()
	n := st.consecutiveErrors
	if n == 1 || n%p.config.ErrorLogEvery == 0 {
		p.logger.Warn("fetch output failed",
			"session_id", st.id,
			"consecutive_errors", n,
			"error", fetchErr)
	}

	if n >= p.config.MaxConsecutiveErrors {
		st.inFlight = false
		p.stopLocked(st.id)
		at := st.lastErrorAt
		p.mu.Unlock()

		msg := fmt.Sprintf("polling stopped after %d consecutive errors: %v", n, fetchErr)
		p.logger.Error("polling abandoned", "session_id", st.id, "consecutive_errors", n, "error", fetchErr)
		p.bus.Publish(ErrorEvent{Base: event.NewBase(EventError, at), SessionID: st.id, Message: msg})
		return
	}

	st.inFlight = false
	p.scheduleLocked(st, st.interval)
	p.mu.Unlock()
}

func (p *Poller) fetchTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.FetchTimeout
}

// decode undoes the gateway's transport encoding. Content that is not valid
// base64 is passed through as raw bytes.
func decode(content []byte) string {
	buf := make([]byte, base64.StdEncoding.DecodedLen(len(content)))
	n, err := base64.StdEncoding.Decode(buf, content)
	if err != nil {
		return string(content)
	}
	return string(buf[:n])
}
