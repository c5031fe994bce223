// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/Iron-Ham/fleetwatch/internal/gateway"
)

type session struct {
	screen      []byte
	exists      bool
	existsErr   error
	fetchErr    error
	state       gateway.TerminalState
	classifyErr error
}

// Fake is a scriptable gateway. Sessions are created on first use and exist
// by default. Output offsets follow the tmux gateway: byte positions in the
// accumulated screen.
type Fake struct {
	mu       sync.Mutex
	sessions map[string]*session
	daemonOK bool
	pingErr  error

	fetchCalls    map[string]int
	existsCalls   map[string]int
	classifyCalls map[string]int
	pingCalls     int
	lastSince     map[string]*int64

	// BeforeFetch, when set, runs at the start of every FetchOutput without
	// the fake's lock held. Tests use it to mutate the caller mid-flight.
	BeforeFetch func(sessionID string)
	// BeforePing and BeforeClassify are the same for PingDaemon and
	// ClassifyTerminalState.
	BeforePing     func()
	BeforeClassify func(sessionID string)
}

// New creates a fake whose daemon answers pings.
func New() *Fake {
	return &Fake{
		sessions:      make(map[string]*session),
		daemonOK:      true,
		fetchCalls:    make(map[string]int),
		existsCalls:   make(map[string]int),
		classifyCalls: make(map[string]int),
		lastSince:     make(map[string]*int64),
	}
}

func (f *Fake) get(id string) *session {
	s, ok := f.sessions[id]
	if !ok {
		s = &session{exists: true, state: gateway.TerminalState{Status: gateway.TerminalOther}}
		f.sessions[id] = s
	}
	return s
}

// Write appends text to the session's screen.
func (f *Fake) Write(id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.get(id)
	s.screen = append(s.screen, text...)
}

// ClearScreen empties the session's screen, as when history is cleared.
func (f *Fake) ClearScreen(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(id).screen = nil
}

// SetFetchError makes FetchOutput fail with err; nil restores success.
func (f *Fake) SetFetchError(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(id).fetchErr = err
}

// SetExists sets what SessionExists reports.
func (f *Fake) SetExists(id string, exists bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.get(id)
	s.exists = exists
	s.existsErr = nil
}

// SetExistsError makes SessionExists fail with err.
func (f *Fake) SetExistsError(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(id).existsErr = err
}

// SetTerminalState sets what ClassifyTerminalState reports.
func (f *Fake) SetTerminalState(id string, status gateway.TerminalStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.get(id)
	s.state = gateway.TerminalState{Status: status}
	s.classifyErr = nil
}

// SetClassifyError makes ClassifyTerminalState fail with err.
func (f *Fake) SetClassifyError(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(id).classifyErr = err
}

// SetDaemon sets the ping result.
func (f *Fake) SetDaemon(ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.daemonOK = ok
	f.pingErr = err
}

// FetchCalls returns how many times FetchOutput ran for id.
func (f *Fake) FetchCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[id]
}

// LastSince returns the since argument of the latest FetchOutput for id.
// ok is false when it was nil.
func (f *Fake) LastSince(id string) (offset int64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.lastSince[id]; p != nil {
		return *p, true
	}
	return 0, false
}

// ExistsCalls returns how many times SessionExists ran for id.
func (f *Fake) ExistsCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existsCalls[id]
}

// ClassifyCalls returns how many times ClassifyTerminalState ran for id.
func (f *Fake) ClassifyCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyCalls[id]
}

// PingCalls returns how many times PingDaemon ran.
func (f *Fake) PingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingCalls
}

// FetchOutput implements gateway.Gateway.
func (f *Fake) FetchOutput(ctx context.Context, id string, since *int64) (gateway.Output, error) {
	if hook := f.BeforeFetch; hook != nil {
		hook(id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls[id]++
	if since != nil {
		v := *since
		f.lastSince[id] = &v
	} else {
		f.lastSince[id] = nil
	}
	s := f.get(id)
	if s.fetchErr != nil {
		return gateway.Output{}, s.fetchErr
	}
	if !s.exists {
		return gateway.Output{}, fmt.Errorf("%w: %s", gateway.ErrSessionNotFound, id)
	}

	total := int64(len(s.screen))
	start := int64(0)
	if since != nil && *since <= total {
		start = *since
	}
	fresh := s.screen[start:]
	if len(fresh) == 0 {
		return gateway.Output{NewOffset: total}, nil
	}
	return gateway.Output{
		Content:   []byte(base64.StdEncoding.EncodeToString(fresh)),
		NewOffset: total,
	}, nil
}

// SessionExists implements gateway.Gateway.
func (f *Fake) SessionExists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls[id]++
	s := f.get(id)
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.exists, nil
}

// PingDaemon implements gateway.Gateway.
func (f *Fake) PingDaemon(ctx context.Context) (bool, error) {
	if hook := f.BeforePing; hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCalls++
	return f.daemonOK, f.pingErr
}

// ClassifyTerminalState implements gateway.Gateway.
func (f *Fake) ClassifyTerminalState(ctx context.Context, id string) (gateway.TerminalState, error) {
	if hook := f.BeforeClassify; hook != nil {
		hook(id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls[id]++
	s := f.get(id)
	if s.classifyErr != nil {
		return gateway.TerminalState{}, s.classifyErr
	}
	return s.state, nil
}

var _ gateway.Gateway = (*Fake)(nil)
