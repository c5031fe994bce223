package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/Iron-Ham/fleetwatch/internal/detect"
	"github.com/Iron-Ham/fleetwatch/internal/tmux"
)

// tmuxRunner is the subset of *tmux.Client the gateway uses.
type tmuxRunner interface {
	CapturePane(ctx context.Context, session string) ([]byte, error)
	HasSession(ctx context.Context, session string) (bool, error)
	ListSessions(ctx context.Context) ([]string, error)
}

// Tmux is a Gateway backed by a local tmux server. Session IDs are tmux
// session names on the configured socket.
type Tmux struct {
	client     tmuxRunner
	classifier *detect.Classifier

	mu   sync.Mutex
	last map[string][]byte // previous capture per session, trailing blanks trimmed
}

// NewTmux creates a gateway for the tmux server on socket.
func NewTmux(socket string) *Tmux {
	return newTmux(tmux.NewClient(socket))
}

func newTmux(client tmuxRunner) *Tmux {
	return &Tmux{
		client:     client,
		classifier: detect.NewClassifier(),
		last:       make(map[string][]byte),
	}
}

// FetchOutput captures the pane and returns what was added since the
// previous capture. A capture is a sliding window once scrollback reaches the
// history limit, so new content is found by overlap with the previous capture
// rather than by position. When nothing overlaps (screen cleared, pane
// redrawn) the whole capture is returned. A nil since starts over.
//
// Offsets count delivered bytes: NewOffset is since plus the length of the
// returned content, so it never moves backwards.
func (g *Tmux) FetchOutput(ctx context.Context, sessionID string, since *int64) (Output, error) {
	screen, err := g.capture(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			g.forget(sessionID)
		}
		return Output{}, err
	}
	screen = bytes.TrimRight(screen, " \t\r\n")

	g.mu.Lock()
	var prev []byte
	base := int64(0)
	if since != nil {
		prev, base = g.last[sessionID], *since
	}
	g.last[sessionID] = screen
	g.mu.Unlock()

	fresh := appended(prev, screen)
	if len(fresh) == 0 {
		return Output{NewOffset: base}, nil
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(fresh)))
	base64.StdEncoding.Encode(encoded, fresh)
	return Output{Content: encoded, NewOffset: base + int64(len(fresh))}, nil
}

func (g *Tmux) forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, sessionID)
}

// appended returns the part of cur that follows the longest suffix of prev,
// starting on a line boundary, that cur begins with. With no such suffix all
// of cur is new.
func appended(prev, cur []byte) []byte {
	if len(prev) == 0 {
		return cur
	}
	for start := 0; start < len(prev); {
		if bytes.HasPrefix(cur, prev[start:]) {
			return cur[len(prev)-start:]
		}
		i := bytes.IndexByte(prev[start:], '\n')
		if i < 0 {
			break
		}
		start += i + 1
	}
	return cur
}

// SessionExists runs has-session.
func (g *Tmux) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	ok, err := g.client.HasSession(ctx, sessionID)
	if err != nil {
		return false, wrapTmuxErr(err)
	}
	return ok, nil
}

// PingDaemon treats a reachable tmux server as a live daemon.
func (g *Tmux) PingDaemon(ctx context.Context) (bool, error) {
	if _, err := g.client.ListSessions(ctx); err != nil {
		if errors.Is(err, tmux.ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ClassifyTerminalState captures the pane and classifies the screen.
func (g *Tmux) ClassifyTerminalState(ctx context.Context, sessionID string) (TerminalState, error) {
	screen, err := g.capture(ctx, sessionID)
	if err != nil {
		return TerminalState{}, err
	}

	state := g.classifier.Classify(screen)
	switch state {
	case detect.StateIdle:
		return TerminalState{Status: TerminalIdle}, nil
	case detect.StateWaitingForInput:
		return TerminalState{Status: TerminalWaitingForInput}, nil
	case detect.StateBypassPrompt:
		return TerminalState{Status: TerminalBypassPrompt}, nil
	case detect.StateBusy:
		return TerminalState{Status: TerminalBusy}, nil
	default:
		return TerminalState{Status: TerminalOther, Detail: state.String()}, nil
	}
}

func (g *Tmux) capture(ctx context.Context, sessionID string) ([]byte, error) {
	exists, err := g.client.HasSession(ctx, sessionID)
	if err != nil {
		return nil, wrapTmuxErr(err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	screen, err := g.client.CapturePane(ctx, sessionID)
	if err != nil {
		return nil, wrapTmuxErr(err)
	}
	return screen, nil
}

func wrapTmuxErr(err error) error {
	if errors.Is(err, tmux.ErrNoServer) {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return err
}
