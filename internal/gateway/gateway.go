// Package gateway defines the Remote Session Gateway contract through which
// fleetwatch reads worker output and probes session and daemon liveness.
package gateway

import (
	"context"
	"errors"
)

// TerminalStatus is the coarse state reported by ClassifyTerminalState.
type TerminalStatus string

const (
	TerminalIdle            TerminalStatus = "idle"
	TerminalWaitingForInput TerminalStatus = "waiting_for_input"
	TerminalBypassPrompt    TerminalStatus = "bypass_prompt"
	TerminalBusy            TerminalStatus = "busy"
	TerminalOther           TerminalStatus = "other"
)

// NeedsInput reports whether the status blocks until someone answers.
func (s TerminalStatus) NeedsInput() bool {
	return s == TerminalWaitingForInput || s == TerminalBypassPrompt
}

// TerminalState is the result of classifying a session's screen.
type TerminalState struct {
	Status TerminalStatus
	Detail string
}

// Output is one incremental fetch. Content is transport-encoded (base64) and
// empty when nothing new was produced. NewOffset is the cursor for the next
// fetch.
type Output struct {
	Content   []byte
	NewOffset int64
}

var (
	// ErrSessionNotFound is returned when the session does not exist.
	ErrSessionNotFound = errors.New("gateway: session not found")

	// ErrDaemonUnavailable is returned when the backing daemon cannot be reached.
	ErrDaemonUnavailable = errors.New("gateway: daemon unavailable")
)

// Gateway is the remote session gateway. Implementations must be safe for
// concurrent use.
type Gateway interface {
	// FetchOutput returns output produced after since. A nil since means
	// "from the beginning".
	FetchOutput(ctx context.Context, sessionID string, since *int64) (Output, error)

	// SessionExists reports whether the session is present. A non-nil error
	// means existence could not be determined.
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// PingDaemon reports whether the daemon answered.
	PingDaemon(ctx context.Context) (bool, error)

	// ClassifyTerminalState inspects the session's screen.
	ClassifyTerminalState(ctx context.Context, sessionID string) (TerminalState, error)
}
