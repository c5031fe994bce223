// Package tmux wraps the tmux CLI calls fleetwatch needs to observe worker
// sessions: pane capture, session lookup and server liveness.
//
// All commands run against a named socket ("-L") so fleetwatch only ever sees
// the tmux server its workers were launched on.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultSocket is the tmux socket name used when none is configured.
const DefaultSocket = "fleetwatch"

// ErrNoServer is returned when no tmux server is listening on the socket.
var ErrNoServer = errors.New("tmux: no server running")

// CommandContextWithSocket creates a context-aware tmux command on socket.
func CommandContextWithSocket(ctx context.Context, socket string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "tmux", CommandArgsWithSocket(socket, args...)...)
}

// CommandArgsWithSocket returns tmux arguments prefixed with the socket flag.
func CommandArgsWithSocket(socket string, args ...string) []string {
	return append([]string{"-L", socket}, args...)
}

// Client runs tmux commands against one socket.
type Client struct {
	Socket string

	// run executes a command and returns stdout. Replaced in tests.
	run func(cmd *exec.Cmd) ([]byte, error)
}

// NewClient creates a client for socket. An empty socket uses DefaultSocket.
func NewClient(socket string) *Client {
	if socket == "" {
		socket = DefaultSocket
	}
	return &Client{Socket: socket, run: runCommand}
}

func runCommand(cmd *exec.Cmd) ([]byte, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, &CommandError{Args: cmd.Args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return out, nil
}

// CommandError describes a failed tmux invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("tmux %s: %v: %s", strings.Join(e.Args[1:], " "), e.Err, e.Stderr)
	}
	return fmt.Sprintf("tmux %s: %v", strings.Join(e.Args[1:], " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code, or -1 if the command never ran.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (c *Client) exec(ctx context.Context, args ...string) ([]byte, error) {
	return c.run(CommandContextWithSocket(ctx, c.Socket, args...))
}

// CapturePane returns the full scrollback of the session's active pane,
// escape sequences included.
func (c *Client) CapturePane(ctx context.Context, session string) ([]byte, error) {
	out, err := c.exec(ctx, "capture-pane", "-p", "-e", "-S", "-", "-E", "-", "-t", session)
	if err != nil {
		return nil, c.classify(err)
	}
	return out, nil
}

// HasSession reports whether session exists. A missing session is not an
// error; a missing server is reported as ErrNoServer.
func (c *Client) HasSession(ctx context.Context, session string) (bool, error) {
	_, err := c.exec(ctx, "has-session", "-t", "="+session)
	if err == nil {
		return true, nil
	}
	err = c.classify(err)
	if errors.Is(err, ErrNoServer) {
		return false, err
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// ListSessions returns the names of all sessions on the socket.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	out, err := c.exec(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		return nil, c.classify(err)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// classify maps tmux's "no server" diagnostics onto ErrNoServer.
func (c *Client) classify(err error) error {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return err
	}
	msg := strings.ToLower(cmdErr.Stderr)
	if strings.Contains(msg, "no server running") || strings.Contains(msg, "error connecting to") {
		return fmt.Errorf("%w on socket %q", ErrNoServer, c.Socket)
	}
	return err
}
