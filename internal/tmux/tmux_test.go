package tmux

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func TestCommandArgsWithSocket(t *testing.T) {
	args := CommandArgsWithSocket("fleet-a", "kill-session", "-t", "test")

	expected := []string{"-L", "fleet-a", "kill-session", "-t", "test"}
	if len(args) != len(expected) {
		t.Fatalf("len(args) = %d, want %d", len(args), len(expected))
	}
	for i, want := range expected {
		if args[i] != want {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want)
		}
	}
}

func TestCommandContextWithSocket(t *testing.T) {
	cmd := CommandContextWithSocket(context.Background(), "fleet-a", "has-session", "-t", "test")
	args := cmd.Args

	if len(args) < 4 {
		t.Fatalf("Expected at least 4 args, got %d: %v", len(args), args)
	}
	if args[0] != "tmux" {
		t.Errorf("args[0] = %q, want %q", args[0], "tmux")
	}
	if args[1] != "-L" || args[2] != "fleet-a" {
		t.Errorf("socket args = %v, want [-L fleet-a]", args[1:3])
	}
	if args[3] != "has-session" {
		t.Errorf("args[3] = %q, want %q", args[3], "has-session")
	}
}

func TestNewClient_DefaultSocket(t *testing.T) {
	if c := NewClient(""); c.Socket != DefaultSocket {
		t.Errorf("Socket = %q, want %q", c.Socket, DefaultSocket)
	}
}

// fakeRun builds a run func returning fixed output or a CommandError.
func fakeRun(out string, stderr string, fail bool) func(*exec.Cmd) ([]byte, error) {
	return func(cmd *exec.Cmd) ([]byte, error) {
		if fail {
			return nil, &CommandError{Args: cmd.Args, Stderr: stderr, Err: errors.New("exit status 1")}
		}
		return []byte(out), nil
	}
}

func TestClient_ListSessions(t *testing.T) {
	c := NewClient("x")
	c.run = fakeRun("alpha\nbeta\n\n", "", false)

	got, err := c.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("ListSessions = %v, want [alpha beta]", got)
	}
}

func TestClient_NoServer(t *testing.T) {
	c := NewClient("x")
	c.run = fakeRun("", "no server running on /tmp/tmux-0/x", true)

	if _, err := c.ListSessions(context.Background()); !errors.Is(err, ErrNoServer) {
		t.Errorf("ListSessions err = %v, want ErrNoServer", err)
	}
	if _, err := c.HasSession(context.Background(), "s"); !errors.Is(err, ErrNoServer) {
		t.Errorf("HasSession err = %v, want ErrNoServer", err)
	}
}

func TestClient_CapturePassesTarget(t *testing.T) {
	c := NewClient("x")
	var seen []string
	c.run = func(cmd *exec.Cmd) ([]byte, error) {
		seen = cmd.Args
		return []byte("screen"), nil
	}

	out, err := c.CapturePane(context.Background(), "w1")
	if err != nil || string(out) != "screen" {
		t.Fatalf("CapturePane = %q, %v", out, err)
	}
	if seen[len(seen)-2] != "-t" || seen[len(seen)-1] != "w1" {
		t.Errorf("capture args = %v, want trailing -t w1", seen)
	}
}
