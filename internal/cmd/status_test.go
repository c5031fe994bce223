package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Iron-Ham/fleetwatch/internal/config"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
	"github.com/Iron-Ham/fleetwatch/internal/gateway/gatewaytest"
	"github.com/Iron-Ham/fleetwatch/internal/health"
)

func TestProbeSessions(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.SessionPrefix = "fw-"

	gw := gatewaytest.New()
	gw.SetTerminalState("fw-builder-1", gateway.TerminalBypassPrompt)
	gw.SetExists("fw-tester-1", false)
	lister := &listerStub{names: []string{"fw-tester-1", "fw-builder-1", "notes"}}

	report, err := probeSessions(context.Background(), cfg, lister, gw)
	if err != nil {
		t.Fatalf("probeSessions: %v", err)
	}
	if report.Daemon.ConsecutiveFailures != 0 {
		t.Errorf("daemon failures = %d, want 0", report.Daemon.ConsecutiveFailures)
	}
	if len(report.Rows) != 2 {
		t.Fatalf("rows = %+v, want 2", report.Rows)
	}

	builder, tester := report.Rows[0], report.Rows[1]
	if builder.ID != "fw-builder-1" || builder.Role != "builder" || !builder.Exists {
		t.Errorf("builder row = %+v", builder)
	}
	if builder.Terminal != gateway.TerminalBypassPrompt {
		t.Errorf("builder terminal = %q, want %q", builder.Terminal, gateway.TerminalBypassPrompt)
	}
	if tester.Exists {
		t.Errorf("tester row = %+v, want missing", tester)
	}
	if gw.ClassifyCalls("fw-tester-1") != 0 {
		t.Error("classified a missing session")
	}
}

func TestProbeSessions_ListError(t *testing.T) {
	gw := gatewaytest.New()
	gw.SetDaemon(false, errors.New("refused"))
	lister := &listerStub{err: errors.New("refused")}

	report, err := probeSessions(context.Background(), config.Default(), lister, gw)
	if err == nil {
		t.Fatal("list error not returned")
	}
	if report.Daemon.ConsecutiveFailures != 1 {
		t.Errorf("daemon failures = %d, want 1", report.Daemon.ConsecutiveFailures)
	}
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, newPalette(true), statusReport{
		Daemon: health.DaemonHealth{Connected: true},
		Rows: []statusRow{
			{ID: "fw-builder-1", Role: "builder", Exists: true, Terminal: gateway.TerminalBusy},
			{ID: "fw-shell", Exists: true, Terminal: gateway.TerminalIdle},
			{ID: "fw-tester-1", Role: "tester"},
		},
	})

	out := buf.String()
	for _, want := range []string{
		"tmux server: reachable",
		"SESSION                  ROLE         TERMINAL",
		"fw-builder-1             builder      busy",
		"fw-shell                 shell        idle",
		"fw-tester-1              tester       missing",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, newPalette(true), statusReport{Daemon: health.DaemonHealth{ConsecutiveFailures: 2}})

	if got, want := buf.String(), "tmux server: unreachable\nNo matching sessions\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
