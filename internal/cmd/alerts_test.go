package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/health"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestAlerter() (*alerter, *bytes.Buffer) {
	var buf bytes.Buffer
	a := newAlerter(&buf, newPalette(true))
	a.now = func() time.Time { return epoch }
	return a, &buf
}

func TestAlerter_StuckDetected(t *testing.T) {
	a, buf := newTestAlerter()
	a.stuckDetected(stuck.Analysis{
		SessionID:             "fw-builder-1",
		Role:                  stuck.RoleBuilder,
		IsStuck:               true,
		Confidence:            stuck.ConfidenceHigh,
		RecommendedAction:     stuck.ActionRestart,
		Reasons:               []string{"no output for 31m0s", "blocked at bypass permissions prompt for 2m0s"},
		ConsecutiveDetections: 2,
		AnalyzedAt:            epoch,
	})

	want := "09:00:00 STUCK fw-builder-1 (builder) confidence=high action=restart detections=2: " +
		"no output for 31m0s; blocked at bypass permissions prompt for 2m0s\n"
	if got := buf.String(); got != want {
		t.Errorf("line = %q\nwant   %q", got, want)
	}
}

func TestAlerter_StatusLines(t *testing.T) {
	a, buf := newTestAlerter()
	a.sessionStatus("w1", true)
	a.sessionStatus("w1", false)
	a.daemonStatus(health.DaemonHealth{Connected: false, ConsecutiveFailures: 3})
	a.daemonStatus(health.DaemonHealth{Connected: true})
	a.sessionsChanged([]string{"w2"}, []string{"w3"})

	want := []string{
		"09:00:00 MISSING w1",
		"09:00:00 RECOVERED w1",
		"09:00:00 DAEMON tmux server unreachable after 3 failed pings",
		"09:00:00 DAEMON tmux server reachable",
		"09:00:00 TRACK w2",
		"09:00:00 UNTRACK w3",
	}
	got := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(got), len(want), buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPalette_PlainHasNoEscapes(t *testing.T) {
	p := newPalette(true)
	for _, s := range []string{
		p.confidence(stuck.ConfidenceHigh),
		p.render(p.header, "SESSION"),
		p.status("", true),
	} {
		if strings.Contains(s, "\x1b") {
			t.Errorf("plain output %q contains an escape sequence", s)
		}
	}
}

func TestPad(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"ab", 4, "ab  "},
		{"abcdef", 4, "abcdef"},
		{"\x1b[1mab\x1b[0m", 3, "\x1b[1mab\x1b[0m "},
	}
	for _, tt := range tests {
		if got := pad(tt.in, tt.width); got != tt.want {
			t.Errorf("pad(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
