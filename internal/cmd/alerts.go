package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/health"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

const alertTimeFormat = "15:04:05"

// alerter prints supervision events as one line each. Callbacks arrive on
// timer goroutines, so writes are serialized.
type alerter struct {
	mu  sync.Mutex
	w   io.Writer
	pal palette
	now func() time.Time
}

func newAlerter(w io.Writer, pal palette) *alerter {
	return &alerter{w: w, pal: pal, now: time.Now}
}

func (a *alerter) printf(at time.Time, format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.w, "%s %s\n", a.pal.render(a.pal.muted, at.Format(alertTimeFormat)), fmt.Sprintf(format, args...))
}

func (a *alerter) stuckDetected(an stuck.Analysis) {
	who := an.SessionID
	if an.Role != "" {
		who += " (" + string(an.Role) + ")"
	}
	a.printf(an.AnalyzedAt, "%s %s confidence=%s action=%s detections=%d: %s",
		a.pal.render(a.pal.stuck, "STUCK"),
		who,
		a.pal.confidence(an.Confidence),
		an.RecommendedAction,
		an.ConsecutiveDetections,
		strings.Join(an.Reasons, "; "))
}

func (a *alerter) sessionStatus(id string, missing bool) {
	if missing {
		a.printf(a.now(), "%s %s", a.pal.render(a.pal.err, "MISSING"), id)
		return
	}
	a.printf(a.now(), "%s %s", a.pal.render(a.pal.ok, "RECOVERED"), id)
}

func (a *alerter) daemonStatus(d health.DaemonHealth) {
	if d.Connected {
		a.printf(a.now(), "%s tmux server reachable", a.pal.render(a.pal.ok, "DAEMON"))
		return
	}
	a.printf(a.now(), "%s tmux server unreachable after %d failed pings",
		a.pal.render(a.pal.err, "DAEMON"), d.ConsecutiveFailures)
}

func (a *alerter) sessionsChanged(added, removed []string) {
	for _, id := range added {
		a.printf(a.now(), "%s %s", a.pal.render(a.pal.header, "TRACK"), id)
	}
	for _, id := range removed {
		a.printf(a.now(), "%s %s", a.pal.render(a.pal.muted, "UNTRACK"), id)
	}
}
