package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/fleetwatch/internal/config"
	"github.com/Iron-Ham/fleetwatch/internal/display"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
	"github.com/Iron-Ham/fleetwatch/internal/health"
	"github.com/Iron-Ham/fleetwatch/internal/registry"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
	"github.com/Iron-Ham/fleetwatch/internal/supervisor"
	"github.com/Iron-Ham/fleetwatch/internal/tmux"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe sessions once and print their state",
	Long: `Status lists the matching tmux sessions, pings the tmux server and
classifies what each terminal is showing. It runs one pass and exits; use
'fleetwatch watch' for continuous supervision and stuck detection over time.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusRow struct {
	ID       string
	Role     string
	Exists   bool
	Terminal gateway.TerminalStatus
	Err      error
}

type statusReport struct {
	Daemon health.DaemonHealth
	Rows   []statusRow
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()

	report, err := probeSessions(ctx, cfg, tmux.NewClient(cfg.Gateway.Socket), gateway.NewTmux(cfg.Gateway.Socket))
	if err != nil && !errors.Is(err, tmux.ErrNoServer) {
		return err
	}
	out := cmd.OutOrStdout()
	renderStatus(out, paletteFor(out), report)
	return nil
}

// probeSessions runs one health check and one terminal classification per
// matching session on a supervisor that is never started.
func probeSessions(ctx context.Context, cfg *config.Config, lister sessionLister, gw gateway.Gateway) (statusReport, error) {
	reg := registry.NewMemory()
	sup := supervisor.New(supervisor.Options{
		Config:   cfg,
		Gateway:  gw,
		Registry: reg,
		Sink:     display.NewBuffers(0),
	})
	defer sup.Stop()

	var report statusReport
	report.Daemon = sup.Health().PingDaemon(ctx)

	names, err := lister.ListSessions(ctx)
	if err != nil {
		return report, err
	}
	for _, name := range names {
		if role, ok := roleFromName(name, cfg.Gateway.SessionPrefix); ok {
			reg.Add(registry.Session{ID: name, Role: role, Status: registry.StatusIdle})
		}
	}

	snap := sup.Health().PerformHealthCheck(ctx)
	for _, sess := range reg.List() {
		row := statusRow{ID: sess.ID, Role: sess.Role, Exists: snap.Sessions[sess.ID].HasSession}
		if row.Exists {
			var a stuck.Analysis
			a, row.Err = sup.Stuck().AnalyzeTerminal(ctx, sess.ID)
			row.Terminal = a.Signals.TerminalStatus
		}
		report.Rows = append(report.Rows, row)
	}
	sort.Slice(report.Rows, func(i, j int) bool { return report.Rows[i].ID < report.Rows[j].ID })
	return report, nil
}

func renderStatus(w io.Writer, pal palette, r statusReport) {
	if r.Daemon.ConsecutiveFailures == 0 {
		fmt.Fprintf(w, "tmux server: %s\n", pal.render(pal.ok, "reachable"))
	} else {
		fmt.Fprintf(w, "tmux server: %s\n", pal.render(pal.err, "unreachable"))
	}
	if len(r.Rows) == 0 {
		fmt.Fprintln(w, pal.render(pal.muted, "No matching sessions"))
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s %s\n",
		pad(pal.render(pal.header, "SESSION"), 24),
		pad(pal.render(pal.header, "ROLE"), 12),
		pal.render(pal.header, "TERMINAL"))
	for _, row := range r.Rows {
		role := row.Role
		if role == "" {
			role = "shell"
		}
		var terminal string
		switch {
		case !row.Exists:
			terminal = pal.render(pal.err, "missing")
		case row.Err != nil:
			terminal = pal.render(pal.warn, "unknown ("+row.Err.Error()+")")
		case row.Terminal.NeedsInput():
			terminal = pal.render(pal.stuck, string(row.Terminal))
		default:
			terminal = string(row.Terminal)
		}
		fmt.Fprintf(w, "%s %s %s\n", pad(row.ID, 24), pad(role, 12), terminal)
	}
}
