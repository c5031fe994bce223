package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/fleetwatch/internal/clock"
	"github.com/Iron-Ham/fleetwatch/internal/config"
	"github.com/Iron-Ham/fleetwatch/internal/display"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
	"github.com/Iron-Ham/fleetwatch/internal/history"
	"github.com/Iron-Ham/fleetwatch/internal/logging"
	"github.com/Iron-Ham/fleetwatch/internal/registry"
	"github.com/Iron-Ham/fleetwatch/internal/statusapi"
	"github.com/Iron-Ham/fleetwatch/internal/supervisor"
	"github.com/Iron-Ham/fleetwatch/internal/tmux"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Supervise sessions until interrupted",
	Long: `Watch tracks every tmux session on the configured socket whose name starts
with gateway.session_prefix. It polls their output, checks their health and
prints an alert line whenever a session goes missing, the tmux server stops
answering, or an agent looks stuck.

The config file is reloaded when it changes. With --listen (or
status.listen) a JSON status API is served on that address.`,
	RunE: runWatch,
}

var (
	watchListen string
	watchRescan time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "serve the status API on this address (overrides status.listen)")
	watchCmd.Flags().DurationVar(&watchRescan, "rescan", 5*time.Second, "how often to look for new or vanished sessions")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if watchRescan <= 0 {
		return fmt.Errorf("--rescan must be positive")
	}
	listen := cfg.Status.Listen
	if watchListen != "" {
		listen = watchListen
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.NewMemory()
	buffers := display.NewBuffers(cfg.Poller.OutputBufferSize)
	opts := supervisor.Options{
		Config:   cfg,
		Gateway:  gateway.NewTmux(cfg.Gateway.Socket),
		Registry: reg,
		Sink:     buffers,
		Logger:   logger,
	}

	var store *history.SQLite
	if cfg.History.Enabled {
		store, err = history.Open(ctx, cfg.History.HistoryPath(history.DefaultFileName), clock.Real())
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer func() { _ = store.Close() }()
		opts.History = store
	}

	sup := supervisor.New(opts)
	out := cmd.OutOrStdout()
	alerts := newAlerter(out, paletteFor(out))
	defer sup.Stuck().OnStuckDetected(alerts.stuckDetected)()
	defer sup.Health().OnSessionStatusChange(alerts.sessionStatus)()
	defer sup.Health().OnDaemonStatusChange(alerts.daemonStatus)()

	scanner := newSessionScanner(tmux.NewClient(cfg.Gateway.Socket), sup, cfg.Gateway.SessionPrefix, logger)
	rescan := func() {
		added, removed, err := scanner.scan(ctx)
		if err != nil {
			logger.Warn("session scan failed", "error", err)
			return
		}
		alerts.sessionsChanged(added, removed)
	}
	rescan()

	sup.Start()
	defer sup.Stop()

	config.Watch(func(c *config.Config) {
		sup.ApplyConfig(c)
		logger.Info("configuration reloaded")
	}, func(err error) {
		logger.Warn("ignoring invalid configuration change", "error", err)
	})

	logger.Info("watch started",
		"socket", cfg.Gateway.Socket,
		"prefix", cfg.Gateway.SessionPrefix,
		"listen", listen,
		"history", cfg.History.Enabled)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		ticker := time.NewTicker(watchRescan)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				rescan()
			}
		}
	})
	if listen != "" {
		deps := statusapi.Deps{
			Health:   sup.Health(),
			Stuck:    sup.Stuck(),
			Sessions: reg,
			Polling:  sup.Poller(),
			Output:   buffers,
			Logger:   logger,
		}
		if store != nil {
			deps.History = store
		}
		server := statusapi.New(deps)
		p.Go(func(ctx context.Context) error {
			return server.Run(ctx, listen)
		})
	}

	err = p.Wait()
	logger.Info("watch stopped")
	return err
}
