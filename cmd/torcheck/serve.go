package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/torcheck/internal/config"
	"github.com/nao1215/torcheck/internal/database"
	"github.com/nao1215/torcheck/internal/metrics"
	"github.com/nao1215/torcheck/internal/notify"
	"github.com/nao1215/torcheck/internal/scheduler"
	"github.com/nao1215/torcheck/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Refresh the Tor status periodically and serve it over HTTP",
		Long: `Serve refreshes the status every --update-interval and exposes it on
--listen:

  GET  /healthz          liveness
  GET  /api/v1/status    last status as JSON (503 before the first check)
  POST /api/v1/refresh   on-demand check, at most one per 10 seconds
  GET  /api/v1/history   recorded checks (?limit=N)
  GET  /metrics          Prometheus metrics

Every check is recorded in the history database unless --no-history is
set. When TORCHECK_TELEGRAM_TOKEN and TORCHECK_TELEGRAM_CHAT_ID are set,
state changes are sent to Telegram.

Examples:
  # Serve on the default address, checking every 5 minutes
  torcheck serve

  # Check every minute and keep one week of history
  torcheck serve --update-interval 1m --history-retention 168h`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	addTorFlags(cmd)
	cmd.Flags().StringP("listen", "l", config.DefaultListen, "Status API listen address")
	cmd.Flags().DurationP("update-interval", "i", config.DefaultUpdateInterval, "Period between checks")
	cmd.Flags().Duration("history-retention", 0, "Delete checks older than this (0 keeps everything)")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	retention, err := cmd.Flags().GetDuration("history-retention")
	if err != nil {
		return err
	}
	if retention < 0 {
		return fmt.Errorf("--history-retention must not be negative, got %s", retention)
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, cfg, logger, cmd.ErrOrStderr(), retention)
}

// runServe wires the scheduler, its observers and the status API, and runs
// until ctx is done or the API fails.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, progress io.Writer, retention time.Duration) error {
	m := metrics.New(metrics.WithRuntimeCollectors())

	stack, err := newTorStack(ctx, cfg, logger, progress, stackOptions{
		wrapFetcher:       m.InstrumentFetcher,
		tolerateProxyDown: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("failed to release Tor sessions", "error", err)
		}
	}()

	observers := []scheduler.Observer{m}
	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetricsHandler(m.Handler()),
		server.WithVersion(getVersion()),
	}

	if cfg.History.Enabled {
		db, err := openHistory(cfg, true)
		if err != nil {
			return err
		}
		defer db.Close()

		observers = append(observers, db)
		if retention > 0 {
			observers = append(observers, pruneHistory(db, retention, logger))
		}
		serverOpts = append(serverOpts, server.WithHistory(db))
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	observers = append(observers, notifier)

	sched := scheduler.New(stack.coord,
		scheduler.WithInterval(cfg.UpdateInterval),
		scheduler.WithLogger(logger),
		scheduler.WithObservers(observers...),
	)
	srv := server.New(cfg.Listen, sched, serverOpts...)

	logger.Info("torcheck starting",
		"version", getVersion(),
		"listen", cfg.Listen,
		"interval", sched.Interval(),
		"proxy", stack.client.ProxyAddress(),
		"history", cfg.History.Enabled,
		"telegram", cfg.Telegram.Enabled(),
	)
	fmt.Fprintf(progress, "torcheck %s serving on http://%s (checking every %s)\n",
		getVersion(), cfg.Listen, sched.Interval())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	err = g.Wait()
	logger.Info("torcheck stopped")
	return err
}

// newNotifier returns a Telegram notifier when a token is configured and a
// silent one otherwise.
func newNotifier(cfg *config.Config, logger *slog.Logger) (*notify.Notifier, error) {
	var sender notify.Sender = notify.NoopSender{}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegramSender(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("failed to set up Telegram alerts: %w", err)
		}
		sender = tg
	}
	return notify.NewNotifier(sender,
		notify.WithLogger(logger),
		notify.WithRevealAddresses(cfg.RevealAddresses),
	), nil
}

// pruneHistory deletes checks older than retention after every refresh.
func pruneHistory(db *database.HistoryDB, retention time.Duration, logger *slog.Logger) scheduler.Observer {
	return scheduler.ObserverFunc(func(ctx context.Context, _, cur scheduler.Status) error {
		deleted, err := db.DeleteBefore(ctx, cur.CheckedAt.Add(-retention))
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		if deleted > 0 {
			logger.Debug("pruned history", "deleted", deleted)
		}
		return nil
	})
}
