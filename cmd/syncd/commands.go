package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offlinesync/internal/api"
	"offlinesync/internal/config"
	"offlinesync/internal/database"
	"offlinesync/internal/export"
	"offlinesync/internal/logging"
	"offlinesync/internal/metrics"
	"offlinesync/internal/queue"
	"offlinesync/internal/service"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "syncd",
		Short:         "Offline-first sync daemon",
		Long:          "syncd keeps local changes durable and replays them to the backend when connectivity returns.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	root.AddCommand(newRunCmd(&cfgPath), newQueueCmd(&cfgPath), newDeadLettersCmd(&cfgPath))
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync coordinator and status server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, *cfgPath)
		},
	}
}

func runDaemon(ctx context.Context, cfgPath string) error {
	cfg, logger, closer, err := loadConfigAndLogger(cfgPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	remote, err := buildRemote(ctx, cfg, logger)
	if err != nil {
		return err
	}

	monitor := startMonitor(ctx, cfg.Network, logger)

	coord, err := service.NewSyncCoordinator(ctx, st.store, monitor, remote, service.Options{
		Retry:             retryPolicy(cfg.Retry),
		QueueKey:          cfg.Queue.StorageKey,
		MaxActionAttempts: cfg.Queue.MaxActionAttempts,
		DrainInterval:     cfg.Queue.DrainInterval(),
		DeadLetters:       st.deadLetters,
	}, logging.Component(logger, "coordinator"))
	if err != nil {
		return err
	}
	defer coord.Close()

	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return err
	}
	coord.OnError(notifier.Handle)
	coord.Start(ctx)

	if cfg.Backup.Enabled && st.db != nil {
		go database.NewBackupService(st.db, cfg.Backup, logging.Component(logger, "backup")).Start(ctx)
	}

	errCh := make(chan error, 1)
	var server *api.StatusServer
	if cfg.API.Enabled {
		opts := []api.ServerOption{}
		if st.deadLetters != nil {
			opts = append(opts, api.WithDeadLetters(st.deadLetters))
		}
		if cfg.Monitoring.PrometheusEnabled {
			opts = append(opts, api.WithMetrics())
		}
		server = api.NewStatusServer(cfg.API, coord, logging.Component(logger, "api"), opts...)
		go func() { errCh <- server.Start() }()
	}

	logger.Info().Bool("online", monitor.Status()).Int("pending", coord.Queue().Len()).Msg("syncd started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Status server stopped")
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error().Err(shutdownErr).Msg("Status server shutdown failed")
		}
	}

	logger.Info().Msg("syncd stopped")
	return err
}

func newQueueCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or reset the pending action queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print pending actions in delivery order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStorage(cmd.Context(), *cfgPath, func(ctx context.Context, cfg *config.Config, st *storage) error {
				q, err := queue.Open(ctx, st.store, nil, queue.WithStorageKey(cfg.Queue.StorageKey))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), q.Snapshot())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard every pending action; local data is kept",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStorage(cmd.Context(), *cfgPath, func(ctx context.Context, cfg *config.Config, st *storage) error {
				q := queue.New(st.store, nil, queue.WithStorageKey(cfg.Queue.StorageKey))
				if err := q.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
				return nil
			})
		},
	})

	return cmd
}

func newDeadLettersCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Inspect actions dropped from the queue",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Print dropped actions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeadLetters(cmd.Context(), *cfgPath, func(ctx context.Context, _ *config.Config, st *storage) error {
				letters, err := st.deadLetters.ListDeadLetters(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), letters)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 100, "maximum number of entries")

	var exportLimit int
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write dropped actions to an Excel workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeadLetters(cmd.Context(), *cfgPath, func(ctx context.Context, cfg *config.Config, st *storage) error {
				letters, err := st.deadLetters.ListDeadLetters(ctx, exportLimit)
				if err != nil {
					return err
				}
				path, err := export.DeadLettersToExcel(cfg.Exports.Path, letters, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum number of entries (0 for all)")

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete dropped actions older than a cutoff (SQLite only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStorage(cmd.Context(), *cfgPath, func(ctx context.Context, _ *config.Config, st *storage) error {
				if st.db == nil {
					return errors.New("purge requires the sqlite store")
				}
				n, err := st.db.PurgeDeadLetters(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d dead letters\n", n)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff")

	cmd.AddCommand(list, exportCmd, purge)
	return cmd
}

func withStorage(ctx context.Context, cfgPath string, fn func(context.Context, *config.Config, *storage) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, closer, err := loadConfigAndLogger(cfgPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	return fn(ctx, cfg, st)
}

func withDeadLetters(ctx context.Context, cfgPath string, fn func(context.Context, *config.Config, *storage) error) error {
	return withStorage(ctx, cfgPath, func(ctx context.Context, cfg *config.Config, st *storage) error {
		if st.deadLetters == nil {
			return fmt.Errorf("store driver %q keeps no dead letters", cfg.Store.Driver)
		}
		return fn(ctx, cfg, st)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
