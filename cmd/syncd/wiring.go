package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"offlinesync/internal/api"
	"offlinesync/internal/config"
	"offlinesync/internal/database"
	"offlinesync/internal/domain"
	"offlinesync/internal/google"
	"offlinesync/internal/logging"
	"offlinesync/internal/network"
	"offlinesync/internal/notify"
	"offlinesync/internal/repository"
	"offlinesync/internal/worker"

	"github.com/rs/zerolog"
)

const redisDeadLetterLimit = 1000

func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func loadConfigAndLogger(path string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath(path))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// storage is the opened persistence stack. db is nil unless SQLite is in use.
type storage struct {
	store       domain.PersistentStore
	deadLetters domain.DeadLetterSink
	db          *database.DB
	closers     []func() error
}

func (s *storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*storage, error) {
	s := &storage{}

	switch cfg.Store.Driver {
	case config.StoreMemory:
		s.store = repository.NewMemoryStore()
		logger.Warn().Msg("Using in-memory store, pending actions will not survive a restart")

	case config.StoreSQLite:
		db, err := database.NewDB(cfg.Store.Path, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.store, s.deadLetters, s.db = db, db, db

	case config.StoreRedis:
		client := repository.NewRedisClient(cfg.Redis)
		s.closers = append(s.closers, client.Close)
		if err := repository.Ping(ctx, client); err != nil && !cfg.Store.Failover {
			_ = s.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}

		redisStore := repository.NewRedisStore(client, cfg.Store.KeyPrefix)
		s.store = redisStore
		s.deadLetters = repository.NewRedisDeadLetters(client, cfg.Store.KeyPrefix, redisDeadLetterLimit)

		if cfg.Store.Failover {
			db, err := database.NewDB(cfg.Store.Path, logger)
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			s.closers = append(s.closers, db.Close)
			s.db = db
			s.deadLetters = db
			s.store = repository.NewFailoverStore(redisStore, db, logging.Component(logger, "failover"))
		}

	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}

	logger.Info().Str("driver", cfg.Store.Driver).Bool("failover", cfg.Store.Failover).Msg("Store opened")
	return s, nil
}

func buildRemote(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.RemoteSyncer, error) {
	switch cfg.Remote.Driver {
	case config.RemoteSheets:
		remote, err := google.NewSheetsRemote(ctx, cfg.Google, logging.Component(logger, "sheets"))
		if err != nil {
			return nil, err
		}
		remote.Start(ctx)
		return remote, nil
	default:
		return api.NewClient(cfg.Remote, nil), nil
	}
}

// startMonitor seeds the monitor with one probe when a probe URL is configured,
// then keeps probing in the background.
func startMonitor(ctx context.Context, cfg config.NetworkConfig, logger *zerolog.Logger) *network.Monitor {
	monitorLogger := logging.Component(logger, "network")
	if cfg.ProbeURL == "" {
		return network.NewMonitor(cfg.AssumeOnline, cfg.Debounce(), monitorLogger)
	}

	probe := network.NewHTTPProbe(cfg.ProbeURL, cfg.ProbeInterval(), cfg.ProbeTimeout())
	online, err := probe.Check(ctx)
	if err != nil {
		monitorLogger.Warn().Err(err).Msg("Initial connectivity probe failed")
		online = cfg.AssumeOnline
	}

	monitor := network.NewMonitor(online, cfg.Debounce(), monitorLogger)
	go monitor.Run(ctx, probe)
	return monitor
}

func retryPolicy(cfg config.RetryConfig) worker.RetryPolicy {
	return worker.RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		RetryDelay:    cfg.RetryDelay(),
		MaxDelay:      cfg.MaxDelay(),
		BackoffFactor: cfg.BackoffFactor,
		Jitter:        cfg.Jitter,
	}
}

func buildNotifier(cfg config.NotifyConfig, logger *zerolog.Logger) (*notify.Notifier, error) {
	presenters := []notify.Presenter{notify.NewLogPresenter(logging.Component(logger, "notify"))}

	if cfg.Telegram.BotToken != "" {
		bot, err := notify.NewTelegramBot(cfg.Telegram.BotToken, cfg.Telegram.Debug)
		if err != nil {
			return nil, err
		}
		presenters = append(presenters, notify.NewTelegramPresenter(bot, cfg.Telegram.ChatID))
		logger.Info().Int64("chat_id", cfg.Telegram.ChatID).Msg("Telegram notifications enabled")
	}

	return notify.NewNotifier(notify.DefaultMessages(cfg.Messages), logger, presenters...), nil
}
