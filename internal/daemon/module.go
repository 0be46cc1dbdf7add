package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/clinivo/messaging/internal/bus"
	"github.com/clinivo/messaging/internal/chat"
	"github.com/clinivo/messaging/internal/config"
	"github.com/clinivo/messaging/internal/identity"
	"github.com/clinivo/messaging/internal/lock"
	"github.com/clinivo/messaging/internal/logging"
	"github.com/clinivo/messaging/internal/notify"
	"github.com/clinivo/messaging/internal/status"
	"github.com/clinivo/messaging/internal/store"
	"github.com/clinivo/messaging/internal/timeline"
	"github.com/clinivo/messaging/internal/transport"
)

// Module returns the fx module for the messaging daemon, composing all
// providers and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDB,
			provideAdapter,
			provideTransport,
			provideNotifier,
			provideDirectory,
			provideService,
			providePoller,
			provideCoordinator,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), cfg.UserID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideDB(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dsn := cfg.Database.DSN
	if cfg.Database.Driver == "sqlite3" && dsn == "" {
		dsn = cfg.SQLitePath()
	}
	db, err := store.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, err
	}

	// Never migrate unless asked: deployments still on the legacy rooms
	// schema are served as-is through the adapter.
	if cfg.Database.AutoMigrate {
		result, err := db.Migrate()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if result.Changed {
			logger.Info("migrations applied", zap.Uint("version", result.Version))
		} else {
			logger.Info("migrations up to date", zap.Uint("version", result.Version))
		}
	}
	logger.Info("store initialized", zap.String("driver", cfg.Database.Driver))
	return db, nil
}

func provideAdapter(db *store.DB, logger *zap.Logger) *store.Adapter {
	return store.NewAdapter(db, logger)
}

func provideTransport(cfg *config.Config, m *status.Machine, logger *zap.Logger) *transport.Client {
	return transport.NewClient(transport.Options{
		FeedURL:     cfg.Transport.FeedURL,
		BaseDelay:   cfg.ReconnectBaseDelay(),
		MaxAttempts: cfg.Transport.MaxReconnectAttempts,
	}, m, logger)
}

func provideNotifier(cfg *config.Config, logger *zap.Logger) *notify.Client {
	return notify.NewClient(cfg.Notify.URL, logger)
}

func provideDirectory(cfg *config.Config) identity.Directory {
	if cfg.Identity.URL == "" {
		// Lookups fail and callers fall back to raw IDs.
		return identity.Static{}
	}
	return identity.NewClient(cfg.Identity.URL)
}

func provideService(adapter *store.Adapter, client *transport.Client, notifier *notify.Client, dir identity.Directory, b *bus.Bus, logger *zap.Logger) *chat.Service {
	return chat.NewService(adapter, client, notifier, dir, b, logger)
}

func providePoller(svc *chat.Service, cfg *config.Config, logger *zap.Logger) *chat.Poller {
	return chat.NewPoller(svc, cfg.PollInterval(), logger)
}

func provideCoordinator(svc *chat.Service, b *bus.Bus, logger *zap.Logger) *timeline.Coordinator {
	return timeline.NewCoordinator(svc, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, client *transport.Client, poller *chat.Poller, coordinator *timeline.Coordinator, db *store.DB, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			coordinator.Start()
			poller.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Connect in the background; the call resolves into either a
			// live feed or fallback mode, never an error worth failing
			// startup for.
			go func() {
				if err := client.Connect(context.Background(), cfg.UserID); err != nil {
					logger.Warn("feed connect aborted", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			client.Disconnect()
			poller.Stop()
			coordinator.Stop()
			srv.Stop(ctx)
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
