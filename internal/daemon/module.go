package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/suhas-24/couple-chat-app-sub002/internal/api"
	"github.com/suhas-24/couple-chat-app-sub002/internal/auth"
	"github.com/suhas-24/couple-chat-app-sub002/internal/bus"
	"github.com/suhas-24/couple-chat-app-sub002/internal/config"
	"github.com/suhas-24/couple-chat-app-sub002/internal/lock"
	"github.com/suhas-24/couple-chat-app-sub002/internal/logging"
	"github.com/suhas-24/couple-chat-app-sub002/internal/outbox"
	"github.com/suhas-24/couple-chat-app-sub002/internal/realtime"
	"github.com/suhas-24/couple-chat-app-sub002/internal/rest"
	"github.com/suhas-24/couple-chat-app-sub002/internal/session"
	"github.com/suhas-24/couple-chat-app-sub002/internal/store"
	intsync "github.com/suhas-24/couple-chat-app-sub002/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// creds is the loaded (possibly empty) auth state for the session.
type creds struct {
	Token  string
	UserID string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideCredentials,
			provideRestClient,
			provideJournal,
			provideRealtime,
			provideSyncEngine,
			provideSessionService,
			provideSyncService,
			provideChatService,
			provideMessageService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params, logger *zap.Logger) creds {
	c, err := auth.Load(session.CredentialsPath(p.SessionName))
	if err != nil {
		if !errors.Is(err, auth.ErrNoToken) {
			logger.Warn("failed to load credentials", zap.Error(err))
		}
		return creds{}
	}
	subject, err := c.Inspect(time.Now())
	if errors.Is(err, auth.ErrTokenExpired) {
		// Same startup path as no token, the operator must log in again.
		logger.Warn("stored auth token expired, login required", zap.String("user", c.UserID))
		return creds{}
	}
	userID := c.UserID
	if userID == "" {
		userID = subject
	}
	return creds{Token: c.Token, UserID: userID}
}

func provideRestClient(cfg *config.Config, cr creds, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.ServerURL, cr.Token, logger)
}

func provideJournal(db *store.DB, logger *zap.Logger) *outbox.Journal {
	return outbox.NewJournal(db, logger)
}

func provideRealtime(cfg *config.Config, cr creds, b *bus.Bus, journal *outbox.Journal, logger *zap.Logger) (*realtime.Client, error) {
	return realtime.New(realtime.Options{
		ServerURL: cfg.ServerURL,
		Token:     cr.Token,
		UserID:    cr.UserID,
		Tuning:    cfg.Realtime,
		Logger:    logger,
		Bus:       b,
		Journal:   journal,
	})
}

func provideSyncEngine(db *store.DB, b *bus.Bus, cr creds, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, cr.UserID, logger)
}

func provideSessionService(p Params, cfg *config.Config, rt *realtime.Client, rc *rest.Client, db *store.DB, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.SessionName, cfg.ServerURL, session.CredentialsPath(p.SessionName), rt, rc, db, logger)
}

func provideSyncService(p Params, engine *intsync.Engine, rc *rest.Client, b *bus.Bus, cr creds, logger *zap.Logger) *api.SyncService {
	return api.NewSyncService(engine, rc, b, cr.UserID, p.SessionName, logger)
}

func provideChatService(db *store.DB, rt *realtime.Client, rc *rest.Client) *api.ChatService {
	return api.NewChatService(db, rt, rc)
}

func provideMessageService(db *store.DB, rt *realtime.Client, cr creds, logger *zap.Logger) *api.MessageService {
	return api.NewMessageService(db, rt, cr.UserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, rt *realtime.Client, engine *intsync.Engine, cr creds, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to rt.* and message.* bus events).
			engine.Start(context.Background())

			// Start control server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			if cr.Token != "" {
				if err := rt.Connect(); err != nil {
					logger.Error("auto-connect failed", zap.Error(err))
				}
			} else {
				logger.Info("no credentials found, login required")
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			rt.Destroy()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
