package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/env"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/peer"
	"github.com/matheus3301/chatsync/internal/primer"
	"github.com/matheus3301/chatsync/internal/send"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.chatsync/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideEnv,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideSyncEngine,
			provideTransport,
			provideBridge,
			providePipeline,
			providePrimer,
			provideSessionService,
			provideSyncService,
			provideChatService,
			provideMessageService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return session.LoadConfig()
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideEnv(b *bus.Bus) *env.Environment {
	return env.New(b)
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName), lock.Holder{User: cfg.UserID, Socket: socketPath(p)})
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never migrate the same
// database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
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

func provideBackend(cfg *config.Config, logger *zap.Logger) backend.Backend {
	logger.Info("using backend", zap.String("url", cfg.Backend.URL))
	return backend.NewHTTPClient(cfg.Backend.URL, cfg.UserID, cfg.Backend.Timeout.Duration, logger.Named("backend"))
}

func provideSyncEngine(cfg *config.Config, be backend.Backend, db *store.DB, b *bus.Bus, e *env.Environment, m *status.Machine, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(be, db, b, e, m, logger.Named("sync"), intsync.Options{
		UserID:     cfg.UserID,
		OverlayTTL: cfg.Overlay.TTL.Duration,
		Intervals: intsync.Intervals{
			Chat:        cfg.Poll.ChatInterval.Duration,
			ChatIdle:    cfg.Poll.ChatIdleInterval.Duration,
			Updates:     cfg.Poll.UpdatesInterval.Duration,
			UpdatesIdle: cfg.Poll.UpdatesIdleInterval.Duration,
		},
	})
}

// provideTransport returns nil when no relay is configured; peer hints are
// then disabled and the daemon relies on polling alone.
func provideTransport(cfg *config.Config, logger *zap.Logger) *peer.WSTransport {
	if cfg.Relay.URL == "" {
		logger.Info("no relay configured, peer hints disabled")
		return nil
	}
	return peer.NewWSTransport(cfg.Relay.URL, cfg.UserID, logger.Named("relay"))
}

func provideBridge(t *peer.WSTransport, engine *intsync.Engine, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *peer.Bridge {
	if t == nil {
		return nil
	}
	return peer.NewBridge(engine, t, b, logger.Named("peer"), peer.BridgeOptions{UserID: cfg.UserID})
}

func providePipeline(cfg *config.Config, engine *intsync.Engine, be backend.Backend, db *store.DB, e *env.Environment, b *bus.Bus, bridge *peer.Bridge, logger *zap.Logger) *send.Pipeline {
	p := send.New(engine, be, db, e, b, logger.Named("send"), send.Options{
		Premium:     cfg.Premium,
		PINRequired: cfg.PINRequired,
		Throttle: send.ThrottleConfig{
			Window:      cfg.Throttle.Window.Duration,
			StandardCap: cfg.Throttle.StandardCap,
			PremiumCap:  cfg.Throttle.PremiumCap,
		},
	})
	if bridge != nil {
		p.SetBroadcaster(bridge)
	}
	return p
}

func providePrimer(cfg *config.Config, engine *intsync.Engine, db *store.DB, b *bus.Bus, e *env.Environment, logger *zap.Logger) *primer.Primer {
	return primer.New(engine, db, b, e, logger.Named("primer"), primer.Options{
		BatchSize: cfg.Primer.BatchSize,
		IdleSlice: cfg.Primer.IdleSlice.Duration,
	})
}

func provideSessionService(p Params, m *status.Machine, engine *intsync.Engine, e *env.Environment, b *bus.Bus) *api.SessionService {
	return api.NewSessionService(p.SessionName, m, engine, e, b)
}

func provideSyncService(engine *intsync.Engine) *api.SyncService {
	return api.NewSyncService(engine)
}

func provideChatService(engine *intsync.Engine, pipeline *send.Pipeline, bridge *peer.Bridge) *api.ChatService {
	return api.NewChatService(engine, pipeline, bridge)
}

func provideMessageService(pipeline *send.Pipeline) *api.MessageService {
	return api.NewMessageService(pipeline)
}

// components groups what the lifecycle hook starts and stops.
type components struct {
	fx.In

	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Engine    *intsync.Engine
	Transport *peer.WSTransport
	Bridge    *peer.Bridge
	Primer    *primer.Primer
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c components) {
	var cancel context.CancelFunc
	transportDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())

			// Restores persisted state and starts the get-updates poller.
			if err := c.Engine.Start(runCtx); err != nil {
				cancel()
				return err
			}

			if c.Transport != nil {
				go func() {
					defer close(transportDone)
					c.Transport.Run(runCtx)
				}()
				c.Bridge.Start(runCtx)
			} else {
				close(transportDone)
			}

			c.Primer.Start(runCtx)

			// Start gRPC server in background.
			go func() {
				if err := c.Server.Start(); err != nil {
					c.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Server.Stop(ctx)
			c.Primer.Stop()
			if c.Bridge != nil {
				c.Bridge.Stop()
			}
			if cancel != nil {
				cancel()
			}
			<-transportDone
			c.Engine.Stop()
			if err := c.DB.Close(); err != nil {
				c.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				c.Logger.Warn("error releasing lock", zap.Error(err))
			}
			c.Logger.Info("daemon stopped")
			return nil
		},
	})
}
