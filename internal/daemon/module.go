// Package daemon composes the conversation engine. The host supplies a
// transport; everything else (caches, router, outbox, gap filler) is
// provided and wired here.
package daemon

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"chatview/internal/avatar"
	"chatview/internal/bus"
	"chatview/internal/client"
	"chatview/internal/config"
	"chatview/internal/dialog"
	"chatview/internal/gapfill"
	"chatview/internal/lock"
	"chatview/internal/logging"
	"chatview/internal/msgcache"
	"chatview/internal/outbox"
	"chatview/internal/router"
	"chatview/internal/session"
	"chatview/internal/status"
	"chatview/internal/store"
	"chatview/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Transport   transport.Transport
	DataDir     string // optional override for testing; empty = session dir
}

// Module returns the fx module for the engine, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideTransport,
			provideFiles,
			provideDB,
			provideRouter,
			provideMessageCache,
			provideDialogCache,
			provideAvatarCache,
			provideOutbox,
			provideGapFiller,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func dataDir(p Params) string {
	if p.DataDir != "" {
		return p.DataDir
	}
	return session.Dir(p.SessionName)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return config.Default()
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.DataDir != "" {
		return zap.NewNop(), nil
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	dir := dataDir(p)
	logger.Info("acquiring session lock", zap.String("dir", dir))
	l, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideTransport(p Params) transport.Transport {
	return p.Transport
}

func provideFiles(p Params) (*store.Files, error) {
	return store.NewFiles(dataDir(p))
}

func provideDB(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AvatarDBPath(p.SessionName)
	if p.DataDir != "" {
		dbPath = filepath.Join(p.DataDir, "avatars.db")
	}
	db, err := store.OpenDB(dbPath)
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
	logger.Info("avatar store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRouter(b *bus.Bus, logger *zap.Logger) *router.Router {
	return router.New(b, logger)
}

func provideMessageCache(files *store.Files, tp transport.Transport, rt *router.Router, cfg *config.Config, logger *zap.Logger) *msgcache.Cache {
	return msgcache.New(files, tp, rt, logger,
		cfg.Cache.WindowSize, seconds(cfg.Cache.MessageTTLSeconds))
}

func provideDialogCache(files *store.Files, tp transport.Transport, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *dialog.Cache {
	return dialog.New(files, tp, b, logger,
		seconds(cfg.Cache.DialogTTLSeconds), cfg.Cache.DialogFetchLimit)
}

func provideAvatarCache(db *store.DB, tp transport.Transport, cfg *config.Config, logger *zap.Logger) *avatar.Cache {
	return avatar.New(db, tp, logger, cfg.Cache.AvatarConcurrency)
}

func provideOutbox(cache *msgcache.Cache, rt *router.Router, tp transport.Transport, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Tracker {
	return outbox.New(cache, rt, tp, b, logger, seconds(cfg.Cache.SendTimeoutSeconds))
}

func provideGapFiller(cache *msgcache.Cache, rt *router.Router, tp transport.Transport, b *bus.Bus, logger *zap.Logger) *gapfill.Filler {
	return gapfill.New(cache, rt, tp, b, logger, gapfill.DefaultFetchLimit)
}

func provideClient(dlgs *dialog.Cache, msgs *msgcache.Cache, avs *avatar.Cache, ob *outbox.Tracker, rt *router.Router, b *bus.Bus, m *status.Machine, files *store.Files, logger *zap.Logger) *client.Client {
	return client.New(client.Params{
		Dialogs:  dlgs,
		Messages: msgs,
		Avatars:  avs,
		Outbox:   ob,
		Router:   rt,
		Bus:      b,
		Machine:  m,
		Files:    files,
		Logger:   logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, tp transport.Transport, rt *router.Router, filler *gapfill.Filler, machine *status.Machine, lk *lock.Lock, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			rt.Run(runCtx, tp.Events())
			filler.Start(runCtx)
			status.Watch(runCtx, machine, b)

			_ = machine.Transition(status.Ready)
			logger.Info("engine started")
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			filler.Stop()
			rt.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing avatar store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
