// Package daemon composes relayd: history, relay core, the public HTTP
// listener and the admin socket.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/admin"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/history"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/logging"
	"github.com/matheus3301/relay/internal/paths"
	"github.com/matheus3301/relay/internal/relay"
	"github.com/matheus3301/relay/internal/sched"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config
	Dir     string // optional override for testing; empty = paths.ServerDir
	Socket  string // optional override for testing; empty = paths.SocketPath
	Console bool
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return paths.ServerDir(p.Profile)
}

func (p Params) socket() string {
	if p.Socket != "" {
		return p.Socket
	}
	return paths.SocketPath(p.Profile)
}

// Module returns the fx module for the relay daemon.
func Module(p Params) fx.Option {
	return fx.Module("relayd",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideHistory,
			provideRelay,
			provideAdmin,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(lc fx.Lifecycle, p Params) (*zap.Logger, error) {
	if err := paths.EnsureDir(p.dir()); err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(logging.Options{
		Path:      paths.LogPath(p.dir(), "relayd"),
		Component: "relayd",
		Profile:   p.Profile,
		Console:   p.Console,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(closeLog))
	return logger, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("dir", p.dir()))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideHistory depends on the lock so two daemons never open one store.
func provideHistory(p Params, _ *lock.Lock, logger *zap.Logger) (*history.Log, error) {
	cfg := p.Config.Server
	backend, err := history.OpenBackend(cfg.HistoryBackend, p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("history backend opened", zap.String("kind", cfg.HistoryBackend))
	return history.New(backend, history.Options{
		Capacity:    cfg.HistoryCapacity,
		DedupWindow: cfg.DedupWindow.Std(),
	}, logger.Named("history")), nil
}

func provideRelay(p Params, hist *history.Log, logger *zap.Logger) *relay.Server {
	cfg := p.Config.Server
	return relay.NewServer(hist, sched.Real(), relay.Options{
		Registry: relay.RegistryOptions{
			GraceWindow: cfg.GraceWindow.Std(),
			IdleAfter:   cfg.IdleAfter.Std(),
			SweepEvery:  cfg.SweepEvery.Std(),
			StaleAfter:  cfg.StaleAfter.Std(),
		},
		HistorySeed:       cfg.HistorySeed,
		ClearMaxOccupancy: cfg.ClearMaxOccupancy,
		QueryPageSize:     cfg.QueryPageSize,
		MaxFrameBytes:     cfg.MaxFrameBytes,
	}, logger.Named("relay"))
}

func provideAdmin(p Params, srv *relay.Server, logger *zap.Logger) (*admin.Server, error) {
	svc := admin.NewService(p.Profile, p.Config.Server.HistoryBackend, srv)
	return admin.Listen(p.socket(), svc, logger.Named("admin"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, adm *admin.Server, rs *relay.Server, hist *history.Log, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := srv.Listen(); err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			go func() {
				if err := adm.Serve(); err != nil {
					logger.Error("admin server error", zap.Error(err))
				}
			}()
			logger.Info("relay started", zap.String("listen", srv.Addr()), zap.String("admin", adm.SocketPath()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			adm.Stop(ctx)
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			rs.Close()
			if err := hist.Close(); err != nil {
				logger.Warn("error closing history", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("relay stopped")
			return nil
		},
	})
}
