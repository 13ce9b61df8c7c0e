// Package session composes one login session: everything is constructed on
// login and torn down on logout, so no state can leak across sessions.
package session

import (
	"context"
	"time"

	"github.com/ricardofn/chirp/internal/bus"
	"github.com/ricardofn/chirp/internal/config"
	"github.com/ricardofn/chirp/internal/lock"
	"github.com/ricardofn/chirp/internal/logging"
	"github.com/ricardofn/chirp/internal/profile"
	"github.com/ricardofn/chirp/internal/status"
	"github.com/ricardofn/chirp/internal/store"
	intsync "github.com/ricardofn/chirp/internal/sync"
	"github.com/ricardofn/chirp/internal/transport"
	"github.com/ricardofn/chirp/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Token   string
	Config  *config.Config
}

// Module returns the fx module for a session, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("session",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideClient,
			provideIdentity,
			provideStream,
			provideStore,
			provideDriver,
			provideNotifier,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideClient(p Params, logger *zap.Logger) *transport.Client {
	return transport.NewClient(p.Config.ServerURL, p.Token, logger)
}

func provideIdentity(client *transport.Client, logger *zap.Logger) (transport.Identity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := client.Me(ctx)
	if err != nil {
		return transport.Identity{}, err
	}
	logger.Info("identity established", zap.String("user_id", id.ID))
	return id, nil
}

func provideStream(p Params, logger *zap.Logger) *transport.Stream {
	return transport.NewStream(transport.StreamConfig{
		URL:    p.Config.StreamURL,
		Token:  p.Token,
		Logger: logger,
	})
}

func provideStore(p Params, id transport.Identity, client *transport.Client, b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(id.ID, client, b, logger, p.Config.PageSize)
}

func provideDriver(st *store.Store, stream *transport.Stream, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Driver {
	return intsync.NewDriver(st, stream, machine, b, logger)
}

func provideNotifier(client *transport.Client, logger *zap.Logger) *typing.Notifier {
	return typing.NewNotifier(client, 0, logger)
}

func registerLifecycle(lc fx.Lifecycle, driver *intsync.Driver, notifier *typing.Notifier, st *store.Store, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := driver.Start(context.Background()); err != nil {
				return err
			}
			logger.Info("session started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			notifier.Close()
			driver.Stop()
			st.Clear()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("session stopped")
			return nil
		},
	})
}
