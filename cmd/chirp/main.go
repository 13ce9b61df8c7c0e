package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ricardofn/chirp/internal/bus"
	"github.com/ricardofn/chirp/internal/config"
	"github.com/ricardofn/chirp/internal/profile"
	"github.com/ricardofn/chirp/internal/session"
	"github.com/ricardofn/chirp/internal/store"
	"github.com/ricardofn/chirp/internal/tui"
	"github.com/ricardofn/chirp/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	streamFlag := flag.String("stream", "", "stream URL (overrides config)")
	tokenFlag := flag.String("token", "", "bearer token (overrides CHIRP_TOKEN and the profile token file)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		cfg = &config.Config{PageSize: config.DefaultPageSize}
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *streamFlag != "" {
		cfg.StreamURL = *streamFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := profile.ResolveToken(*tokenFlag, profileName)
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: no credentials (pass -token, set CHIRP_TOKEN, or write the profile token file)")
		os.Exit(1)
	}

	app := fx.New(
		fx.NopLogger,
		session.Module(session.Params{
			Profile: profileName,
			Token:   token,
			Config:  cfg,
		}),
		fx.Invoke(runUI),
	)

	app.Run()
}

// runUI starts the TUI after the session is up and shuts the session down
// when the UI exits.
func runUI(lc fx.Lifecycle, sd fx.Shutdowner, st *store.Store, notifier *typing.Notifier, b *bus.Bus, logger *zap.Logger) {
	ui := tui.NewApp(st, notifier, b, logger)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("ui error", zap.Error(err))
				}
				_ = sd.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			return nil
		},
	})
}
