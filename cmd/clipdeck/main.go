package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/clipdeck/internal/app"
	"github.com/petems/clipdeck/internal/audio"
	"github.com/petems/clipdeck/internal/config"
	"github.com/petems/clipdeck/internal/hotkey"
	"github.com/petems/clipdeck/internal/logging"
	"github.com/petems/clipdeck/internal/permissions"
	"github.com/petems/clipdeck/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Microphone permission is requested on the first recording, not here
	platform, err := audio.New(&cfg.Audio, log.With().Str("component", "audio").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer platform.Close()

	application := app.New(app.Config{
		Platform: platform,
		Config:   cfg,
		Logger:   log,
	})

	trayUI := tray.New(application, cfg, Version, Commit, log)
	application.SetStatusUpdater(trayUI)

	// The tray stays usable without a global hotkey
	if err := permissions.Accessibility(); err != nil {
		log.Warn().Err(err).Msg("Global hotkey may not work")
	}
	hkManager, err := hotkey.New()
	if err != nil {
		log.Warn().Err(err).Msg("Hotkeys unavailable, use the tray menu to record")
	} else {
		defer hkManager.Close()
		accel := cfg.PlatformHotkey()
		if err := hkManager.Register(accel, application.OnHotkey); err != nil {
			log.Warn().Err(err).Str("hotkey", accel).Msg("Failed to register hotkey")
		} else {
			log.Info().Str("hotkey", accel).Str("mode", cfg.Mode).Msg("Hotkey registered")
		}
	}

	log.Info().Str("version", Version).Msg("ClipDeck starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		if err := application.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
		os.Exit(0)
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}

	if err := application.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}
