package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/ptzrec/cmd"
	"github.com/smazurov/ptzrec/internal/api"
	"github.com/smazurov/ptzrec/internal/app"
	"github.com/smazurov/ptzrec/internal/config"
	"github.com/smazurov/ptzrec/internal/logging"
	"github.com/smazurov/ptzrec/internal/metrics"
	"github.com/smazurov/ptzrec/internal/version"
)

const sessionAutostartTimeout = 15 * time.Second

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *app.Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.LoggingConfig())
		logger := logging.GetLogger("main")

		var (
			a       *app.App
			server  *api.Server
			watcher *config.Watcher[config.Recording]
		)

		hooks.OnStart(func() {
			var err error
			a, err = app.Build(opts)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}
			logger.Info("Starting ptzrec", "version", version.Get().Version, "camera", a.Settings.Camera.Host)

			server = api.NewServer(&api.Options{
				AuthUsername:      opts.AuthUsername,
				AuthPassword:      opts.AuthPassword,
				Session:           a.Session,
				Recorder:          a.Recorder,
				Camera:            a.Camera,
				Slot:              a.Slot,
				EventBus:          a.Bus,
				RecordingDefaults: a.RecordingDefaults,
				MetricsHandler:    metrics.Handler(),
			})

			// [recording] defaults follow the config file without a restart
			watcher = config.NewConfigWatcher(opts.Config, config.LoadRecording, logging.GetLogger("config"))
			watcher.OnReload(a.SetRecordingDefaults)
			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Config hot reload disabled", "path", opts.Config, "error", startErr)
				watcher = nil
			}

			if opts.SessionAutostart {
				ctx, cancel := context.WithTimeout(context.Background(), sessionAutostartTimeout)
				if startErr := a.StartSession(ctx); startErr != nil {
					logger.Warn("Live session autostart failed", "error", startErr)
				}
				cancel()
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			if server != nil {
				if stopErr := server.Stop(); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}

			// Recording is finalized after the API stops accepting requests
			if a != nil {
				if stopErr := a.Shutdown(); stopErr != nil {
					logger.Error("Error during shutdown", "error", stopErr)
				}
			}

			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping config watcher", "error", stopErr)
				}
			}
		})
	})

	cli.Root().Use = "ptzrec"
	cli.Root().Version = version.Get().Version

	cli.Root().AddCommand(cmd.CreateRecordCmd())
	cli.Root().AddCommand(cmd.CreateSnapshotCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	cli.Run()
}
