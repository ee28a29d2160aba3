package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/ptzrec/internal/app"
	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/events"
	"github.com/smazurov/ptzrec/internal/logging"
)

// CreateRecordCmd creates the headless record command. It records until
// SIGINT or SIGTERM, then finalizes the current segment.
func CreateRecordCmd() *cobra.Command {
	var tier string
	var withSession bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record segmented MP4 files without the HTTP API",
		Long: `Starts a recording job with the configured [recording] defaults and runs until interrupted. ` +
			`Segments rotate with overlap; the last segment is finalized on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		Run: humacli.WithOptions(func(_ *cobra.Command, _ []string, opts *app.Options) {
			logger := logging.GetLogger("record")

			t, err := camera.ParseTier(tier)
			if err != nil {
				logger.Error("Invalid tier", "error", err)
				os.Exit(2)
			}

			a, err := app.Build(opts)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if withSession {
				if err := a.StartSession(ctx); err != nil {
					logger.Warn("Live session did not start, recording without it", "error", err)
				}
			}

			req, err := a.RecordingRequest(t)
			if err != nil {
				logger.Error("Invalid recording defaults", "error", err)
				os.Exit(1)
			}

			ch := make(chan any, 32)
			unsubscribe := events.SubscribeAll(a.Bus, ch)
			defer unsubscribe()

			jobID, err := a.Recorder.StartRecording(ctx, req)
			if err != nil {
				logger.Error("Failed to start recording", "error", err)
				_ = a.Shutdown()
				os.Exit(1)
			}
			logger.Info("Recording", "job_id", jobID, "folder", req.Folder, "segment", req.SegmentDuration, "tier", t)

			exitCode := waitForRecording(ctx, ch, logger)

			if err := a.Shutdown(); err != nil {
				logger.Error("Shutdown finished with errors", "error", err)
				exitCode = 1
			}
			logger.Info("Record command exiting", "exit_code", exitCode)
			os.Exit(exitCode)
		}),
	}

	cmd.Flags().StringVar(&tier, "tier", "primary", "Stream tier to record (primary, secondary)")
	cmd.Flags().BoolVar(&withSession, "with-session", false, "Also open the live session for preview frames")

	return cmd
}
