package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/smazurov/ptzrec/internal/app"
	"github.com/smazurov/ptzrec/internal/logging"
)

// commandTimeout bounds one-shot camera requests, retries included.
const commandTimeout = time.Minute

// snapshotFilename names a snapshot taken at t.
func snapshotFilename(t time.Time) string {
	return "snapshot_" + t.Format("20060102_150405") + ".jpg"
}

// CreateSnapshotCmd creates the snapshot command.
func CreateSnapshotCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save a still image from the camera",
		Args:  cobra.NoArgs,
		Run: humacli.WithOptions(func(_ *cobra.Command, _ []string, opts *app.Options) {
			logger := logging.GetLogger("snapshot")

			a, err := app.Build(opts)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			path, size, err := saveSnapshot(ctx, a.Camera.GetSnapshot, dir, time.Now())
			if err != nil {
				logger.Error("Snapshot failed", "error", err)
				os.Exit(1)
			}
			logger.Info("Snapshot saved", "path", path, "size", humanize.Bytes(uint64(size)))
			fmt.Println(path)
		}),
	}

	cmd.Flags().StringVarP(&dir, "output", "o", ".", "Directory to write the snapshot into")

	return cmd
}

func saveSnapshot(ctx context.Context, fetch func(context.Context) ([]byte, error), dir string, now time.Time) (string, int, error) {
	data, err := fetch(ctx)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, snapshotFilename(now))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", 0, fmt.Errorf("write snapshot: %w", err)
	}
	return path, len(data), nil
}
