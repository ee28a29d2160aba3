package cmd

import (
	"context"
	"log/slog"

	"github.com/smazurov/ptzrec/internal/events"
)

// waitForRecording logs recorder events until ctx is cancelled or the job
// ends on its own. It returns the process exit code.
func waitForRecording(ctx context.Context, ch <-chan any, logger *slog.Logger) int {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Interrupted, stopping recording")
			return 0
		case ev := <-ch:
			switch e := ev.(type) {
			case events.SegmentStartedEvent:
				logger.Info("Segment started", "segment", e.Segment, "path", e.Path)
			case events.SegmentClosedEvent:
				logger.Info("Segment closed", "segment", e.Segment, "reason", e.Reason, "bytes", e.Bytes)
			case events.RecordingWarningEvent:
				logger.Warn("Recording warning", "segment", e.Segment, "kind", e.Kind, "message", e.Message)
			case events.RecordingStateChangedEvent:
				switch e.To {
				case "error":
					logger.Error("Recording failed", "error", e.Error)
					return 1
				case "stopped", "idle":
					return 0
				}
			}
		}
	}
}
