// Package logging provides slog loggers with per-module levels.
//
// Output goes to stdout when it is attached, to the systemd journal when
// journald is reachable, and always to an in-memory history served by the
// control API.
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"recorder": "debug",
//			"ffmpeg":   "warn",
//		},
//	})
//
//	logger := logging.GetLogger("session")
//	logger.Info("Streaming", "endpoint", ep.Redacted())
//
// Journal entries carry SYSLOG_IDENTIFIER=ptzrec and each attribute as an
// upper-cased field, so they can be filtered:
//
//	journalctl -t ptzrec MODULE=recorder
//	journalctl -t ptzrec -p warning --since "10m"
package logging
