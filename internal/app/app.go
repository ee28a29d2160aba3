// Package app wires the camera client, connection slot, encoder manager,
// health monitor, live session and recording orchestrator together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/config"
	"github.com/smazurov/ptzrec/internal/encoder"
	"github.com/smazurov/ptzrec/internal/events"
	"github.com/smazurov/ptzrec/internal/ffmpeg"
	"github.com/smazurov/ptzrec/internal/health"
	"github.com/smazurov/ptzrec/internal/logging"
	"github.com/smazurov/ptzrec/internal/recorder"
	"github.com/smazurov/ptzrec/internal/session"
	"github.com/smazurov/ptzrec/internal/slot"
)

// App holds the long-lived components.
type App struct {
	Settings Settings
	Camera   *camera.Client
	Slot     *slot.Slot
	Encoder  *encoder.Manager
	Monitor  *health.Monitor
	Session  *session.Session
	Recorder *recorder.Orchestrator
	Bus      *events.Bus

	defaults atomic.Pointer[config.Recording]
	logger   *slog.Logger
}

// Build validates opts and constructs every component. Nothing is started.
func Build(opts *Options) (*App, error) {
	settings, err := opts.Settings()
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	cam, err := camera.NewClient(settings.Camera, logging.GetLogger("camera"))
	if err != nil {
		return nil, err
	}

	a := &App{
		Settings: settings,
		Camera:   cam,
		Slot:     slot.New(settings.SlotLimit),
		Bus:      events.New(),
		logger:   logging.GetLogger("main"),
	}
	defaults := opts.RecordingDefaults()
	a.defaults.Store(&defaults)

	a.Encoder = encoder.NewManager(encoder.Config{
		Path:        settings.Encoder.Path,
		KillTimeout: settings.Encoder.KillTimeout,
		Options:     settings.Encoder.Options,
	}, logging.GetLogger("encoder"))

	a.Monitor = health.NewMonitor(settings.Health, logging.GetLogger("health"))

	capturer := session.NewFFmpegCapturer(a.Encoder.Resolve, settings.Capture, logging.GetLogger("capture"))
	a.Session = session.New(settings.Session, capturer, a.Slot, a.Bus, logging.GetLogger("session"))

	recOpts := []recorder.Option{
		recorder.WithSlot(a.Slot, a.Session),
		recorder.WithEvents(a.Bus),
	}
	if settings.Preview != nil {
		recOpts = append(recOpts, recorder.WithPreview(*settings.Preview, a.Session.Frames()))
	}
	a.Recorder = recorder.New(settings.Recorder, a.Encoder, a.Monitor, cam, logging.GetLogger("recorder"), recOpts...)

	return a, nil
}

// RecordingDefaults returns the current [recording] defaults.
func (a *App) RecordingDefaults() config.Recording {
	return *a.defaults.Load()
}

// SetRecordingDefaults replaces the defaults used by the next start request.
// Empty fields keep their previous value.
func (a *App) SetRecordingDefaults(r config.Recording) {
	cur := a.RecordingDefaults()
	if r.Folder != "" {
		cur.Folder = r.Folder
	}
	if r.SegmentDuration != "" {
		cur.SegmentDuration = r.SegmentDuration
	}
	if r.Overlap != "" {
		cur.Overlap = r.Overlap
	}
	if r.Preset != "" {
		cur.Preset = r.Preset
	}
	a.defaults.Store(&cur)
	a.logger.Info("Recording defaults updated",
		"folder", cur.Folder,
		"segment_duration", cur.SegmentDuration,
		"overlap", cur.Overlap,
		"preset", cur.Preset)
}

// RecordingRequest builds a request from the current defaults.
func (a *App) RecordingRequest(tier camera.Tier) (recorder.Request, error) {
	d := a.RecordingDefaults()
	segment, overlap, err := d.Durations()
	if err != nil {
		return recorder.Request{}, err
	}
	return recorder.Request{
		Folder:          d.Folder,
		SegmentDuration: segment,
		Overlap:         overlap,
		Preset:          ffmpeg.Preset(d.Preset),
		Tier:            tier,
	}, nil
}

// StartSession opens the live session on the configured tier.
func (a *App) StartSession(ctx context.Context) error {
	ep, err := a.Camera.ResolveStreamEndpoint(a.Settings.Tier)
	if err != nil {
		return err
	}
	return a.Session.Start(ctx, ep)
}

// Shutdown stops the recorder first so its final segment is finalized,
// then the live session.
func (a *App) Shutdown() error {
	var errs []error
	if err := a.Recorder.StopRecording(); err != nil {
		errs = append(errs, fmt.Errorf("stop recording: %w", err))
	}
	if err := a.Session.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop session: %w", err))
	}
	a.Session.Frames().Close()
	return errors.Join(errs...)
}
