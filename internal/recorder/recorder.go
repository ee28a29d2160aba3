// Package recorder drives segmented recording: one encoder invocation per
// fixed-duration segment, rotation on a timer, and replacement segments
// after stalls or crashes. It takes the camera's connection slot from the
// live session for the duration of a job and hands it back afterwards.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/encoder"
	"github.com/smazurov/ptzrec/internal/events"
	"github.com/smazurov/ptzrec/internal/ffmpeg"
	"github.com/smazurov/ptzrec/internal/health"
	"github.com/smazurov/ptzrec/internal/metrics"
	"github.com/smazurov/ptzrec/internal/mjpeg"
	"github.com/smazurov/ptzrec/internal/slot"
)

// SlotHolder is the name a job holds the connection slot under.
const SlotHolder = "recorder"

// Encoder launches and stops segment invocations.
type Encoder interface {
	Resolve() (string, error)
	Launch(ctx context.Context, p encoder.LaunchParams) (*encoder.Invocation, error)
	RequestGracefulStop(inv *encoder.Invocation, timeout time.Duration) encoder.ExitStatus
	Kill(inv *encoder.Invocation) encoder.ExitStatus
}

// EndpointResolver maps a tier to a stream endpoint.
type EndpointResolver interface {
	ResolveStreamEndpoint(tier camera.Tier) (camera.Endpoint, error)
}

// LiveSession is the preview session that yields the slot during a job.
type LiveSession interface {
	Suspend() (bool, error)
	Resume(ctx context.Context) error
}

// Config holds recorder timing.
type Config struct {
	GracefulTimeout        time.Duration
	MaxConsecutiveRestarts int
	HealthyAfter           time.Duration
	RestartDelay           time.Duration
	SlotWait               time.Duration
	MaxWarnings            int
}

func DefaultConfig() Config {
	return Config{
		GracefulTimeout:        encoder.DefaultGracefulTimeout,
		MaxConsecutiveRestarts: 5,
		HealthyAfter:           10 * time.Second,
		RestartDelay:           time.Second,
		SlotWait:               10 * time.Second,
		MaxWarnings:            20,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = d.GracefulTimeout
	}
	if c.MaxConsecutiveRestarts <= 0 {
		c.MaxConsecutiveRestarts = d.MaxConsecutiveRestarts
	}
	if c.HealthyAfter <= 0 {
		c.HealthyAfter = d.HealthyAfter
	}
	if c.RestartDelay < 0 {
		c.RestartDelay = 0
	}
	if c.SlotWait <= 0 {
		c.SlotWait = d.SlotWait
	}
	if c.MaxWarnings <= 0 {
		c.MaxWarnings = d.MaxWarnings
	}
}

// DefaultOverlap is added to the encoder's duration cap when a request
// leaves it unset.
const DefaultOverlap = 2 * time.Second

// Request starts a job.
type Request struct {
	Folder          string
	SegmentDuration time.Duration
	Overlap         time.Duration
	Preset          ffmpeg.Preset
	Tier            camera.Tier
}

// Warning is a non-fatal condition recorded against a job.
type Warning struct {
	Time    time.Time `json:"time" doc:"When the warning was raised"`
	Segment int       `json:"segment" doc:"Segment number"`
	Kind    string    `json:"kind" example:"stall" doc:"Warning category"`
	Message string    `json:"message" doc:"Detail"`
}

// Job is one recording run. Fields are guarded by the orchestrator's mutex.
type Job struct {
	ID              string
	Folder          string
	SegmentDuration time.Duration
	Overlap         time.Duration
	Preset          ffmpeg.Preset
	Endpoint        camera.Endpoint
	StartedAt       time.Time

	Segment      int
	OutputPath   string
	SegmentStart time.Time
	LastSize     int64
	Restarts     int
	Warnings     []Warning
	Error        string

	consecutive      int
	suspendedSession bool
	diag             *health.Diagnostics
	inv              *encoder.Invocation
	watch            *health.Watch
	cancel           context.CancelFunc
}

// Orchestrator runs at most one job at a time.
type Orchestrator struct {
	cfg       Config
	enc       Encoder
	mon       *health.Monitor
	endpoints EndpointResolver
	slot      *slot.Slot
	session   LiveSession
	bus       *events.Bus
	logger    *slog.Logger

	preview    *ffmpeg.PreviewParams
	previewPub mjpeg.Publisher

	op sync.Mutex

	mu     sync.Mutex
	state  State
	job    *Job
	stop   context.CancelFunc
	done   chan struct{}
	lastID string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSlot coordinates the connection slot with session.
func WithSlot(sl *slot.Slot, session LiveSession) Option {
	return func(o *Orchestrator) {
		o.slot = sl
		o.session = session
	}
}

// WithPreview adds an MJPEG preview output whose frames go to pub.
func WithPreview(p ffmpeg.PreviewParams, pub mjpeg.Publisher) Option {
	return func(o *Orchestrator) {
		o.preview = &p
		o.previewPub = pub
	}
}

// WithEvents publishes state changes on bus.
func WithEvents(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

func New(cfg Config, enc Encoder, mon *health.Monitor, endpoints EndpointResolver, logger *slog.Logger, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:       cfg,
		enc:       enc,
		mon:       mon,
		endpoints: endpoints,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// JobID returns the current or most recent job ID.
func (o *Orchestrator) JobID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastID
}

// StartRecording validates req, runs the disk and encoder checks, takes the
// connection slot and launches segment 1. Any failed check returns before a
// subprocess is spawned or the live session is touched.
func (o *Orchestrator) StartRecording(ctx context.Context, req Request) (string, error) {
	o.op.Lock()
	defer o.op.Unlock()

	if o.State().Active() {
		return "", newError(CodeAlreadyRecording, "stop the current recording first", ErrAlreadyRecording)
	}

	job, err := o.prepare(req)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.job = job
	o.lastID = job.ID
	o.mu.Unlock()
	o.setState(job, StateStarting, "")

	if err := o.acquireSlot(ctx, job); err != nil {
		o.abort(job, err)
		return "", err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	if err := o.launchSegment(jobCtx, job); err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = newError(CodeEncoderUnavailable, "launch first segment", err)
		}
		o.abort(job, e)
		return "", e
	}

	stopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.mu.Lock()
	o.stop = stop
	o.done = done
	o.mu.Unlock()

	metrics.SetRecordingActive(true)
	o.setState(job, StateRecording, "")
	o.logger.Info("Recording started", "job", job.ID, "folder", job.Folder,
		"segment_duration", job.SegmentDuration, "overlap", job.Overlap, "preset", job.Preset)

	go o.run(stopCtx, jobCtx, job, done)
	return job.ID, nil
}

func (o *Orchestrator) prepare(req Request) (*Job, error) {
	if req.Folder == "" {
		return nil, invalid("folder is required")
	}
	if req.SegmentDuration <= 0 {
		return nil, invalid("segment duration must be positive, got %s", req.SegmentDuration)
	}
	if req.Overlap < 0 {
		return nil, invalid("overlap must be positive, got %s", req.Overlap)
	}
	if req.Overlap == 0 {
		req.Overlap = DefaultOverlap
	}
	preset, err := ffmpeg.ParsePreset(string(req.Preset))
	if err != nil {
		return nil, newError(CodeInvalidRequest, err.Error(), ErrInvalidRequest)
	}

	if _, err := o.mon.Preflight(existingAncestor(req.Folder)); err != nil {
		if errors.Is(err, health.ErrInsufficientStorage) {
			return nil, newError(CodeInsufficientStorage, "disk preflight failed", err)
		}
		return nil, newError(CodeInsufficientStorage, "disk check failed", fmt.Errorf("%w: %v", ErrInsufficientStorage, err))
	}
	if _, err := o.enc.Resolve(); err != nil {
		return nil, newError(CodeEncoderUnavailable, "no ffmpeg binary", err)
	}
	ep, err := o.endpoints.ResolveStreamEndpoint(req.Tier)
	if err != nil {
		return nil, newError(CodeStreamUnavailable, "resolve stream endpoint", fmt.Errorf("%w: %v", ErrStreamUnavailable, err))
	}
	if err := os.MkdirAll(req.Folder, 0o755); err != nil {
		return nil, newError(CodeInvalidRequest, "create recording folder", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	return &Job{
		ID:              uuid.NewString(),
		Folder:          req.Folder,
		SegmentDuration: req.SegmentDuration,
		Overlap:         req.Overlap,
		Preset:          preset,
		Endpoint:        ep,
		StartedAt:       time.Now(),
		diag:            o.mon.NewDiagnostics(),
	}, nil
}

// existingAncestor returns dir or its closest parent that exists, so the
// volume can be checked before the folder is created.
func existingAncestor(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// acquireSlot suspends the live session when no slot is free and waits for
// the release before taking one.
func (o *Orchestrator) acquireSlot(ctx context.Context, job *Job) error {
	if o.slot == nil {
		return nil
	}
	if o.slot.Available() == 0 && o.session != nil {
		suspended, err := o.session.Suspend()
		if err != nil {
			o.logger.Warn("Live session did not stop cleanly", "error", err)
		}
		job.suspendedSession = suspended
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SlotWait)
	defer cancel()
	if err := o.slot.Acquire(ctx, SlotHolder); err != nil {
		return newError(CodeStreamUnavailable, "connection slot not released", fmt.Errorf("%w: %v", ErrStreamUnavailable, err))
	}
	return nil
}

// abort undoes a start that never reached Recording.
func (o *Orchestrator) abort(job *Job, err error) {
	o.mu.Lock()
	job.Error = err.Error()
	o.mu.Unlock()
	o.release(job)
	o.setState(job, StateError, err.Error())
	o.logger.Error("Recording start failed", "job", job.ID, "error", err)
}

// StopRecording stops the active segment gracefully and returns the slot.
// It is a no-op when nothing is recording.
func (o *Orchestrator) StopRecording() error {
	o.op.Lock()
	defer o.op.Unlock()

	o.mu.Lock()
	if !o.state.Active() || o.stop == nil {
		o.mu.Unlock()
		return nil
	}
	job, stop, done := o.job, o.stop, o.done
	o.stop, o.done = nil, nil
	o.mu.Unlock()

	o.setState(job, StateStoppingGraceful, "")
	stop()

	// The worker stops the encoder itself; allow the graceful timeout plus
	// the kill that may follow it.
	timer := time.NewTimer(o.cfg.GracefulTimeout + 10*time.Second)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		o.logger.Error("Recording worker did not exit", "job", job.ID)
	}

	if o.State() == StateError {
		return nil
	}
	o.release(job)
	o.setState(job, StateStopped, "")
	o.logger.Info("Recording stopped", "job", job.ID, "segments", job.Segment)
	return nil
}

// release returns the slot, resumes a suspended session and clears job
// metrics.
func (o *Orchestrator) release(job *Job) {
	if job.cancel != nil {
		job.cancel()
	}
	if o.slot != nil {
		o.slot.Release(SlotHolder)
	}
	metrics.SetRecordingActive(false)
	metrics.DeleteEncoderProgress(job.ID)

	if job.suspendedSession && o.session != nil {
		job.suspendedSession = false
		if err := o.session.Resume(context.Background()); err != nil {
			o.logger.Warn("Failed to resume live session", "error", err)
		}
	}
}

func (o *Orchestrator) setState(job *Job, to State, errMsg string) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	if from == to {
		return
	}

	o.logger.Debug("Recording state changed", "job", job.ID, "from", from, "to", to)
	o.bus.Publish(events.RecordingStateChangedEvent{
		JobID:     job.ID,
		From:      from.String(),
		To:        to.String(),
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (o *Orchestrator) warn(job *Job, kind, msg string) {
	now := time.Now()
	o.mu.Lock()
	w := Warning{Time: now, Segment: job.Segment, Kind: kind, Message: msg}
	job.Warnings = append(job.Warnings, w)
	if n := len(job.Warnings); n > o.cfg.MaxWarnings {
		job.Warnings = job.Warnings[n-o.cfg.MaxWarnings:]
	}
	o.mu.Unlock()

	o.logger.Warn("Recording warning", "job", job.ID, "segment", w.Segment, "kind", kind, "message", msg)
	o.bus.Publish(events.RecordingWarningEvent{
		JobID:     job.ID,
		Segment:   w.Segment,
		Kind:      kind,
		Message:   msg,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}
