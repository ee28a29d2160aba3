package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/ffmpeg"
	"github.com/smazurov/ptzrec/internal/frames"
	"github.com/smazurov/ptzrec/internal/logging"
	"github.com/smazurov/ptzrec/internal/mjpeg"
	"github.com/smazurov/ptzrec/internal/process"
)

// ErrCaptureClosed is returned by ReadFrame once the decoder has exited.
var ErrCaptureClosed = errors.New("capture closed")

const captureStopTimeout = 3 * time.Second

// CaptureConfig shapes the preview feed.
type CaptureConfig struct {
	FPS          int
	Width        int
	Quality      int
	Options      []ffmpeg.OptionType
	MaxFrameSize int
}

// FFmpegCapturer decodes an endpoint with ffmpeg into an MJPEG pipe and
// scans it into frames.
type FFmpegCapturer struct {
	resolve   func() (string, error)
	cfg       CaptureConfig
	logger    *slog.Logger
	buildArgs func(bin string, ep camera.Endpoint) []string
}

// NewFFmpegCapturer uses resolve, normally encoder.Manager.Resolve, to find
// the binary on each Open.
func NewFFmpegCapturer(resolve func() (string, error), cfg CaptureConfig, logger *slog.Logger) *FFmpegCapturer {
	c := &FFmpegCapturer{resolve: resolve, cfg: cfg, logger: logger}
	c.buildArgs = c.defaultArgs
	return c
}

func (c *FFmpegCapturer) defaultArgs(bin string, ep camera.Endpoint) []string {
	args := ffmpeg.BuildCaptureArgs(ffmpeg.CaptureParams{
		Input:   ep.URL,
		FPS:     c.cfg.FPS,
		Width:   c.cfg.Width,
		Quality: c.cfg.Quality,
		Options: c.cfg.Options,
	})
	return append([]string{bin}, args...)
}

// Open spawns the decoder. Frames become available to ReadFrame as soon as
// the first one is scanned.
func (c *FFmpegCapturer) Open(ctx context.Context, ep camera.Endpoint) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin, err := c.resolve()
	if err != nil {
		return nil, err
	}

	fc := &ffmpegCapture{frames: make(chan *frames.Frame, 1)}
	fc.sink = mjpeg.NewSink(fc, c.logger, c.cfg.MaxFrameSize)

	id := "capture-" + string(ep.Tier)
	if ep.Tier == "" {
		id = "capture"
	}
	fc.proc = process.New(id, c.buildArgs(bin, ep), c.logger,
		process.WithQuitToken(ffmpeg.QuitToken),
		process.WithLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseOutputLine),
		process.WithStdout(func(r io.Reader) {
			if err := fc.sink.Run(r); err != nil {
				c.logger.Debug("Preview pipe closed", "error", err)
			}
		}),
	)
	if err := fc.proc.Start(); err != nil {
		return nil, err
	}
	c.logger.Debug("Capture started", "pid", fc.proc.PID(), "endpoint", ep.Redacted())
	return fc, nil
}

type ffmpegCapture struct {
	proc   *process.Process
	sink   *mjpeg.Sink
	frames chan *frames.Frame

	mu   sync.Mutex
	once sync.Once
}

// Publish keeps only the newest undelivered frame.
func (fc *ffmpegCapture) Publish(f *frames.Frame) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	select {
	case <-fc.frames:
	default:
	}
	fc.frames <- f
}

func (fc *ffmpegCapture) ReadFrame(ctx context.Context) (*frames.Frame, error) {
	select {
	case f := <-fc.frames:
		return f, nil
	default:
	}
	select {
	case f := <-fc.frames:
		return f, nil
	case <-fc.proc.Done():
		return nil, ErrCaptureClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (fc *ffmpegCapture) Close() error {
	fc.once.Do(func() {
		fc.proc.Stop(captureStopTimeout)
	})
	return nil
}
