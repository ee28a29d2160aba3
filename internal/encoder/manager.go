// Package encoder runs one ffmpeg subprocess per recording segment.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/smazurov/ptzrec/internal/ffmpeg"
	"github.com/smazurov/ptzrec/internal/logging"
	"github.com/smazurov/ptzrec/internal/process"
)

var (
	// ErrEncoderUnavailable is returned when no ffmpeg binary can be found.
	ErrEncoderUnavailable = errors.New("encoder binary not found")
	// ErrExitTimeout marks an invocation that was still not reaped after a kill.
	ErrExitTimeout = errors.New("encoder did not exit after kill")
)

// DefaultSearchPaths are tried, in order, after the configured path and $PATH.
var DefaultSearchPaths = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/opt/homebrew/bin/ffmpeg",
	"/snap/bin/ffmpeg",
}

const (
	DefaultGracefulTimeout = 15 * time.Second
	DefaultKillTimeout     = 5 * time.Second

	exitGrace = time.Second
)

// Config controls binary lookup and input options.
type Config struct {
	Path        string
	KillTimeout time.Duration
	Options     []ffmpeg.OptionType
}

// ArgsBuilder returns the full command line, binary first.
type ArgsBuilder func(bin string, p LaunchParams) []string

// Manager resolves the encoder binary once and launches invocations.
type Manager struct {
	cfg          Config
	logger       *slog.Logger
	outputLogger *slog.Logger
	searchPaths  []string
	lookPath     func(string) (string, error)
	buildArgs    ArgsBuilder

	mu       sync.Mutex
	resolved string
	group    singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithArgsBuilder replaces the ffmpeg command line.
func WithArgsBuilder(fn ArgsBuilder) Option {
	return func(m *Manager) { m.buildArgs = fn }
}

// WithSearchPaths replaces the fixed fallback locations.
func WithSearchPaths(paths ...string) Option {
	return func(m *Manager) { m.searchPaths = paths }
}

// WithLookPath replaces the $PATH lookup.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(m *Manager) { m.lookPath = fn }
}

func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	m := &Manager{
		cfg:          cfg,
		logger:       logger,
		outputLogger: logging.GetLogger("ffmpeg"),
		searchPaths:  DefaultSearchPaths,
		lookPath:     exec.LookPath,
	}
	m.buildArgs = m.defaultArgs
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) defaultArgs(bin string, p LaunchParams) []string {
	args := ffmpeg.BuildRecordArgs(ffmpeg.RecordParams{
		Input:    p.Input,
		Output:   p.OutputPath,
		Preset:   p.Preset,
		Duration: p.Duration,
		Options:  m.cfg.Options,
		Preview:  p.Preview,
	})
	return append([]string{bin}, args...)
}

// Resolve returns the encoder binary, searching on first use and caching
// the result. Concurrent callers share one search.
func (m *Manager) Resolve() (string, error) {
	m.mu.Lock()
	if m.resolved != "" {
		path := m.resolved
		m.mu.Unlock()
		return path, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("resolve", func() (any, error) {
		path, err := m.search()
		if err != nil {
			return "", err
		}
		m.mu.Lock()
		m.resolved = path
		m.mu.Unlock()
		m.logger.Info("Resolved encoder binary", "path", path)
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached path so the next Resolve searches again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.resolved = ""
	m.mu.Unlock()
}

func (m *Manager) search() (string, error) {
	if m.cfg.Path != "" {
		if isExecutable(m.cfg.Path) {
			return m.cfg.Path, nil
		}
		m.logger.Warn("Configured encoder path is not executable, searching", "path", m.cfg.Path)
	}
	if m.lookPath != nil {
		if path, err := m.lookPath("ffmpeg"); err == nil {
			return path, nil
		}
	}
	for _, path := range m.searchPaths {
		if isExecutable(path) {
			return path, nil
		}
	}
	return "", ErrEncoderUnavailable
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Mode()&fs.ModePerm&0o111 != 0
}

// LaunchParams describes one segment invocation.
type LaunchParams struct {
	JobID      string
	Segment    int
	Input      string
	OutputPath string
	Preset     ffmpeg.Preset
	Duration   time.Duration
	Preview    *ffmpeg.PreviewParams

	// PreviewSink consumes the MJPEG stream on stdout when Preview is set.
	PreviewSink func(io.Reader)
	// OnLine receives every stderr line that is not a progress line.
	OnLine func(line string)
}

// Launch resolves the binary and spawns the encoder. No process is started
// when resolution fails. Cancelling ctx kills the invocation.
func (m *Manager) Launch(ctx context.Context, p LaunchParams) (*Invocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin, err := m.Resolve()
	if err != nil {
		return nil, err
	}

	inv := &Invocation{
		params:   p,
		done:     make(chan struct{}),
		progress: ffmpeg.NewProgressParser(),
	}

	id := fmt.Sprintf("%s-seg%03d", p.JobID, p.Segment)
	opts := []process.Option{
		process.WithQuitToken(ffmpeg.QuitToken),
		process.WithKillTimeout(m.cfg.KillTimeout),
		process.WithLogParser(m.outputLogger, ffmpeg.ParseOutputLine),
		process.WithOutputHandler(inv),
	}
	if p.PreviewSink != nil {
		opts = append(opts, process.WithStdout(p.PreviewSink))
	}

	inv.proc = process.New(id, m.buildArgs(bin, p), m.logger, opts...)
	if err := inv.proc.Start(); err != nil {
		return nil, fmt.Errorf("launch segment %d: %w", p.Segment, err)
	}
	m.logger.Info("Encoder launched", "id", id, "pid", inv.proc.PID(), "output", p.OutputPath, "duration", p.Duration)

	go inv.wait(ctx, m.logger)
	return inv, nil
}

// RequestGracefulStop sends the quit token, closes stdin and waits up to
// timeout before killing the process group. It always returns the final
// status.
func (m *Manager) RequestGracefulStop(inv *Invocation, timeout time.Duration) ExitStatus {
	if timeout <= 0 {
		timeout = DefaultGracefulTimeout
	}
	select {
	case <-inv.done:
		return inv.status
	default:
	}
	code, forced := inv.proc.Stop(timeout)
	if forced {
		m.logger.Warn("Encoder killed after graceful timeout", "id", inv.proc.ID(), "timeout", timeout, "exit_code", code)
	}
	return m.awaitExit(inv)
}

// Kill terminates inv without asking first.
func (m *Manager) Kill(inv *Invocation) ExitStatus {
	inv.proc.Kill()
	return m.awaitExit(inv)
}

// awaitExit waits for inv to be reaped, at most one kill timeout plus
// exitGrace. A child that escaped its process group can hold the output
// pipes open; the invocation is then abandoned and reported as forced.
func (m *Manager) awaitExit(inv *Invocation) ExitStatus {
	timer := time.NewTimer(m.cfg.KillTimeout + exitGrace)
	defer timer.Stop()
	select {
	case <-inv.done:
		return inv.status
	case <-timer.C:
		m.logger.Error("Encoder not reaped after kill, abandoning it", "id", inv.proc.ID(), "pid", inv.proc.PID())
		return ExitStatus{
			Kind:     ExitForced,
			Code:     process.KilledExitCode,
			Err:      ErrExitTimeout,
			Duration: time.Since(inv.proc.StartedAt()),
		}
	}
}
