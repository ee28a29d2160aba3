package health

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrInsufficientStorage is returned by Preflight when the target volume is
// below the configured minimum.
var ErrInsufficientStorage = errors.New("insufficient storage")

// Signal is raised by a Watch when a segment needs replacing.
type Signal int

const (
	SignalStall Signal = iota + 1
	SignalStartupFailure
)

func (s Signal) String() string {
	switch s {
	case SignalStall:
		return "stall"
	case SignalStartupFailure:
		return "startup_failure"
	}
	return "unknown"
}

// Config holds the monitor thresholds.
type Config struct {
	PollInterval time.Duration
	StartupGrace time.Duration
	StallPolls   int
	MinFreeBytes uint64
	Keywords     []string
}

const (
	DefaultPollInterval = 2 * time.Second
	DefaultStartupGrace = 10 * time.Second
	DefaultStallPolls   = 5
	DefaultMinFreeBytes = 5 << 30
)

// DefaultKeywords mark a stderr line as an encoder error.
var DefaultKeywords = []string{"error", "failed", "connection refused", "timed out"}

func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		StartupGrace: DefaultStartupGrace,
		StallPolls:   DefaultStallPolls,
		MinFreeBytes: DefaultMinFreeBytes,
		Keywords:     DefaultKeywords,
	}
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = DefaultStartupGrace
	}
	if c.StallPolls <= 0 {
		c.StallPolls = DefaultStallPolls
	}
	if c.Keywords == nil {
		c.Keywords = DefaultKeywords
	}
}

// Monitor creates segment watches and runs disk checks.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	stat   func(path string) (DiskStats, error)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithStatfs replaces the volume stats source.
func WithStatfs(fn func(path string) (DiskStats, error)) MonitorOption {
	return func(m *Monitor) { m.stat = fn }
}

func NewMonitor(cfg Config, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{cfg: cfg, logger: logger, stat: Statfs}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Config() Config { return m.cfg }

// NewDiagnostics returns a stderr scanner using the monitor's keywords.
func (m *Monitor) NewDiagnostics() *Diagnostics {
	return NewDiagnostics(m.cfg.Keywords, DefaultTailLines)
}

// DiskFree reports free bytes on the volume holding path.
func (m *Monitor) DiskFree(path string) (uint64, error) {
	st, err := m.stat(path)
	if err != nil {
		return 0, err
	}
	return st.Free, nil
}

// Preflight fails with ErrInsufficientStorage when folder's volume has
// less than MinFreeBytes available. Platforms without volume stats pass
// with a warning.
func (m *Monitor) Preflight(folder string) (DiskStats, error) {
	st, err := m.stat(folder)
	if errors.Is(err, errors.ErrUnsupported) {
		m.logger.Warn("Disk space check unsupported on this platform", "folder", folder)
		return DiskStats{}, nil
	}
	if err != nil {
		return DiskStats{}, fmt.Errorf("disk stats for %s: %w", folder, err)
	}
	if st.Free < m.cfg.MinFreeBytes {
		return st, fmt.Errorf("%w: %s free on %s, %s required", ErrInsufficientStorage,
			humanize.IBytes(st.Free), folder, humanize.IBytes(m.cfg.MinFreeBytes))
	}
	return st, nil
}

// LowDisk reports whether free is under the configured minimum.
func (m *Monitor) LowDisk(free uint64) bool {
	return free < m.cfg.MinFreeBytes
}

// Watch polls one segment's output file.
type Watch struct {
	path    string
	signals chan Signal
	size    atomic.Int64
	grew    atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// WatchSegment starts polling path. started is when the encoder was launched;
// the startup grace counts from it. At most one signal is delivered, after
// which the watch stops on its own.
func (m *Monitor) WatchSegment(ctx context.Context, path string, started time.Time) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		path:    path,
		signals: make(chan Signal, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	w.size.Store(-1)
	go m.poll(ctx, w, started)
	return w
}

func (m *Monitor) poll(ctx context.Context, w *Watch, started time.Time) {
	defer close(w.done)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	last := int64(-1)
	stagnant := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := os.Stat(w.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.logger.Debug("Segment stat failed", "path", w.path, "error", err)
				continue
			}
			if time.Since(started) >= m.cfg.StartupGrace {
				m.logger.Warn("Segment file never appeared", "path", w.path, "grace", m.cfg.StartupGrace)
				w.signals <- SignalStartupFailure
				return
			}
			continue
		}

		size := info.Size()
		w.size.Store(size)
		if size != last {
			if last >= 0 && size > last {
				w.grew.Store(true)
			}
			last = size
			stagnant = 0
			continue
		}

		stagnant++
		if stagnant >= m.cfg.StallPolls {
			m.logger.Warn("Segment stalled", "path", w.path, "size", humanize.IBytes(uint64(size)), "polls", stagnant)
			w.signals <- SignalStall
			return
		}
	}
}

// Signals delivers at most one stall or startup-failure signal.
func (w *Watch) Signals() <-chan Signal { return w.signals }

// Size is the last observed file size, or -1 before the file appeared.
func (w *Watch) Size() int64 { return w.size.Load() }

// Grew reports whether the file was seen growing between two polls.
func (w *Watch) Grew() bool { return w.grew.Load() }

func (w *Watch) Path() string { return w.path }

// Stop ends polling and waits for the poll goroutine.
func (w *Watch) Stop() {
	w.once.Do(w.cancel)
	<-w.done
}
