// Package session keeps a live preview feed running against a camera
// endpoint. It reconnects with backoff when reads keep failing or the feed
// goes quiet, and gives up after a bounded number of attempts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/events"
	"github.com/smazurov/ptzrec/internal/frames"
	"github.com/smazurov/ptzrec/internal/metrics"
	"github.com/smazurov/ptzrec/internal/slot"
)

// SlotHolder is the name the session holds the connection slot under.
const SlotHolder = "session"

var (
	// ErrSessionActive is returned when the endpoint is changed while running.
	ErrSessionActive = errors.New("session is active")
	// ErrSlotBusy is returned by Start when no connection slot is free.
	ErrSlotBusy = slot.ErrBusy
	// ErrJoinTimeout is returned by Stop when the worker did not exit in time.
	ErrJoinTimeout = errors.New("capture worker did not exit in time")
)

// Capture is an open connection that yields frames.
type Capture interface {
	// ReadFrame blocks until a frame arrives or ctx is done.
	ReadFrame(ctx context.Context) (*frames.Frame, error)
	Close() error
}

// Capturer opens captures against an endpoint.
type Capturer interface {
	Open(ctx context.Context, ep camera.Endpoint) (Capture, error)
}

// Config holds the resilience thresholds.
type Config struct {
	FailureThreshold     int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxReconnectAttempts int
	StaleTimeout         time.Duration
	ReadTimeout          time.Duration
	JoinTimeout          time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:     30,
		BackoffBase:          2 * time.Second,
		BackoffMax:           30 * time.Second,
		MaxReconnectAttempts: 10,
		StaleTimeout:         10 * time.Second,
		ReadTimeout:          5 * time.Second,
		JoinTimeout:          5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = d.StaleTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
}

// Backoff is the wait before reconnect attempt n (1-based).
func (c Config) Backoff(attempt int) time.Duration {
	d := c.BackoffBase * time.Duration(attempt)
	if d > c.BackoffMax || d <= 0 {
		return c.BackoffMax
	}
	return d
}

// Status is a point-in-time view of the session.
type Status struct {
	State     string    `json:"state" example:"streaming" doc:"Session state"`
	Endpoint  string    `json:"endpoint,omitempty" doc:"Endpoint URL with password redacted"`
	Tier      string    `json:"tier,omitempty" example:"secondary" doc:"Stream quality tier"`
	Failures  int       `json:"failures" doc:"Consecutive read failures"`
	Attempts  int       `json:"attempts" doc:"Current reconnect attempt"`
	Frames    uint64    `json:"frames" doc:"Frames delivered since start"`
	LastFrame time.Time `json:"last_frame,omitempty" doc:"Arrival time of the last frame"`
	Suspended bool      `json:"suspended" doc:"Stopped to free the connection slot for recording"`
	LastError string    `json:"last_error,omitempty" doc:"Most recent capture error"`
}

// Session owns one capture worker. It is safe for concurrent use.
type Session struct {
	cfg      Config
	capturer Capturer
	slot     *slot.Slot
	bus      *events.Bus
	hub      *frames.Hub
	logger   *slog.Logger

	// op serializes Start, Stop, Suspend and Resume.
	op sync.Mutex

	mu        sync.Mutex
	state     State
	endpoint  camera.Endpoint
	cancel    context.CancelFunc
	done      chan struct{}
	suspended bool
	lastError string

	failures  atomic.Int32
	attempts  atomic.Int32
	frames    atomic.Uint64
	lastFrame atomic.Int64
}

// New returns an idle session. sl and bus may be nil.
func New(cfg Config, capturer Capturer, sl *slot.Slot, bus *events.Bus, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:      cfg,
		capturer: capturer,
		slot:     sl,
		bus:      bus,
		hub:      frames.NewHub(),
		logger:   logger,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Endpoint() camera.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// SetEndpoint changes the endpoint used by the next Start or Resume.
func (s *Session) SetEndpoint(ep camera.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateFailed {
		return ErrSessionActive
	}
	s.endpoint = ep
	return nil
}

// Subscribe returns a latest-frame mailbox. Unsubscribe when done.
func (s *Session) Subscribe() *frames.Subscription { return s.hub.Subscribe() }

// LatestFrame returns the newest delivered frame, or nil.
func (s *Session) LatestFrame() *frames.Frame { return s.hub.Latest() }

// Frames exposes the hub so other producers, such as the recorder's
// preview output, can feed the same subscribers.
func (s *Session) Frames() *frames.Hub { return s.hub }

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		State:     s.state.String(),
		Tier:      string(s.endpoint.Tier),
		Suspended: s.suspended,
		LastError: s.lastError,
	}
	if s.endpoint.URL != "" {
		st.Endpoint = s.endpoint.Redacted()
	}
	s.mu.Unlock()

	st.Failures = int(s.failures.Load())
	st.Attempts = int(s.attempts.Load())
	st.Frames = s.frames.Load()
	if ns := s.lastFrame.Load(); ns > 0 {
		st.LastFrame = time.Unix(0, ns)
	}
	return st
}

// Start connects to ep and begins delivering frames. It is a no-op while
// the session is already running. A failed open is reported to the caller
// and not retried.
func (s *Session) Start(ctx context.Context, ep camera.Endpoint) error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.start(ctx, ep)
}

// start takes the slot before touching the endpoint or the suspend mark, so
// a start refused with ErrSlotBusy leaves a pending Resume intact.
func (s *Session) start(ctx context.Context, ep camera.Endpoint) error {
	s.mu.Lock()
	if s.state.active() {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn("Session already running, ignoring start", "state", state)
		return nil
	}
	s.mu.Unlock()

	if s.slot != nil && !s.slot.TryAcquire(SlotHolder) {
		return fmt.Errorf("start session: %w", ErrSlotBusy)
	}

	s.mu.Lock()
	s.endpoint = ep
	s.suspended = false
	s.mu.Unlock()

	s.setState(StateConnecting, "start", 0)
	s.failures.Store(0)
	s.attempts.Store(0)

	c, err := s.capturer.Open(ctx, ep)
	if err != nil {
		s.releaseSlot()
		s.recordError(err)
		s.setState(StateIdle, "open failed", 0)
		return fmt.Errorf("open %s: %w", ep.Redacted(), err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.lastFrame.Store(time.Now().UnixNano())
	s.setState(StateStreaming, "connected", 0)
	s.logger.Info("Session started", "endpoint", ep.Redacted(), "tier", ep.Tier)

	go s.run(loopCtx, c, done)
	return nil
}

// Stop cancels the worker, closes the capture and releases the slot. It is
// idempotent. A Failed session is reset to Idle.
func (s *Session) Stop() error {
	s.op.Lock()
	defer s.op.Unlock()
	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()
	return s.stop("stopped")
}

func (s *Session) stop(reason string) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	state := s.state
	s.mu.Unlock()

	if cancel == nil {
		if state == StateFailed {
			s.setState(StateIdle, reason, 0)
		}
		return nil
	}

	cancel()
	var err error
	timer := time.NewTimer(s.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Error("Capture worker did not exit", "timeout", s.cfg.JoinTimeout)
		err = ErrJoinTimeout
	}

	s.releaseSlot()
	s.setState(StateIdle, reason, 0)
	return err
}

// Suspend stops a running session to free its connection slot and marks it
// for Resume. It reports whether the session was running.
func (s *Session) Suspend() (bool, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	running := s.state.active()
	if running {
		s.suspended = true
	}
	s.mu.Unlock()
	if !running {
		return false, nil
	}
	s.logger.Info("Suspending session to free connection slot")
	return true, s.stop("suspended")
}

// Resume restarts a suspended session on its previous endpoint. It does
// nothing if the session was not suspended or has been stopped since.
func (s *Session) Resume(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	suspended := s.suspended
	ep := s.endpoint
	s.suspended = false
	s.mu.Unlock()
	if !suspended {
		return nil
	}
	s.logger.Info("Resuming session", "endpoint", ep.Redacted())
	return s.start(ctx, ep)
}

func (s *Session) run(ctx context.Context, c Capture, done chan struct{}) {
	defer close(done)

	for {
		reason := s.capture(ctx, c)
		if err := c.Close(); err != nil {
			s.logger.Debug("Capture close failed", "error", err)
		}
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("Capture lost, reconnecting", "reason", reason)
		s.setState(StateReconnecting, reason, 0)

		c = s.reconnect(ctx)
		if c == nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Reconnect attempts exhausted", "attempts", s.cfg.MaxReconnectAttempts)
			s.mu.Lock()
			cancel := s.cancel
			s.cancel, s.done = nil, nil
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			s.releaseSlot()
			s.setState(StateFailed, "reconnect attempts exhausted", int(s.attempts.Load()))
			return
		}
		s.setState(StateStreaming, "reconnected", 0)
	}
}

// capture reads until the failure threshold or the staleness timeout is hit
// and returns why it stopped. It returns "" when ctx is done.
func (s *Session) capture(ctx context.Context, c Capture) string {
	failures := 0
	for {
		if ctx.Err() != nil {
			return ""
		}

		last := time.Unix(0, s.lastFrame.Load())
		remaining := s.cfg.StaleTimeout - time.Since(last)
		if remaining <= 0 {
			return "stale feed"
		}

		readCtx, cancel := context.WithTimeout(ctx, min(s.cfg.ReadTimeout, remaining))
		f, err := c.ReadFrame(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ""
			}
			failures++
			s.failures.Store(int32(failures))
			metrics.IncSessionReadFailures()
			if failures == 1 {
				s.recordError(err)
			}
			if failures >= s.cfg.FailureThreshold {
				return "read failures"
			}
			continue
		}

		failures = 0
		s.failures.Store(0)
		s.deliver(f)
	}
}

// reconnect reopens the capture with increasing backoff and verifies it by
// reading one frame. It returns nil when attempts run out or ctx is done.
func (s *Session) reconnect(ctx context.Context) Capture {
	ep := s.Endpoint()
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		s.attempts.Store(int32(attempt))
		delay := s.cfg.Backoff(attempt)
		s.publishAttempt(attempt)
		s.logger.Info("Reconnect scheduled", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		c, err := s.capturer.Open(ctx, ep)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.recordError(err)
			metrics.IncSessionReconnect("failed")
			s.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		f, err := c.ReadFrame(readCtx)
		cancel()
		if err != nil {
			_ = c.Close()
			if ctx.Err() != nil {
				return nil
			}
			s.recordError(err)
			metrics.IncSessionReconnect("failed")
			s.logger.Warn("Reconnect verification read failed", "attempt", attempt, "error", err)
			continue
		}

		metrics.IncSessionReconnect("success")
		s.attempts.Store(0)
		s.failures.Store(0)
		s.deliver(f)
		s.logger.Info("Reconnected", "attempt", attempt)
		return c
	}
	metrics.IncSessionReconnect("exhausted")
	return nil
}

func (s *Session) deliver(f *frames.Frame) {
	s.lastFrame.Store(time.Now().UnixNano())
	s.frames.Add(1)
	s.hub.Publish(f)
	metrics.IncSessionFrames()
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Session) releaseSlot() {
	if s.slot != nil {
		s.slot.Release(SlotHolder)
	}
}

func (s *Session) setState(to State, reason string, attempt int) {
	s.mu.Lock()
	from := s.state
	s.state = to
	ep := s.endpoint
	s.mu.Unlock()
	if from == to {
		return
	}

	metrics.SetSessionState(from.String(), to.String())
	s.logger.Debug("Session state changed", "from", from, "to", to, "reason", reason)

	redacted := ""
	if ep.URL != "" {
		redacted = ep.Redacted()
	}
	s.bus.Publish(events.SessionStateChangedEvent{
		Endpoint:  redacted,
		From:      from.String(),
		To:        to.String(),
		Reason:    reason,
		Attempt:   attempt,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Session) publishAttempt(attempt int) {
	ep := s.Endpoint()
	s.bus.Publish(events.SessionStateChangedEvent{
		Endpoint:  ep.Redacted(),
		From:      StateReconnecting.String(),
		To:        StateReconnecting.String(),
		Reason:    "reconnect attempt",
		Attempt:   attempt,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
