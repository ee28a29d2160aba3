package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// KilledExitCode is reported when the process had to be killed.
const KilledExitCode = 137

const defaultKillTimeout = 5 * time.Second

// OutputHandler receives every line the subprocess writes to a text stream.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser splits a process output line into a level and message.
type LogParser func(line string) (level, msg string)

// Process runs one subprocess in its own process group. It is started once
// and cannot be restarted.
type Process struct {
	id     string
	args   []string
	dir    string
	env    []string
	logger *slog.Logger

	outputLogger  *slog.Logger
	logParser     LogParser
	outputHandler OutputHandler
	stdout        func(io.Reader)
	quitToken     string
	killTimeout   time.Duration

	mu      sync.Mutex
	tried   bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started time.Time

	state    atomic.Value
	stopping atomic.Bool
	forced   atomic.Bool

	done     chan struct{}
	exitCode int
	waitErr  error
}

// Option configures a Process.
type Option func(*Process)

// WithLogParser routes text output through parser into logger.
func WithLogParser(logger *slog.Logger, parser LogParser) Option {
	return func(p *Process) {
		p.outputLogger = logger
		p.logParser = parser
	}
}

// WithOutputHandler receives each text output line before it is logged.
func WithOutputHandler(h OutputHandler) Option {
	return func(p *Process) { p.outputHandler = h }
}

// WithStdout hands the raw stdout stream to fn instead of logging it by line.
// Whatever fn leaves unread is drained so the child never blocks on a full pipe.
func WithStdout(fn func(io.Reader)) Option {
	return func(p *Process) { p.stdout = fn }
}

// WithQuitToken makes Stop write token to stdin and close it instead of
// sending SIGINT.
func WithQuitToken(token string) Option {
	return func(p *Process) { p.quitToken = token }
}

// WithKillTimeout bounds how long to wait for exit after SIGKILL.
func WithKillTimeout(d time.Duration) Option {
	return func(p *Process) { p.killTimeout = d }
}

// WithDir sets the working directory.
func WithDir(dir string) Option {
	return func(p *Process) { p.dir = dir }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(kv ...string) Option {
	return func(p *Process) { p.env = append(p.env, kv...) }
}

func New(id string, args []string, logger *slog.Logger, opts ...Option) *Process {
	p := &Process{
		id:          id,
		args:        args,
		logger:      logger,
		killTimeout: defaultKillTimeout,
		done:        make(chan struct{}),
	}
	p.state.Store(StateIdle)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Process) ID() string     { return p.id }
func (p *Process) Args() []string { return p.args }

// Start launches the subprocess. Output is consumed in background
// goroutines and Done is closed once the process has been reaped.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tried {
		return fmt.Errorf("process %s already started", p.id)
	}
	p.tried = true
	if len(p.args) == 0 {
		return p.fail(errors.New("empty command"))
	}
	p.state.Store(StateStarting)

	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = p.dir
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}

	var stdin io.WriteCloser
	if p.quitToken != "" {
		var err error
		if stdin, err = cmd.StdinPipe(); err != nil {
			return p.fail(fmt.Errorf("stdin pipe: %w", err))
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return p.fail(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.fail(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return p.fail(fmt.Errorf("start %s: %w", p.args[0], err))
	}
	p.cmd = cmd
	p.stdin = stdin
	p.started = time.Now()
	p.state.Store(StateRunning)
	p.logger.Debug("Process started", "id", p.id, "pid", cmd.Process.Pid, "args", p.args)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		if p.stdout != nil {
			p.stdout(stdout)
			_, _ = io.Copy(io.Discard, stdout)
			return
		}
		p.streamOutput(stdout, "stdout")
	}()
	go func() {
		defer readers.Done()
		p.streamOutput(stderr, "stderr")
	}()

	go func() {
		readers.Wait()
		err := cmd.Wait()
		p.exitCode = exitCodeFromError(err)
		p.waitErr = err
		p.state.Store(StateExited)
		close(p.done)
	}()
	return nil
}

// fail marks a start that never produced a child. Must hold p.mu.
func (p *Process) fail(err error) error {
	p.exitCode = 1
	p.waitErr = err
	p.state.Store(StateExited)
	close(p.done)
	return err
}

// Done is closed after the process exits and its output has been drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode is valid after Done is closed. Signal deaths map to 128+signal.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Err returns the error from Wait, valid after Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.waitErr
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Process) State() State { return p.state.Load().(State) }

// StopRequested reports whether Stop or Kill was called.
func (p *Process) StopRequested() bool { return p.stopping.Load() }

// Forced reports whether the process was killed.
func (p *Process) Forced() bool { return p.forced.Load() }

// Stop asks the process to exit, by quit token when configured and SIGINT
// otherwise, and kills the whole process group if it has not exited within
// timeout. It returns the exit code and whether a kill was needed.
func (p *Process) Stop(timeout time.Duration) (int, bool) {
	p.mu.Lock()
	if p.cmd == nil {
		code := 0
		if p.tried {
			code = p.exitCode
		}
		p.mu.Unlock()
		return code, false
	}
	p.stopping.Store(true)
	if p.State() == StateRunning {
		p.state.Store(StateStopping)
	}
	p.sendStop()
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.exitCode, false
	case <-timer.C:
		p.logger.Warn("Graceful stop timed out, killing", "id", p.id, "timeout", timeout)
		return p.Kill(), true
	}
}

// Kill sends SIGKILL to the process group and waits up to the kill timeout.
func (p *Process) Kill() int {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return 0
	}
	select {
	case <-p.done:
		return p.exitCode
	default:
	}

	p.stopping.Store(true)
	p.forced.Store(true)
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Error("Failed to kill process group", "id", p.id, "pid", pid, "error", err)
		_ = cmd.Process.Kill()
	}

	timer := time.NewTimer(p.killTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		p.logger.Error("Process did not exit after SIGKILL", "id", p.id, "pid", pid)
	}
	return KilledExitCode
}

// sendStop must be called with p.mu held.
func (p *Process) sendStop() {
	if p.stdin != nil {
		if _, err := io.WriteString(p.stdin, p.quitToken); err != nil {
			p.logger.Debug("Quit token not delivered", "id", p.id, "error", err)
		}
		_ = p.stdin.Close()
		p.stdin = nil
		return
	}
	if p.quitToken != "" {
		// Token already sent on an earlier Stop.
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Process) streamOutput(r io.Reader, source string) {
	logger := p.outputLogger
	if logger == nil {
		logger = p.logger
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}
		if msg == "" {
			continue
		}
		switch level {
		case "fatal", "panic", "error":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "debug", "trace", "verbose":
			logger.Debug(msg, "id", p.id)
		default:
			logger.Info(msg, "id", p.id)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "source", source, "error", err)
	}
}
