package encoder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/ptzrec/internal/ffmpeg"
	"github.com/smazurov/ptzrec/internal/metrics"
	"github.com/smazurov/ptzrec/internal/process"
)

// ExitKind classifies how an invocation ended.
type ExitKind int

const (
	// ExitGraceful: stopped on request within the timeout.
	ExitGraceful ExitKind = iota + 1
	// ExitForced: killed, either after the graceful timeout or directly.
	ExitForced
	// ExitCrash: non-zero exit with no stop requested.
	ExitCrash
	// ExitCompleted: clean exit with no stop requested, i.e. the duration cap.
	ExitCompleted
)

func (k ExitKind) String() string {
	switch k {
	case ExitGraceful:
		return "graceful"
	case ExitForced:
		return "forced"
	case ExitCrash:
		return "crash"
	case ExitCompleted:
		return "completed"
	}
	return "unknown"
}

// ExitStatus is the final state of an invocation.
type ExitStatus struct {
	Code     int
	Kind     ExitKind
	Err      error
	Duration time.Duration
}

// Invocation is one running encoder bound to one segment.
type Invocation struct {
	params LaunchParams
	proc   *process.Process
	done   chan struct{}
	status ExitStatus

	mu       sync.Mutex
	progress *ffmpeg.ProgressParser
	last     ffmpeg.Progress
	seen     bool
}

// Done is closed once the process has exited and Status is final.
func (inv *Invocation) Done() <-chan struct{} { return inv.done }

// Status blocks until the invocation has exited.
func (inv *Invocation) Status() ExitStatus {
	<-inv.done
	return inv.status
}

func (inv *Invocation) Segment() int         { return inv.params.Segment }
func (inv *Invocation) OutputPath() string   { return inv.params.OutputPath }
func (inv *Invocation) PID() int             { return inv.proc.PID() }
func (inv *Invocation) StartedAt() time.Time { return inv.proc.StartedAt() }

// Progress returns the latest -progress block.
func (inv *Invocation) Progress() (ffmpeg.Progress, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.last, inv.seen
}

// HandleLine splits progress blocks from diagnostics on stderr.
func (inv *Invocation) HandleLine(source, line string) {
	if source != "stderr" {
		return
	}
	if ffmpeg.IsProgressLine(line) {
		inv.mu.Lock()
		p, complete := inv.progress.Feed(line)
		if complete {
			inv.last = p
			inv.seen = true
		}
		inv.mu.Unlock()
		if complete && inv.params.JobID != "" {
			metrics.SetEncoderProgress(inv.params.JobID, metrics.EncoderProgress{
				FPS:        p.FPS,
				Speed:      p.Speed,
				Dropped:    float64(p.Dropped),
				Duplicated: float64(p.Dup),
			})
		}
		return
	}
	if inv.params.OnLine != nil {
		inv.params.OnLine(line)
	}
}

func (inv *Invocation) wait(ctx context.Context, logger *slog.Logger) {
	select {
	case <-inv.proc.Done():
	case <-ctx.Done():
		logger.Debug("Launch context cancelled, killing encoder", "id", inv.proc.ID())
		inv.proc.Kill()
		<-inv.proc.Done()
	}

	st := ExitStatus{
		Code:     inv.proc.ExitCode(),
		Err:      inv.proc.Err(),
		Duration: time.Since(inv.proc.StartedAt()),
	}
	st.Kind = classify(st.Code, inv.proc.StopRequested(), inv.proc.Forced())
	inv.status = st
	close(inv.done)

	logger.Debug("Encoder exited", "id", inv.proc.ID(), "exit_code", st.Code, "kind", st.Kind)
}

func classify(code int, stopRequested, forced bool) ExitKind {
	switch {
	case forced:
		return ExitForced
	case stopRequested:
		return ExitGraceful
	case code == 0:
		return ExitCompleted
	default:
		return ExitCrash
	}
}
