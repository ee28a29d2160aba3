package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/smazurov/ptzrec/internal/encoder"
	"github.com/smazurov/ptzrec/internal/events"
	"github.com/smazurov/ptzrec/internal/health"
	"github.com/smazurov/ptzrec/internal/metrics"
	"github.com/smazurov/ptzrec/internal/mjpeg"
)

type outcome int

const (
	outcomeStop outcome = iota
	outcomeRotate
	outcomeCompleted
	outcomeFault
)

type segmentEnd struct {
	outcome outcome
	cause   string
	message string
}

// run supervises segments until stopCtx is cancelled or the restart budget
// runs out. jobCtx bounds every invocation it launches.
func (o *Orchestrator) run(stopCtx, jobCtx context.Context, job *Job, done chan struct{}) {
	defer close(done)

	for {
		end := o.awaitSegment(stopCtx, job)
		inv := o.current(job)

		switch end.outcome {
		case outcomeStop:
			st := o.enc.RequestGracefulStop(inv, o.cfg.GracefulTimeout)
			o.closeSegment(job, "stop", st)
			return

		case outcomeRotate:
			o.setState(job, StateRotating, "")
			st := o.enc.RequestGracefulStop(inv, o.cfg.GracefulTimeout)
			o.closeSegment(job, "rotation", st)
			if st.Kind == encoder.ExitForced {
				o.warn(job, "forced_stop", fmt.Sprintf("segment %d did not finish within %s and was killed", job.Segment, o.cfg.GracefulTimeout))
			}

		case outcomeCompleted:
			o.closeSegment(job, "completed", inv.Status())

		case outcomeFault:
			st := o.enc.Kill(inv)
			o.closeSegment(job, end.cause, st)
			o.warn(job, end.cause, end.message)
			metrics.IncRecordingRestart(end.cause)

			o.mu.Lock()
			job.Restarts++
			job.consecutive++
			consecutive := job.consecutive
			o.mu.Unlock()

			if consecutive > o.cfg.MaxConsecutiveRestarts {
				o.fail(job, fmt.Errorf("%w: %d consecutive segment failures, last: %s", ErrStreamUnavailable, consecutive, end.message))
				return
			}
			if delay := o.restartDelay(consecutive); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-stopCtx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}

		if stopCtx.Err() != nil {
			return
		}
		if err := o.launchSegment(jobCtx, job); err != nil {
			o.fail(job, err)
			return
		}
		if stopCtx.Err() == nil {
			o.setState(job, StateRecording, "")
		}
	}
}

// restartDelay grows with consecutive failures but never past one poll
// interval, so a replacement starts before the next health poll.
func (o *Orchestrator) restartDelay(consecutive int) time.Duration {
	delay := o.cfg.RestartDelay * time.Duration(consecutive-1)
	if limit := o.mon.Config().PollInterval; delay > limit {
		delay = limit
	}
	return delay
}

// awaitSegment blocks until the current segment needs to end.
func (o *Orchestrator) awaitSegment(ctx context.Context, job *Job) segmentEnd {
	o.mu.Lock()
	inv, watch, start := job.inv, job.watch, job.SegmentStart
	o.mu.Unlock()

	rotate := time.NewTimer(time.Until(start.Add(job.SegmentDuration)))
	defer rotate.Stop()
	healthy := time.NewTimer(o.cfg.HealthyAfter)
	defer healthy.Stop()
	healthyC := healthy.C

	for {
		select {
		case <-ctx.Done():
			return segmentEnd{outcome: outcomeStop}

		case <-healthyC:
			healthyC = nil
			if watch.Grew() {
				o.mu.Lock()
				job.consecutive = 0
				o.mu.Unlock()
			}

		case <-rotate.C:
			return segmentEnd{outcome: outcomeRotate}

		case sig := <-watch.Signals():
			msg := fmt.Sprintf("output file unchanged for %d polls", o.mon.Config().StallPolls)
			if sig == health.SignalStartupFailure {
				msg = fmt.Sprintf("output file not created within %s", o.mon.Config().StartupGrace)
			}
			return segmentEnd{outcome: outcomeFault, cause: sig.String(), message: msg}

		case <-inv.Done():
			st := inv.Status()
			if st.Kind == encoder.ExitCompleted {
				if st.Duration >= job.SegmentDuration {
					return segmentEnd{outcome: outcomeCompleted}
				}
				return segmentEnd{
					outcome: outcomeFault,
					cause:   "early_exit",
					message: fmt.Sprintf("encoder finished after %s, before the %s segment length", st.Duration.Round(time.Millisecond), job.SegmentDuration),
				}
			}
			msg := fmt.Sprintf("encoder exited with code %d", st.Code)
			if errMsg, ok := job.diag.Error(); ok {
				msg += ": " + errMsg
			}
			return segmentEnd{outcome: outcomeFault, cause: "crash", message: msg}
		}
	}
}

func (o *Orchestrator) current(job *Job) *encoder.Invocation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return job.inv
}

// launchSegment starts the next segment number. The previous invocation
// must already have exited. Every segment passes the disk preflight first.
func (o *Orchestrator) launchSegment(ctx context.Context, job *Job) error {
	if _, err := o.mon.Preflight(job.Folder); err != nil {
		if !errors.Is(err, ErrInsufficientStorage) {
			err = fmt.Errorf("%w: %v", ErrInsufficientStorage, err)
		}
		return newError(CodeInsufficientStorage, "disk preflight failed", err)
	}

	o.mu.Lock()
	job.Segment++
	segment := job.Segment
	o.mu.Unlock()

	start := time.Now()
	path := filepath.Join(job.Folder, SegmentFileName(start, segment))

	params := encoder.LaunchParams{
		JobID:      job.ID,
		Segment:    segment,
		Input:      job.Endpoint.URL,
		OutputPath: path,
		Preset:     job.Preset,
		Duration:   job.SegmentDuration + job.Overlap,
		OnLine:     o.diagnosticLine(job),
	}
	if o.preview != nil && o.previewPub != nil {
		params.Preview = o.preview
		sink := mjpeg.NewSink(o.previewPub, o.logger, o.preview.MaxFrameSize)
		params.PreviewSink = func(r io.Reader) {
			if err := sink.Run(r); err != nil {
				o.logger.Debug("Preview stream ended", "job", job.ID, "error", err)
			}
		}
	}

	inv, err := o.enc.Launch(ctx, params)
	if err != nil {
		return fmt.Errorf("launch segment %d: %w", segment, err)
	}
	watch := o.mon.WatchSegment(ctx, path, start)

	o.mu.Lock()
	job.inv = inv
	job.watch = watch
	job.OutputPath = path
	job.SegmentStart = start
	job.LastSize = 0
	o.mu.Unlock()

	o.logger.Info("Segment started", "job", job.ID, "segment", segment, "path", path)
	o.bus.Publish(events.SegmentStartedEvent{
		JobID:     job.ID,
		Segment:   segment,
		Path:      path,
		Timestamp: start.UTC().Format(time.RFC3339),
	})
	return nil
}

func (o *Orchestrator) diagnosticLine(job *Job) func(string) {
	return func(line string) {
		_, had := job.diag.Error()
		if job.diag.Scan(line) && !had {
			o.warn(job, "diagnostic", line)
		}
	}
}

// closeSegment stops the file watch and reports the finished segment.
func (o *Orchestrator) closeSegment(job *Job, reason string, st encoder.ExitStatus) {
	o.mu.Lock()
	watch, path, segment, start := job.watch, job.OutputPath, job.Segment, job.SegmentStart
	job.watch = nil
	o.mu.Unlock()
	if watch != nil {
		watch.Stop()
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	o.mu.Lock()
	job.LastSize = size
	o.mu.Unlock()

	metrics.IncSegmentClosed(reason)
	metrics.SetSegmentBytes(size)
	o.logger.Info("Segment closed", "job", job.ID, "segment", segment, "reason", reason,
		"exit", st.Kind, "code", st.Code, "bytes", size)
	o.bus.Publish(events.SegmentClosedEvent{
		JobID:     job.ID,
		Segment:   segment,
		Path:      path,
		Reason:    reason,
		Exit:      st.Kind.String(),
		Bytes:     size,
		Seconds:   time.Since(start).Seconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// fail ends the job in the Error state. The current invocation, if any, has
// already been stopped.
func (o *Orchestrator) fail(job *Job, err error) {
	o.setState(job, StateStoppingFailed, err.Error())
	o.mu.Lock()
	job.Error = err.Error()
	stop := o.stop
	o.stop, o.done = nil, nil
	o.mu.Unlock()
	if stop != nil {
		stop()
	}

	o.release(job)
	o.setState(job, StateError, err.Error())
	if errors.Is(err, ErrStreamUnavailable) {
		o.logger.Error("Recording gave up", "job", job.ID, "error", err)
		return
	}
	o.logger.Error("Recording failed", "job", job.ID, "error", err)
}
