package recorder

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/smazurov/ptzrec/internal/metrics"
)

// HealthSnapshot is computed on every call and never stored.
type HealthSnapshot struct {
	Recording      bool      `json:"recording" doc:"True while a job is active"`
	State          string    `json:"state" example:"recording" doc:"Recorder state"`
	JobID          string    `json:"job_id,omitempty" doc:"Current or last job"`
	Segment        int       `json:"segment" example:"4" doc:"Current segment number"`
	SegmentPath    string    `json:"segment_path,omitempty" doc:"Current output file"`
	ElapsedSeconds float64   `json:"elapsed_seconds" example:"312.5" doc:"Time since the current segment started"`
	FileSize       int64     `json:"file_size" example:"41943040" doc:"Current segment size in bytes"`
	FileSizeHuman  string    `json:"file_size_human,omitempty" example:"42 MB" doc:"Current segment size, human readable"`
	BitrateKbps    float64   `json:"bitrate_kbps" example:"1075.2" doc:"Average bitrate of the current segment"`
	Error          string    `json:"error,omitempty" doc:"Sticky error message"`
	Warnings       []Warning `json:"warnings,omitempty" doc:"Recent non-fatal warnings"`
	Restarts       int       `json:"restarts" doc:"Replacement segments launched after failures"`
	DiskFreeBytes  uint64    `json:"disk_free_bytes" doc:"Free space on the recording volume"`
	DiskFreeHuman  string    `json:"disk_free_human,omitempty" example:"112 GB" doc:"Free space, human readable"`
	LowDisk        bool      `json:"low_disk" doc:"Free space under the configured minimum"`
	EncoderFPS     float64   `json:"encoder_fps,omitempty" doc:"Encoder frames per second"`
	EncoderSpeed   float64   `json:"encoder_speed,omitempty" doc:"Encoder speed relative to realtime"`
}

// Health reports the current job. With no job it only carries the state.
func (o *Orchestrator) Health() HealthSnapshot {
	o.mu.Lock()
	state := o.state
	job := o.job
	snap := HealthSnapshot{
		Recording: state.Active(),
		State:     state.String(),
	}
	if job == nil {
		o.mu.Unlock()
		return snap
	}
	snap.JobID = job.ID
	snap.Segment = job.Segment
	snap.SegmentPath = job.OutputPath
	snap.Restarts = job.Restarts
	snap.Warnings = append([]Warning(nil), job.Warnings...)
	snap.Error = job.Error
	folder := job.Folder
	start := job.SegmentStart
	watch := job.watch
	size := job.LastSize
	o.mu.Unlock()

	if snap.Error == "" {
		if msg, ok := job.diag.Error(); ok {
			snap.Error = msg
		}
	}

	if snap.Recording && watch != nil {
		if s := watch.Size(); s > 0 {
			size = s
		}
		elapsed := time.Since(start)
		snap.ElapsedSeconds = elapsed.Seconds()
		if elapsed > 0 {
			snap.BitrateKbps = float64(size) * 8 / elapsed.Seconds() / 1000
		}
		metrics.SetSegmentBytes(size)
	}
	snap.FileSize = size
	if size > 0 {
		snap.FileSizeHuman = humanize.Bytes(uint64(size))
	}

	if free, err := o.mon.DiskFree(folder); err == nil {
		snap.DiskFreeBytes = free
		snap.DiskFreeHuman = humanize.Bytes(free)
		snap.LowDisk = o.mon.LowDisk(free)
		metrics.SetDiskFree(free)
	}

	if p, ok := metrics.GetEncoderProgress(job.ID); ok && snap.Recording {
		snap.EncoderFPS = p.FPS
		snap.EncoderSpeed = p.Speed
	}
	return snap
}
