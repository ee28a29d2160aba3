package models

import (
	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/logging"
	"github.com/smazurov/ptzrec/internal/recorder"
	"github.com/smazurov/ptzrec/internal/session"
)

// Health check models
type HealthData struct {
	Status    string `json:"status" example:"ok" doc:"Service status"`
	Message   string `json:"message" example:"API is healthy" doc:"Status message"`
	Session   string `json:"session" example:"streaming" doc:"Stream session state"`
	Recording string `json:"recording" example:"recording" doc:"Recorder state"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-27T10:30:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type SessionStartData struct {
	Tier string `json:"tier,omitempty" enum:"primary,secondary" example:"secondary" doc:"Stream quality tier, primary when empty"`
}

type SessionStartRequest struct {
	Body SessionStartData
}

type SessionResponse struct {
	Body session.Status
}

// Recording models
type RecordingStartData struct {
	Folder          string `json:"folder,omitempty" example:"/srv/recordings" doc:"Output directory, configured default when empty"`
	SegmentDuration string `json:"segment_duration,omitempty" example:"10m" doc:"Segment length as a Go duration"`
	Overlap         string `json:"overlap,omitempty" example:"2s" doc:"Extra recording time per segment"`
	Preset          string `json:"preset,omitempty" enum:"low,medium,high" example:"high" doc:"Quality preset"`
	Tier            string `json:"tier,omitempty" enum:"primary,secondary" example:"primary" doc:"Stream quality tier"`
}

type RecordingStartRequest struct {
	Body RecordingStartData
}

type RecordingJobData struct {
	JobID string `json:"job_id" example:"3f1c1f6e-8a43-4c36-9a1c-6f0f2f7f6c11" doc:"Recording job identifier"`
	State string `json:"state" example:"recording" doc:"Recorder state"`
}

type RecordingStartResponse struct {
	Body RecordingJobData
}

type RecordingStopData struct {
	State string `json:"state" example:"stopped" doc:"Recorder state after stopping"`
	Error string `json:"error,omitempty" doc:"Error that ended the recording, if any"`
}

type RecordingStopResponse struct {
	Body RecordingStopData
}

type RecordingHealthResponse struct {
	Body recorder.HealthSnapshot
}

// Snapshot models
type SnapshotRequest struct {
	Source string `query:"source" enum:"auto,live,camera" default:"auto" doc:"Frame source: latest live frame, camera snapshot URL, or live with camera fallback"`
}

type SnapshotResponse struct {
	ContentType string `header:"Content-Type"`
	Source      string `header:"X-Snapshot-Source"`
	Body        []byte
}

// Probe models
type ProbeData struct {
	Endpoint string         `json:"endpoint" doc:"Endpoint URL with password redacted"`
	Tier     string         `json:"tier" example:"primary" doc:"Stream quality tier"`
	Tracks   []camera.Track `json:"tracks" doc:"Media tracks announced by the camera"`
}

type ProbeRequest struct {
	Tier string `query:"tier" enum:"primary,secondary" default:"primary" doc:"Stream quality tier to probe"`
}

type ProbeResponse struct {
	Body ProbeData
}

// Log models
type LogsRequest struct {
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"100" doc:"Maximum number of entries"`
	Module string `query:"module" example:"recorder" doc:"Only entries from this module"`
}

type LogsData struct {
	Entries []logging.Entry `json:"entries" doc:"Log entries, oldest first"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelData struct {
	Module string `json:"module" example:"encoder" doc:"Logger module name"`
	Level  string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
}

type LogLevelRequest struct {
	Body LogLevelData
}

type LogLevelResponse struct {
	Body LogLevelData
}
