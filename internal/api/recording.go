package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/ptzrec/internal/api/models"
	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/config"
	"github.com/smazurov/ptzrec/internal/ffmpeg"
	"github.com/smazurov/ptzrec/internal/recorder"
)

// registerRecordingRoutes registers the segmented recording endpoints.
func (s *Server) registerRecordingRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "start-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/start",
		Summary:     "Start Recording",
		Description: "Start a segmented recording job. Empty fields take the configured [recording] defaults.",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 503, 507},
	}, func(ctx context.Context, input *models.RecordingStartRequest) (*models.RecordingStartResponse, error) {
		req, err := s.recordingRequest(input.Body)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error(), err)
		}
		id, err := s.options.Recorder.StartRecording(ctx, req)
		if err != nil {
			return nil, mapRecorderError(err)
		}
		return &models.RecordingStartResponse{
			Body: models.RecordingJobData{
				JobID: id,
				State: s.options.Recorder.State().String(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/stop",
		Summary:     "Stop Recording",
		Description: "Finalize the current segment and end the job. Stopping an idle recorder is a no-op.",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(_ context.Context, _ *struct{}) (*models.RecordingStopResponse, error) {
		if err := s.options.Recorder.StopRecording(); err != nil {
			return nil, mapRecorderError(err)
		}
		snap := s.options.Recorder.Health()
		return &models.RecordingStopResponse{
			Body: models.RecordingStopData{
				State: snap.State,
				Error: snap.Error,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "recording-health",
		Method:      http.MethodGet,
		Path:        "/api/recording/health",
		Summary:     "Recording Health",
		Description: "Snapshot of the current segment, encoder progress and disk space",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.RecordingHealthResponse, error) {
		return &models.RecordingHealthResponse{Body: s.options.Recorder.Health()}, nil
	})
}

// recordingRequest merges the body over the current [recording] defaults.
func (s *Server) recordingRequest(body models.RecordingStartData) (recorder.Request, error) {
	var defaults config.Recording
	if s.options.RecordingDefaults != nil {
		defaults = s.options.RecordingDefaults()
	}
	merged := config.Recording{
		Folder:          firstNonEmpty(body.Folder, defaults.Folder),
		SegmentDuration: firstNonEmpty(body.SegmentDuration, defaults.SegmentDuration),
		Overlap:         firstNonEmpty(body.Overlap, defaults.Overlap),
		Preset:          firstNonEmpty(body.Preset, defaults.Preset),
	}

	segment, overlap, err := merged.Durations()
	if err != nil {
		return recorder.Request{}, err
	}
	tier, err := camera.ParseTier(body.Tier)
	if err != nil {
		return recorder.Request{}, fmt.Errorf("tier: %w", err)
	}

	return recorder.Request{
		Folder:          merged.Folder,
		SegmentDuration: segment,
		Overlap:         overlap,
		Preset:          ffmpeg.Preset(merged.Preset),
		Tier:            tier,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
