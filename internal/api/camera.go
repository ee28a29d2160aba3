package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/ptzrec/internal/api/models"
	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/frames"
	"github.com/smazurov/ptzrec/internal/slot"
)

var errNoLiveFrame = errors.New("no live frame available")

// registerCameraRoutes registers snapshot and probe endpoints.
func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/snapshot",
		Summary:     "Snapshot",
		Description: "JPEG of the newest live preview frame, or a still fetched from the camera",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401, 502, 503},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "JPEG image",
				Content: map[string]*huma.MediaType{
					"image/jpeg": {},
				},
			},
		},
	}, func(ctx context.Context, input *models.SnapshotRequest) (*models.SnapshotResponse, error) {
		if input.Source != "camera" {
			data, err := liveJPEG(s.options.Session.LatestFrame())
			if err == nil {
				return &models.SnapshotResponse{ContentType: "image/jpeg", Source: "live", Body: data}, nil
			}
			if input.Source == "live" {
				return nil, huma.Error503ServiceUnavailable(err.Error(), err)
			}
		}

		data, err := s.options.Camera.GetSnapshot(ctx)
		if err != nil {
			return nil, huma.Error502BadGateway("camera snapshot failed", err)
		}
		return &models.SnapshotResponse{ContentType: "image/jpeg", Source: "camera", Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "probe-camera",
		Method:      http.MethodGet,
		Path:        "/api/camera/probe",
		Summary:     "Probe Stream",
		Description: "Connect to the camera's RTSP endpoint, list its tracks and disconnect",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 502},
	}, func(ctx context.Context, input *models.ProbeRequest) (*models.ProbeResponse, error) {
		tier, err := camera.ParseTier(input.Tier)
		if err != nil {
			return nil, huma.Error400BadRequest("unknown stream tier", err)
		}
		ep, err := s.options.Camera.ResolveStreamEndpoint(tier)
		if err != nil {
			return nil, huma.Error400BadRequest("resolve endpoint", err)
		}
		var tracks []camera.Track
		probe := func() error {
			var err error
			tracks, err = s.options.Camera.Probe(ctx, ep)
			return err
		}
		if s.options.Slot != nil {
			err = s.options.Slot.Hold(camera.ProbeSlotHolder, probe)
		} else {
			err = probe()
		}
		if errors.Is(err, slot.ErrBusy) {
			return nil, huma.Error409Conflict("no free camera connection, stop the session or recording first", err)
		}
		if err != nil {
			return nil, huma.Error502BadGateway(fmt.Sprintf("probe %s failed", ep.Redacted()), err)
		}
		return &models.ProbeResponse{
			Body: models.ProbeData{
				Endpoint: ep.Redacted(),
				Tier:     string(ep.Tier),
				Tracks:   tracks,
			},
		}, nil
	})
}

// liveJPEG returns the frame's original JPEG bytes, re-encoding the decoded
// image when they were not kept.
func liveJPEG(f *frames.Frame) ([]byte, error) {
	if f == nil {
		return nil, errNoLiveFrame
	}
	if len(f.JPEG) > 0 {
		return f.JPEG, nil
	}
	if f.Image == nil {
		return nil, errNoLiveFrame
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
