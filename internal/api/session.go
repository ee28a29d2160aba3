package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/ptzrec/internal/api/models"
	"github.com/smazurov/ptzrec/internal/camera"
)

// registerSessionRoutes registers the live stream session endpoints.
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session Status",
		Description: "Current state of the live preview session",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		return &models.SessionResponse{Body: s.options.Session.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/api/session/start",
		Summary:     "Start Session",
		Description: "Open the live preview stream. Starting a running session is a no-op.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 502},
	}, func(ctx context.Context, input *models.SessionStartRequest) (*models.SessionResponse, error) {
		tier, err := camera.ParseTier(input.Body.Tier)
		if err != nil {
			return nil, mapSessionError(err)
		}
		ep, err := s.options.Camera.ResolveStreamEndpoint(tier)
		if err != nil {
			return nil, mapSessionError(err)
		}
		if err := s.options.Session.Start(ctx, ep); err != nil {
			return nil, mapSessionError(err)
		}
		return &models.SessionResponse{Body: s.options.Session.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/api/session/stop",
		Summary:     "Stop Session",
		Description: "Close the live preview stream and release its connection slot",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 504},
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		if err := s.options.Session.Stop(); err != nil {
			return nil, mapSessionError(err)
		}
		return &models.SessionResponse{Body: s.options.Session.Status()}, nil
	})
}
