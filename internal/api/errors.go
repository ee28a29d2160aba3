package api

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/recorder"
	"github.com/smazurov/ptzrec/internal/session"
)

// mapRecorderError maps coded recorder failures to HTTP errors.
func mapRecorderError(err error) error {
	var recErr *recorder.Error
	if !errors.As(err, &recErr) {
		return huma.Error500InternalServerError("internal server error", err)
	}
	switch recErr.Code {
	case recorder.CodeInvalidRequest:
		return huma.Error400BadRequest(recErr.Message, err)
	case recorder.CodeAlreadyRecording:
		return huma.Error409Conflict(recErr.Message, err)
	case recorder.CodeInsufficientStorage:
		return huma.NewError(http.StatusInsufficientStorage, recErr.Message, err)
	case recorder.CodeStreamUnavailable, recorder.CodeEncoderUnavailable:
		return huma.Error503ServiceUnavailable(recErr.Message, err)
	default:
		return huma.Error500InternalServerError(recErr.Message, err)
	}
}

// mapSessionError maps stream session failures to HTTP errors.
func mapSessionError(err error) error {
	switch {
	case errors.Is(err, camera.ErrUnknownTier):
		return huma.Error400BadRequest("unknown stream tier", err)
	case errors.Is(err, session.ErrSlotBusy):
		return huma.Error409Conflict("connection slot held by a recording", err)
	case errors.Is(err, session.ErrSessionActive):
		return huma.Error409Conflict("session is running", err)
	case errors.Is(err, session.ErrJoinTimeout):
		return huma.Error504GatewayTimeout("session did not stop in time", err)
	default:
		return huma.Error502BadGateway("camera stream unavailable", err)
	}
}
