package recorder

import (
	"errors"
	"fmt"

	"github.com/smazurov/ptzrec/internal/encoder"
	"github.com/smazurov/ptzrec/internal/health"
)

// Error codes reported to API clients.
const (
	CodeStreamUnavailable   = "STREAM_UNAVAILABLE"
	CodeEncoderUnavailable  = "ENCODER_UNAVAILABLE"
	CodeInsufficientStorage = "INSUFFICIENT_STORAGE"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeAlreadyRecording    = "ALREADY_RECORDING"
)

var (
	ErrStreamUnavailable   = errors.New("stream unavailable")
	ErrEncoderUnavailable  = encoder.ErrEncoderUnavailable
	ErrInsufficientStorage = health.ErrInsufficientStorage
	ErrInvalidRequest      = errors.New("invalid recording request")
	ErrAlreadyRecording    = errors.New("recording already in progress")
)

// Error is a coded recorder failure. Cause chains to one of the sentinel
// errors above so errors.Is works on either.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func invalid(format string, args ...any) *Error {
	return newError(CodeInvalidRequest, fmt.Sprintf(format, args...), ErrInvalidRequest)
}
