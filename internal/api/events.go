package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/ptzrec/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session and recording state changes, segment boundaries and warnings",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"session-state-changed":   events.SessionStateChangedEvent{},
		"recording-state-changed": events.RecordingStateChangedEvent{},
		"segment-started":         events.SegmentStartedEvent{},
		"segment-closed":          events.SegmentClosedEvent{},
		"recording-warning":       events.RecordingWarningEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribe := events.SubscribeAll(s.options.EventBus, eventCh)
		defer unsubscribe()

		// Current state first so clients need no separate poll
		if s.options.Session != nil {
			st := s.options.Session.Status()
			if err := send.Data(events.SessionStateChangedEvent{
				Endpoint:  st.Endpoint,
				To:        st.State,
				Reason:    "connected",
				Timestamp: time.Now().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
