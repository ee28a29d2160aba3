package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/ptzrec/internal/api/models"
	"github.com/smazurov/ptzrec/internal/logging"
)

// registerLogRoutes registers the log history and level endpoints.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Newest retained log entries, oldest first",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *models.LogsRequest) (*models.LogsResponse, error) {
		if input.Module == "" {
			return &models.LogsResponse{Body: models.LogsData{Entries: logging.Recent(input.Limit)}}, nil
		}

		// Filter over the whole history, then keep the newest Limit
		var entries []logging.Entry
		for _, e := range logging.Recent(0) {
			if e.Module == input.Module {
				entries = append(entries, e)
			}
		}
		if len(entries) > input.Limit {
			entries = entries[len(entries)-input.Limit:]
		}
		return &models.LogsResponse{Body: models.LogsData{Entries: entries}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/level",
		Summary:     "Set Log Level",
		Description: "Change one module's log level until restart",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *models.LogLevelRequest) (*models.LogLevelResponse, error) {
		if !logging.SetModuleLevel(input.Body.Module, input.Body.Level) {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid level %q", input.Body.Level))
		}
		s.logger.Info("Log level changed", "target", input.Body.Module, "level", input.Body.Level)
		return &models.LogLevelResponse{Body: input.Body}, nil
	})
}
