package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/ptzrec/internal/api/models"
	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/config"
	"github.com/smazurov/ptzrec/internal/events"
	"github.com/smazurov/ptzrec/internal/frames"
	"github.com/smazurov/ptzrec/internal/logging"
	"github.com/smazurov/ptzrec/internal/recorder"
	"github.com/smazurov/ptzrec/internal/session"
	"github.com/smazurov/ptzrec/internal/version"
)

// LiveSession is the stream session surface the API drives.
type LiveSession interface {
	Start(ctx context.Context, ep camera.Endpoint) error
	Stop() error
	Status() session.Status
	State() session.State
	LatestFrame() *frames.Frame
}

// Recorder is the recording orchestrator surface the API drives.
type Recorder interface {
	StartRecording(ctx context.Context, req recorder.Request) (string, error)
	StopRecording() error
	State() recorder.State
	Health() recorder.HealthSnapshot
}

// Camera resolves endpoints and talks to the camera directly.
type Camera interface {
	ResolveStreamEndpoint(tier camera.Tier) (camera.Endpoint, error)
	GetSnapshot(ctx context.Context) ([]byte, error)
	Probe(ctx context.Context, ep camera.Endpoint) ([]camera.Track, error)
}

// ConnectionSlot guards upstream connections opened by the API itself.
type ConnectionSlot interface {
	Hold(holder string, fn func() error) error
}

// Options wires the server to the application components.
type Options struct {
	AuthUsername string
	AuthPassword string
	Session      LiveSession
	Recorder     Recorder
	Camera       Camera
	// Slot, when set, is held for the duration of a probe.
	Slot     ConnectionSlot
	EventBus *events.Bus
	// RecordingDefaults fills fields a start request leaves empty. It is
	// read on every request so hot-reloaded values apply.
	RecordingDefaults func() config.Recording
	MetricsHandler    http.Handler
}

// Server is the huma control API.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// NewServer creates the API server on a Go 1.22+ ServeMux.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	humaConfig := huma.DefaultConfig("ptzrec API", version.String())
	humaConfig.Info.Description = "PTZ camera live session and segmented recording control"
	// Relative paths in the OpenAPI document
	humaConfig.Servers = []*huma.Server{}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, humaConfig)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and all connections, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		data := models.HealthData{
			Status:  "ok",
			Message: "API is healthy",
		}
		if s.options.Session != nil {
			data.Session = s.options.Session.State().String()
		}
		if s.options.Recorder != nil {
			data.Recording = s.options.Recorder.State().String()
		}
		return &models.HealthResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerSessionRoutes()
	s.registerRecordingRoutes()
	s.registerCameraRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}
