// Package api exposes the HTTP and WebSocket surface: session commands,
// speech endpoints, health, and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/ratelimit"
	"github.com/parleyhq/parley/pkg/resume"
	"github.com/parleyhq/parley/pkg/session"
	"github.com/parleyhq/parley/pkg/speech"
)

// Pinger is implemented by stores that can report connectivity, for the
// health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface to the session and speech subsystems.
type Server struct {
	cfg      config.HTTPConfig
	registry *session.Registry
	verifier *auth.Verifier
	resumes  *resume.Extractor
	fabric   *ratelimit.Fabric
	logger   *slog.Logger

	transcriber *speech.BatchTranscriber
	synthesizer *speech.Synthesizer
	coordinator *speech.Coordinator
	tasks       *speech.TaskService

	pinger Pinger
	http   *http.Server
}

// Deps carries the server's collaborators.
type Deps struct {
	Registry    *session.Registry
	Verifier    *auth.Verifier
	Fabric      *ratelimit.Fabric
	Transcriber *speech.BatchTranscriber
	Synthesizer *speech.Synthesizer
	Coordinator *speech.Coordinator
	Tasks       *speech.TaskService

	// Pinger is optional; when set, /health reports store connectivity.
	Pinger Pinger
}

// NewServer creates the API server.
func NewServer(cfg config.HTTPConfig, deps Deps) *Server {
	return &Server{
		cfg:         cfg,
		registry:    deps.Registry,
		verifier:    deps.Verifier,
		resumes:     resume.New(),
		fabric:      deps.Fabric,
		logger:      slog.Default().With("component", "api"),
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		coordinator: deps.Coordinator,
		tasks:       deps.Tasks,
		pinger:      deps.Pinger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.authMiddleware())

	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/create-session", s.CreateSession)
		api.POST("/start-interview", s.StartInterview)
		api.POST("/send-message", s.SendMessage)
		api.POST("/end-interview", s.EndInterview)
		api.POST("/reset-interview", s.ResetInterview)
		api.POST("/ping-session", s.PingSession)
		api.POST("/cleanup-session", s.CleanupSession)

		api.GET("/get-history", s.GetHistory)
		api.GET("/get-stats", s.GetStats)
		api.GET("/get-per-turn-feedback", s.GetPerTurnFeedback)
		api.GET("/final-summary-status", s.GetFinalSummaryStatus)
		api.GET("/get-time-remaining", s.GetTimeRemaining)

		api.POST("/upload-resume", s.UploadResume)

		api.POST("/speech-to-text", s.SubmitBatchTranscription)
		api.GET("/speech-to-text/status/:task_id", s.GetTranscriptionStatus)
		api.GET("/speech-to-text/stream", s.StreamTranscription)
		api.POST("/text-to-speech", s.SynthesizeText)
		api.GET("/speech/usage-stats", s.UsageStats)
	}
	return r
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", s.cfg.ListenAddr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
