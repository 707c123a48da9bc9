package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"estate-voice-server/pkg/config"
	"estate-voice-server/pkg/errors"
	"estate-voice-server/pkg/metrics"
	"estate-voice-server/pkg/pipeline"
	"estate-voice-server/pkg/tts"
	"estate-voice-server/pkg/version"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Conversations is the pipeline as seen by the transport layer
type Conversations interface {
	Connect(ctx context.Context, sessionID, tenantID, agentID string) (pipeline.Event, error)
	Process(ctx context.Context, chunk pipeline.Chunk) ([]pipeline.Event, error)
	ProcessChunk(ctx context.Context, chunk pipeline.Chunk, emit pipeline.EmitFunc) error
	Session(ctx context.Context, sessionID, tenantID string) (*pipeline.View, error)
	EndSession(ctx context.Context, sessionID, tenantID string) error
}

// AudioSource serves synthesized clips
type AudioSource interface {
	Get(id string) (tts.StoredAudio, bool)
}

// SessionHealth reports on the session layer
type SessionHealth interface {
	ActiveCount() int
	Health(ctx context.Context) error
}

// BreakerState lists the circuit breakers currently open
type BreakerState interface {
	OpenBreakers() []string
}

// ConnectionState reports whether a downstream link is up
type ConnectionState interface {
	IsConnected() bool
}

// Dependencies are the components the server exposes. Only Conversations
// is required.
type Dependencies struct {
	Conversations Conversations
	Audio         AudioSource
	Sessions      SessionHealth
	Breakers      BreakerState
	Messaging     ConnectionState
}

// Server is the HTTP and WebSocket front of the voice pipeline
type Server struct {
	config     config.HTTPConfig
	logger     *logrus.Entry
	deps       Dependencies
	httpServer *http.Server
	mux        *http.ServeMux
	handler    http.Handler
	upgrader   websocket.Upgrader
	startTime  time.Time

	// Canceled on shutdown; hijacked sockets are not closed by http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
	sockets    sync.WaitGroup
}

// NewServer creates a server and registers its routes
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, deps Dependencies) (*Server, error) {
	if deps.Conversations == nil {
		return nil, errors.NewInvalidInput("http: conversations handler is required")
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 2 << 20
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		logger:    logger.WithField("component", "http_server"),
		deps:      deps,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}

	s.routes()
	s.handler = s.withRequestID(s.addServerHeader(s.mux))

	s.httpServer = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}

	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.HealthHandler)
	s.mux.HandleFunc("GET /health/live", s.LivenessHandler)
	s.mux.HandleFunc("GET /health/ready", s.ReadinessHandler)

	if s.config.EnableMetrics {
		metrics.RegisterHandler(s.mux)
		s.logger.Info("Prometheus metrics endpoint enabled at /metrics")
	}

	s.mux.HandleFunc("POST /api/v1/conversations/{session_id}/process", s.handleProcess)
	s.mux.HandleFunc("GET /api/v1/conversations/{session_id}", s.handleGetConversation)
	s.mux.HandleFunc("DELETE /api/v1/conversations/{session_id}", s.handleEndConversation)
	s.mux.HandleFunc("GET /api/v1/audio/{audio_id}", s.handleAudio)
	s.mux.HandleFunc("GET /ws/conversation/{session_id}", s.handleConversationSocket)
}

func (s *Server) addServerHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.ServerHeader())
		next.ServeHTTP(w, r)
	})
}

// withRequestID echoes X-Request-ID, generating one when absent
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": requestID,
		}).Debug("HTTP request")

		next.ServeHTTP(w, r)
	})
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.handler
}

// RegisterHandler adds an extra route
func (s *Server) RegisterHandler(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
	s.logger.WithField("pattern", pattern).Debug("Registered HTTP handler")
}

// Start serves in the background
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown stops accepting requests, closes open sockets and waits for
// in-flight requests up to ctx
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	err := s.httpServer.Shutdown(ctx)
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.sockets.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("WebSocket connections still open at shutdown deadline")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Warn("HTTP error response sent")
}
