package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/config"
	"github.com/wastewise/relay/internal/middleware"
	"github.com/wastewise/relay/internal/models"
)

// Handlers are the endpoints mounted by NewRouter. Realtime may be nil.
type Handlers struct {
	Chat     http.Handler
	Realtime http.Handler
}

// NewRouter mounts the relay routes and wraps them in the middleware chain:
// CORS, request ID, logging, rate limit. A nil limiter disables rate limiting.
func NewRouter(cfg *config.Config, h Handlers, limiter middleware.RateLimiter, logger *logrus.Logger) http.Handler {
	r := mux.NewRouter()

	r.Handle(cfg.Server.ChatPath, h.Chat).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	if h.Realtime != nil {
		r.Handle("/realtime/{table}", h.Realtime).Methods(http.MethodGet)
	}

	r.NotFoundHandler = jsonError(http.StatusNotFound, "Not found")
	r.MethodNotAllowedHandler = jsonError(http.StatusMethodNotAllowed, "Method not allowed")

	var handler http.Handler = r
	if limiter != nil {
		handler = limiter.Middleware(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	return middleware.CORS(handler)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func jsonError(status int, msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg})
	})
}

// Server wraps the HTTP server running the relay
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
}

// New creates a server listening on the configured port
func New(cfg *config.ServerConfig, handler http.Handler, logger *logrus.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start blocks serving requests until Shutdown is called
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
