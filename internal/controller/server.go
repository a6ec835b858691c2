// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"jobrelay/internal/controller/handlers"
	"jobrelay/internal/controller/middleware"
)

// Config holds the server's security and limiting settings.
type Config struct {
	InternalSecret     string
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// NewHandler builds the routed handler. metrics may be nil.
func NewHandler(h *handlers.Handlers, cfg Config, metrics http.Handler, logger *slog.Logger) http.Handler {
	internal := middleware.RequireInternalAuth(cfg.InternalSecret)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)

	// owned wraps a job route: service secret, then owner scoping.
	owned := func(fn http.HandlerFunc) http.Handler {
		return internal(middleware.RequireOwner(fn))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /jobs", internal(middleware.RequireOwner(limiter.Middleware()(http.HandlerFunc(h.CreateJob)))))
	mux.Handle("GET /jobs", owned(h.ListJobs))
	mux.Handle("GET /jobs/{id}", owned(h.GetJob))
	mux.Handle("GET /jobs/{id}/events", owned(h.ListJobEvents))
	mux.Handle("GET /credits", owned(h.GetCredits))
	mux.Handle("GET /queue/depth", internal(http.HandlerFunc(h.QueueDepth)))

	// Probes stay open for the orchestrator
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return middleware.RequestLogger(logger)(mux)
}

// New creates a new controller server.
func New(addr string, h *handlers.Handlers, cfg Config, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(h, cfg, metrics, logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
