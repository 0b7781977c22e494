package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/brojonat/solstake/service/stake"
	"github.com/brojonat/solstake/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the stake service.
type Server struct {
	addr           string
	registry       *Registry
	epochs         *stake.EpochTracker
	scheduler      temporal.Scheduler
	reportInterval time.Duration
	stream         EventStream
	metrics        *metrics.Metrics
	logger         *slog.Logger
	server         *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is optional - if nil, no stake report schedules are managed.
// The stream is optional - if nil, the SSE endpoint won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, registry *Registry, epochs *stake.EpochTracker, scheduler temporal.Scheduler, reportInterval time.Duration, stream EventStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:           addr,
		registry:       registry,
		epochs:         epochs,
		scheduler:      scheduler,
		reportInterval: reportInterval,
		stream:         stream,
		metrics:        m,
		logger:         logger,
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Session routes
	route("POST /api/v1/sessions", "/api/v1/sessions", handleStartSession(s.registry, s.scheduler, s.reportInterval, s.logger))
	route("GET /api/v1/sessions", "/api/v1/sessions", handleListSessions(s.registry))
	route("DELETE /api/v1/sessions/{wallet}", "/api/v1/sessions/{wallet}", handleStopSession(s.registry, s.scheduler, s.logger))
	route("GET /api/v1/sessions/{wallet}/stake-accounts", "/api/v1/sessions/{wallet}/stake-accounts", handleListStakeAccounts(s.registry, s.logger))
	route("POST /api/v1/sessions/{wallet}/stake-accounts", "/api/v1/sessions/{wallet}/stake-accounts", handleAddStakeAccount(s.registry, s.logger))
	route("GET /api/v1/sessions/{wallet}/next-seed", "/api/v1/sessions/{wallet}/next-seed", handleNextSeed(s.registry, s.logger))
	route("GET /api/v1/sessions/{wallet}/yields", "/api/v1/sessions/{wallet}/yields", handleYields(s.registry, s.logger))
	route("GET /api/v1/sessions/{wallet}/summary", "/api/v1/sessions/{wallet}/summary", handleSummary(s.registry, s.logger))
	route("GET /api/v1/epoch", "/api/v1/epoch", handleEpoch(s.epochs, s.logger))

	// SSE streaming endpoint (if an event stream is configured)
	if s.stream != nil {
		route("GET /api/v1/stream/{wallet}", "/api/v1/stream/{wallet}", handleStream(s.stream, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("event stream not configured, streaming endpoint disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the event stream first (disconnects all SSE clients)
	if closer, ok := s.stream.(interface{ Close() error }); ok {
		closer.Close()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	// Sessions end after in-flight requests are done with them.
	s.registry.Close()
	return err
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
