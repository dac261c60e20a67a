package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"churn-engine/internal/engine"
	"churn-engine/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Config configures the HTTP server.
type Config struct {
	Port         int
	TrainTimeout time.Duration
	// Gatherer is served at /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Metrics counts requests by route and status; may be nil.
	Metrics *metrics.MetricsWrapper
	// Runs backs GET /runs; may be nil.
	Runs RunLister
}

// Server holds all the components of the HTTP serving layer
type Server struct {
	cfg        Config
	hub        *Hub
	router     *mux.Router
	httpServer *http.Server
	isRunning  bool
	mu         sync.Mutex
}

// NewServer creates a server for eng. hub may be nil, which disables /events.
func NewServer(eng *engine.Engine, hub *Hub, cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		router: mux.NewRouter(),
	}

	s.router.Use(s.instrument)
	NewHandler(eng, hub, cfg.Runs, cfg.TrainTimeout).RegisterRoutes(s.router)
	if cfg.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Training and scoring are bounded by the request context, not the write timeout.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Router returns the configured router.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening for HTTP connections in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("server is already running")
	}
	if s.hub != nil {
		if err := s.hub.Start(); err != nil {
			return err
		}
	}

	go func() {
		log.Info().
			Str("address", s.httpServer.Addr).
			Msg("Starting churn API server")

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Churn API server failed")
		}
	}()

	s.isRunning = true
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	if s.hub != nil {
		s.hub.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown churn API server")
		return err
	}

	s.isRunning = false
	log.Info().Msg("Churn API server stopped")
	return nil
}

// instrument logs every request and counts it by route template and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.APIRequestsInc(route, rec.status)
		}

		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
