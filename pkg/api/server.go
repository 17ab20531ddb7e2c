package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/gateway"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
)

// Server is the HTTP ingress: the task, server, stats, and load balancer
// endpoints, the live event stream, and the operational surface
// (/health, /metrics).
type Server struct {
	gw      *gateway.Gateway
	secret  string
	version string

	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the ingress for a wired gateway.
func NewServer(gw *gateway.Gateway, version string) *Server {
	s := &Server{
		gw:      gw,
		secret:  gw.Config.JWTSecret,
		version: version,
		logger:  log.WithComponent("api"),
	}
	metrics.SetVersion(version)
	s.http = &http.Server{
		Addr:              gw.Config.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Task lifecycle.
	mux.HandleFunc("POST /api/task", s.handleCreateTask)
	mux.HandleFunc("GET /api/task/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/task/{id}", s.handleUpdateTask)
	mux.HandleFunc("POST /api/task/{id}/retry", s.handleRetryTask)
	mux.HandleFunc("POST /api/task/{id}/cancel", s.handleCancelTask)

	// Fleet management. Mutations need the admin role.
	mux.HandleFunc("POST /api/servers", s.admin(s.handleRegisterServer))
	mux.HandleFunc("GET /api/servers", s.handleListServers)
	mux.HandleFunc("POST /api/servers/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("DELETE /api/servers/{id}", s.admin(s.handleUnregisterServer))
	mux.HandleFunc("PUT /api/servers/{id}/maintenance", s.admin(s.handleMaintenance))
	mux.HandleFunc("GET /api/servers/{id}/metrics", s.handleServerMetrics)

	// Statistics.
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/stats/hourly", s.handleHourlyStats)
	mux.HandleFunc("GET /api/stats/server/{id}", s.handleServerStats)

	// Load balancer.
	mux.HandleFunc("GET /api/loadbalancer/status", s.handleBalancerStatus)
	mux.HandleFunc("PUT /api/loadbalancer/algorithm", s.admin(s.handleSetAlgorithm))

	// Live event stream.
	mux.HandleFunc("GET /api/events", s.admin(s.handleEvents))

	root := http.NewServeMux()
	root.Handle("/api/", s.authenticate(s.instrument(mux)))
	root.Handle("GET /health", metrics.HealthHandler())
	root.Handle("GET /metrics", metrics.Handler())
	return root
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Str("version", s.version).Msg("http ingress listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
