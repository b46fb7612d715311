// Package adminapi serves the node's operational HTTP surface: a
// liveness endpoint, a stats snapshot, and (when metrics are enabled)
// the Prometheus exposition endpoint.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/sruth/internal/logger"
)

// StatsProvider supplies the live numbers behind /stats. The Node wires
// in a view over its ClearingHouse and ClientManagers.
type StatsProvider interface {
	Stats() Stats
}

// Stats is the JSON body of /stats.
type Stats struct {
	NodeKind            string    `json:"node_kind"`
	StartedAt           time.Time `json:"started_at"`
	ServerFirstPort     int       `json:"server_first_port"`
	ActivePeers         int       `json:"active_peers"`
	OutstandingRequests int       `json:"outstanding_requests"`
	Trackers            []string  `json:"trackers,omitempty"`
}

// Server is the admin HTTP server.
type Server struct {
	http    *http.Server
	handler http.Handler
}

// New builds the admin server on port. registry may be nil, in which
// case /metrics is not mounted.
func New(port int, provider StatsProvider, registry *prometheus.Registry) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(provider.Stats())
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return &Server{
		http: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		handler: r,
	}
}

// Handler exposes the router, used by tests to serve it on an ephemeral
// listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin api shutdown", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
