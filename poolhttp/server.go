// Package poolhttp exposes a pool's health and Prometheus metrics over HTTP.
package poolhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pool is the narrow capability the status server needs from pool.Pool.
type Pool interface {
	ActiveSessions() int
}

// Server is a tiny status server: /healthz, /status and /metrics.
type Server struct {
	pool       Pool
	registry   *prometheus.Registry
	httpServer *http.Server
	startTime  time.Time
}

// NewServer builds a Server. registry may be nil, in which case /metrics
// serves the default Prometheus registry.
func NewServer(p Pool, registry *prometheus.Registry) *Server {
	return &Server{pool: p, registry: registry, startTime: time.Now()}
}

// Start begins serving on addr (e.g. ":9090") in the background.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods("GET")
	r.HandleFunc("/status", s.status).Methods("GET")

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("poolhttp: server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":  time.Since(s.startTime).Seconds(),
		"active_sessions": s.pool.ActiveSessions(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
