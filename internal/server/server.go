// Package server runs the management endpoints: health, readiness, liveness
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health states reported by /health
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one registered check
type CheckResult struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Critical bool   `json:"critical"`
}

// HealthChecker reports whether a component works
type HealthChecker func(ctx context.Context) (ok bool, message string)

type check struct {
	fn       HealthChecker
	critical bool
}

// Server provides HTTP endpoints for metrics and health
type Server struct {
	mu        sync.RWMutex
	server    *http.Server
	mux       *http.ServeMux
	checks    map[string]check
	startTime time.Time
	version   string
}

// Config holds management server configuration
type Config struct {
	// Addr is the address to listen on (e.g., ":9090")
	Addr        string
	MetricsPath string
	HealthPath  string
	ReadyPath   string
	LivePath    string
	Version     string
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:        ":9090",
		MetricsPath: "/metrics",
		HealthPath:  "/health",
		ReadyPath:   "/ready",
		LivePath:    "/live",
		Version:     "dev",
	}
}

// New creates a new management server. Empty paths fall back to defaults.
func New(cfg *Config) *Server {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	or := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}

	s := &Server{
		mux:       http.NewServeMux(),
		checks:    make(map[string]check),
		startTime: time.Now(),
		version:   or(cfg.Version, def.Version),
	}

	s.mux.Handle("GET "+or(cfg.MetricsPath, def.MetricsPath), promhttp.Handler())
	s.mux.HandleFunc("GET "+or(cfg.HealthPath, def.HealthPath), s.healthHandler)
	s.mux.HandleFunc("GET "+or(cfg.ReadyPath, def.ReadyPath), s.readyHandler)
	s.mux.HandleFunc("GET "+or(cfg.LivePath, def.LivePath), s.liveHandler)

	s.server = &http.Server{
		Addr:              or(cfg.Addr, def.Addr),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return s
}

// RegisterHealthCheck registers a check. A failing critical check makes the
// service unhealthy and not ready; a failing non-critical one only degrades it.
func (s *Server) RegisterHealthCheck(name string, critical bool, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check{fn: checker, critical: critical}
}

// Start starts the management server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Evaluate runs every registered check
func (s *Server) Evaluate(ctx context.Context) *HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult, len(s.checks)),
	}

	for name, c := range s.checks {
		ok, msg := c.fn(ctx)
		status.Checks[name] = CheckResult{OK: ok, Message: msg, Critical: c.critical}
		switch {
		case ok:
		case c.critical:
			status.Status = StatusUnhealthy
		case status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := s.Evaluate(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// readyHandler fails only on critical checks
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := s.Evaluate(r.Context())

	var failed []string
	for name, res := range status.Checks {
		if res.Critical && !res.OK {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready: %s check failed", failed[0])
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.server.Addr
}
