// Package health provides the status server run alongside a deployment:
// liveness, readiness of the run, live progress and Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.bluewillows.net/root/hostdeploy/internal/deployer"
)

// Readiness values reported by /ready.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthChecker returns an error when its component cannot proceed.
type HealthChecker func(ctx context.Context) error

// DegradedChecker reports (true, message) when the run is still going but
// not clean, e.g. some hosts failed.
type DegradedChecker func(ctx context.Context) (degraded bool, message string)

// HealthStatus is one HealthChecker result.
type HealthStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// DegradedStatus is one positive DegradedChecker result.
type DegradedStatus struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Response is the JSON body of /health and /ready.
type Response struct {
	Status     string           `json:"status"`
	Components []HealthStatus   `json:"components,omitempty"`
	Degraded   []DegradedStatus `json:"degraded,omitempty"`
}

// ProgressResponse is the JSON body of /progress.
type ProgressResponse struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Current   string `json:"current,omitempty"`
}

// Server serves /health, /ready, /progress and /metrics.
type Server struct {
	addr     string
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	timeout  time.Duration
	progress func() deployer.Progress

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	degraded map[string]DegradedChecker
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// withTimeout bounds the checkers run by one /ready request.
func withTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithProgress serves the run's progress on /progress. Without it the
// endpoint reports 404.
func WithProgress(progress func() deployer.Progress) Option {
	return func(s *Server) {
		s.progress = progress
	}
}

// New creates a status server for addr (host:port). It does not listen
// until Start.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		mux:      http.NewServeMux(),
		logger:   slog.Default(),
		timeout:  5 * time.Second,
		checkers: make(map[string]HealthChecker),
		degraded: make(map[string]DegradedChecker),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /progress", s.handleProgress)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// RegisterChecker adds a checker whose failure makes /ready report 503.
func (s *Server) RegisterChecker(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
	s.logger.Debug("registered health checker", slog.String("name", name))
}

// RegisterDegradedChecker adds a checker that downgrades /ready to
// degraded without failing it.
func (s *Server) RegisterDegradedChecker(name string, checker DegradedChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded[name] = checker
	s.logger.Debug("registered degraded checker", slog.String("name", name))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp := s.readiness(ctx)

	code := http.StatusOK
	if resp.Status == StatusNotReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		http.NotFound(w, r)
		return
	}

	p := s.progress()
	writeJSON(w, http.StatusOK, ProgressResponse{
		Total:     p.Total,
		Completed: p.Completed,
		Failed:    p.Failed,
		Current:   p.Current,
	})
}

// readiness runs every checker. Any failing HealthChecker wins over
// degraded results.
func (s *Server) readiness(ctx context.Context) Response {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	degraded := make(map[string]DegradedChecker, len(s.degraded))
	for name, c := range s.degraded {
		degraded[name] = c
	}
	s.mu.RUnlock()

	resp := Response{Status: StatusReady}

	for _, name := range sortedKeys(checkers) {
		status := HealthStatus{Name: name, Healthy: true}
		if err := checkers[name](ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			resp.Status = StatusNotReady
			s.logger.Warn("health check failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
		}
		resp.Components = append(resp.Components, status)
	}

	for _, name := range sortedKeys(degraded) {
		if ok, message := degraded[name](ctx); ok {
			resp.Degraded = append(resp.Degraded, DegradedStatus{Name: name, Message: message})
		}
	}

	if resp.Status == StatusReady && len(resp.Degraded) > 0 {
		resp.Status = StatusDegraded
	}
	return resp
}

// Start binds the listen address and serves in a goroutine. Bind errors
// are returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("status server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
