// Package api is the HTTP surface of the scoring service: operator login,
// scoring, the dashboard page and its live feed, health and Prometheus
// metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"loan-risk/internal/auth"
	"loan-risk/internal/loan"
	"loan-risk/internal/scoring"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionCookie = "session"

// Scorer is the pair of request handlers the routes call into.
type Scorer interface {
	HandleScoreRequest(ctx context.Context, raw loan.RawApplication, session string) (scoring.ScoreResult, error)
	HandleDashboardRequest(ctx context.Context, session string) (scoring.DashboardView, error)
}

// Sessions opens and closes operator sessions.
type Sessions interface {
	Login(ctx context.Context, user, password string) (string, error)
	Logout(ctx context.Context, token string) error
}

// MetricsInterface defines the metrics methods needed by the API
type MetricsInterface interface {
	LoginInc(result string)
}

type noopMetrics struct{}

func (noopMetrics) LoginInc(string) {}

// Info is reported by /health.
type Info struct {
	ModelVersion string `json:"model_version"`
	ModelKind    string `json:"model_kind"`
	Profile      string `json:"profile"`
	History      string `json:"history"`
}

// Config wires a Server. Sessions is nil when authentication is disabled,
// which removes /login and /logout. Live, Metrics and MetricsHandler are
// optional.
type Config struct {
	Service        Scorer
	Gate           auth.Gate
	Sessions       Sessions
	Live           http.Handler
	Metrics        MetricsInterface
	MetricsHandler http.Handler
	Info           Info
	RequestTimeout time.Duration
	SecureCookies  bool
}

// Server serves the API routes.
type Server struct {
	service  Scorer
	gate     auth.Gate
	sessions Sessions
	live     http.Handler
	metrics  MetricsInterface
	info     Info
	timeout  time.Duration
	secure   bool
	started  time.Time

	router *mux.Router
	server *http.Server
}

// NewServer builds the router and an HTTP server listening on port.
func NewServer(c Config, port int) (*Server, error) {
	if c.Service == nil || c.Gate == nil {
		return nil, fmt.Errorf("api: service and gate are required")
	}
	s := &Server{
		service:  c.Service,
		gate:     c.Gate,
		sessions: c.Sessions,
		live:     c.Live,
		metrics:  c.Metrics,
		info:     c.Info,
		timeout:  c.RequestTimeout,
		secure:   c.SecureCookies,
		started:  time.Now(),
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}

	metricsHandler := c.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := mux.NewRouter()
	r.Use(logRequests)
	if s.sessions != nil {
		r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
		r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	}
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	if s.live != nil {
		r.HandleFunc("/dashboard/ws", s.handleLive).Methods(http.MethodGet)
	}
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "no such route"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed", Message: "method not allowed"})
	})
	s.router = r

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the routes, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
