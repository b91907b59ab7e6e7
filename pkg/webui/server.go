// Package webui serves the observer endpoints: a websocket event stream that
// starts and stops runs, plus thin HTTP endpoints over the generated project.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"genforge/pkg/config"
	"genforge/pkg/logx"
	"genforge/pkg/runner"
	"genforge/pkg/version"
)

// WebUIUser is the basic-auth user name when a web UI password is configured.
const WebUIUser = "genforge"

// EnvWebUIPassword names the secret that, when set, protects every endpoint.
const EnvWebUIPassword = "GENFORGE_WEBUI_PASSWORD"

// Server represents the observer HTTP server.
type Server struct {
	runner   *runner.Service
	cfg      config.ServerConfig
	metrics  http.Handler
	logger   *logx.Logger
	upgrader websocket.Upgrader
	// baseCtx outlives individual connections; runs started over a websocket
	// keep going after the client disconnects.
	baseCtx context.Context //nolint:containedctx // server lifetime
	secrets string
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler exposes h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSecretsPath persists secrets set over the API to path.
func WithSecretsPath(path string) Option {
	return func(s *Server) { s.secrets = path }
}

// NewServer creates a new observer server.
func NewServer(svc *runner.Service, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		runner:  svc,
		cfg:     cfg,
		logger:  logx.NewLogger("webui"),
		baseCtx: context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkOrigin allows configured origins. With none configured it falls back
// to same-origin; "*" allows any.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// requireAuth wraps an HTTP handler with Basic Authentication when a web UI
// password is configured (secrets file or environment).
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expectedPassword, err := config.GetSecret(EnvWebUIPassword)
		if err != nil || expectedPassword == "" {
			next(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || username != WebUIUser || password != expectedPassword {
			if ok {
				s.logger.Warn("Failed authentication attempt from %s (username: %s)", r.RemoteAddr, username)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="genforge"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RegisterRoutes sets up HTTP routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.requireAuth(s.handleRoot))
	mux.HandleFunc("/ws", s.requireAuth(s.handleWebSocket))

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/stop", s.requireAuth(s.handleStop))
	mux.HandleFunc("GET /api/files", s.requireAuth(s.handleFiles))
	mux.HandleFunc("GET /api/file/{path...}", s.requireAuth(s.handleFileRead))
	mux.HandleFunc("DELETE /api/file/{path...}", s.requireAuth(s.handleFileDelete))
	mux.HandleFunc("GET /api/runs", s.requireAuth(s.handleRuns))
	mux.HandleFunc("GET /api/runs/{id}", s.requireAuth(s.handleRun))
	mux.HandleFunc("GET /api/runs/{id}/logs", s.requireAuth(s.handleRunLogs))

	mux.HandleFunc("GET /api/secrets", s.requireAuth(s.handleSecretsList))
	mux.HandleFunc("POST /api/secrets", s.requireAuth(s.handleSecretsSet))
	mux.HandleFunc("DELETE /api/secrets/{name}", s.requireAuth(s.handleSecretsDelete))

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

// handleRoot implements GET / and lists the endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "genforge API",
		"version": version.Version,
		"endpoints": map[string]string{
			"health":    "/api/health",
			"files":     "/api/files",
			"file":      "/api/file/{path}",
			"stop":      "/api/stop",
			"runs":      "/api/runs",
			"logs":      "/api/runs/{id}/logs",
			"secrets":   "/api/secrets",
			"metrics":   "/metrics",
			"websocket": "/ws",
		},
	})
}

// handleHealth implements GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := map[string]any{
		"status":     "healthy",
		"version":    version.Version,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"active_run": s.runner.ActiveRunID(),
	}
	if sb, err := s.runner.Sandbox(); err == nil {
		response["project_root"] = sb.Root()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleStop implements POST /api/stop.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	runID := s.runner.ActiveRunID()
	if !s.runner.Stop() {
		s.writeJSON(w, http.StatusConflict, map[string]string{"message": "No active run"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Stop requested",
		"run_id":  runID,
	})
}

// StartServer starts the HTTP server on addr and shuts it down when ctx ends.
// It blocks until the server has stopped.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting observer server on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err //nolint:wrapcheck // listen errors are self-describing
	case <-ctx.Done():
	}

	// Graceful shutdown - use a fresh context since the parent is cancelled.
	s.logger.Info("Shutting down observer server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed: %v", err)
		return err //nolint:wrapcheck // shutdown errors are self-describing
	}
	return nil
}
