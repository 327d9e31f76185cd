// Package server exposes prophet over HTTP: persona management, the arena
// controls, single-persona chat, a WebSocket feed of arena events, and the
// health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/prophet/internal/app"
	"github.com/MrWong99/prophet/internal/archive"
	"github.com/MrWong99/prophet/internal/arena"
	"github.com/MrWong99/prophet/internal/config"
	"github.com/MrWong99/prophet/internal/health"
	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/types"
)

// shutdownTimeout bounds the graceful HTTP shutdown once the run context ends.
const shutdownTimeout = 10 * time.Second

// Service is what the HTTP API drives. [*app.App] implements it.
type Service interface {
	Personas() persona.Store
	Archive() archive.Store
	Arena() *arena.Arena
	Chats() *app.SessionManager
	Health() *health.Handler
	Voices(ctx context.Context) ([]types.VoiceProfile, error)
	StartArena(ctx context.Context, first, second, topic string) error
	RestartArena(ctx context.Context) error
	Chat(ctx context.Context, query, text string) (types.Utterance, error)
	Playing() bool
}

var _ Service = (*app.App)(nil)

// Server serves the HTTP API.
type Server struct {
	svc     Service
	metrics *observe.Metrics
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics overrides [observe.DefaultMetrics] for the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server for svc.
func New(svc Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	api := http.NewServeMux()
	s.setupRoutes(api)
	s.svc.Health().Register(api)
	api.Handle("GET /metrics", promhttp.Handler())

	// The event feed bypasses the middleware: a hijacked connection must not
	// be wrapped by the status recorder or held open by a request span.
	root := http.NewServeMux()
	root.HandleFunc("GET /v1/arena/events", s.handleEvents)
	root.Handle("/", observe.Middleware(s.metrics)(api))
	s.handler = root
	return s
}

// setupRoutes registers the API routes on mux.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/personas", s.handleListPersonas)
	mux.HandleFunc("POST /v1/personas", s.handleCreatePersona)
	mux.HandleFunc("GET /v1/personas/{id}", s.handleGetPersona)
	mux.HandleFunc("PUT /v1/personas/{id}", s.handleUpdatePersona)
	mux.HandleFunc("DELETE /v1/personas/{id}", s.handleDeletePersona)

	mux.HandleFunc("GET /v1/voices", s.handleVoices)

	mux.HandleFunc("GET /v1/arena", s.handleArena)
	mux.HandleFunc("POST /v1/arena/start", s.handleArenaStart)
	mux.HandleFunc("POST /v1/arena/stop", s.handleArenaStop)
	mux.HandleFunc("POST /v1/arena/reset", s.handleArenaReset)
	mux.HandleFunc("POST /v1/arena/restart", s.handleArenaRestart)
	mux.HandleFunc("DELETE /v1/arena/error", s.handleArenaClearError)

	mux.HandleFunc("GET /v1/chat", s.handleChatInfo)
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("DELETE /v1/chat", s.handleChatStop)
	mux.HandleFunc("POST /v1/chat/interrupt", s.handleChatInterrupt)

	mux.HandleFunc("GET /v1/archive", s.handleArchive)
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run listens on cfg's address and serves until ctx is cancelled, then shuts
// down gracefully. TLS is enabled when cfg.TLS is set.
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.TLS != nil)
		var err error
		if cfg.TLS != nil {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
