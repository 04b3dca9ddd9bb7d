// Package server exposes the gateway over HTTP: streaming chat, search,
// tool execution, and admin endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cjcelaya/mindgate/pkg/cache"
	"github.com/cjcelaya/mindgate/pkg/chat"
	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/graphdb"
	"github.com/cjcelaya/mindgate/pkg/rag"
	"github.com/cjcelaya/mindgate/pkg/tools"
)

// Server holds the shared backend handles. They are created at startup and
// torn down on shutdown; handlers never construct clients.
type Server struct {
	config       config.ServerConfig
	orchestrator *chat.Orchestrator
	engine       *rag.Engine
	registry     *tools.Registry
	vectors      databases.VectorStore
	graph        graphdb.GraphStore
	cache        cache.Cache

	httpServer *http.Server
}

func New(
	cfg config.ServerConfig,
	orchestrator *chat.Orchestrator,
	engine *rag.Engine,
	registry *tools.Registry,
	vectors databases.VectorStore,
	graph graphdb.GraphStore,
	c cache.Cache,
) *Server {
	return &Server{
		config:       cfg,
		orchestrator: orchestrator,
		engine:       engine,
		registry:     registry,
		vectors:      vectors,
		graph:        graph,
		cache:        c,
	}
}

// Handler builds the route tree. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/search", s.handleSearch)
		r.Post("/tools/execute", s.handleToolExecute)
		r.Get("/admin/stats", s.handleStats)
		r.Post("/admin/rebuild", s.handleRebuild)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	slog.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
