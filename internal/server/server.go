package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidemark-oss/tidemark/internal/config"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/keystore"
	"github.com/tidemark-oss/tidemark/internal/memory"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/session"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

// Server is the tidemark HTTP API server.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	keys     *keystore.Keystore
	plans    *plan.Service
	memories *memory.Service
	sessions *session.Tracker
	eventBus *event.Bus
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// New creates a new server instance.
func New(cfg *config.Config, s *store.Store, keys *keystore.Keystore, plans *plan.Service,
	memories *memory.Service, sessions *session.Tracker, eventBus *event.Bus,
	logger *telemetry.Logger, metrics *telemetry.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    s,
		keys:     keys,
		plans:    plans,
		memories: memories,
		sessions: sessions,
		eventBus: eventBus,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := s.setupRoutes()

	srv := &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting tidemark API", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler returns the routed handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.setupRoutes())
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Agent surface (key-pair authenticated)
	mux.HandleFunc("POST /agents/connect", s.withAuth(s.handleConnect))
	mux.HandleFunc("POST /agents/health", s.withAuth(s.handleAgentHealth))
	mux.HandleFunc("POST /memory/store", s.withAuth(s.handleMemoryStore))
	mux.HandleFunc("POST /memory/search", s.withAuth(s.handleMemorySearch))
	mux.HandleFunc("POST /memory/forget", s.withAuth(s.handleMemoryForget))
	mux.HandleFunc("GET /memory/profile", s.withAuth(s.handleMemoryProfile))
	mux.HandleFunc("POST /sessions/start", s.withAuth(s.handleSessionStart))
	mux.HandleFunc("POST /sessions/record", s.withAuth(s.handleSessionRecord))

	// Billing webhook collaborator
	mux.HandleFunc("POST /billing/plan", s.handleBillingPlan)

	// Dashboard collaborator. Auth is delegated to the fronting layer;
	// these endpoints must not be exposed directly.
	mux.HandleFunc("GET /dashboard/memories", s.handleDashboardMemories)
	mux.HandleFunc("DELETE /dashboard/memories/{id}", s.handleDashboardDeleteMemory)
	mux.HandleFunc("GET /dashboard/usage", s.handleDashboardUsage)

	return mux
}

// corsMiddleware adds CORS headers for development mode.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Key-Id")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
