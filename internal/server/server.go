package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gatehousehq/gatehouse/internal/gateway"
	"github.com/gatehousehq/gatehouse/internal/handler"
	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/ratelimit"
	"github.com/gatehousehq/gatehouse/internal/server/middleware"
	"github.com/gatehousehq/gatehouse/internal/service"
	"github.com/gatehousehq/gatehouse/internal/store"
	"github.com/gatehousehq/gatehouse/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	LoginRPM        int
	FailOpen        bool
	JanitorInterval time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		LoginRPM:        10,
		FailOpen:        false,
		JanitorInterval: 5 * time.Minute,
	}
}

// Server is the top-level HTTP gateway. It owns the Chi router, the state
// store, the authentication service, the rate limiter, and the async call
// log recorder.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	limiter    *ratelimit.Limiter
	recorder   *telemetry.Recorder
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		authSvc:  authSvc,
		limiter:  ratelimit.New(st, ratelimit.DefaultWindow, logger),
		recorder: telemetry.NewRecorder(st, logger, 0),
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler().ServeSpec)

	guard := gateway.New(s.authSvc, s.limiter, s.logger, s.cfg.FailOpen)
	guardAny := middleware.Guard(guard, s.recorder, "")
	guardWrite := middleware.Guard(guard, s.recorder, model.ScopeWrite)

	// --- Public v1 surface, guarded per route ---
	r.Route("/api/v1", func(r chi.Router) {
		agentHandler := handler.NewAgentHandler(s.store)
		knowledgeHandler := handler.NewKnowledgeHandler(s.store)
		webhookHandler := handler.NewWebhookHandler(s.store)

		r.With(guardAny).Get("/agents", agentHandler.ListAgents)
		r.With(guardAny).Post("/agents/{agentId}/chat", agentHandler.Chat)

		r.With(guardAny).Get("/agents/{agentId}/knowledge", knowledgeHandler.ListDocuments)
		r.With(guardWrite).Post("/agents/{agentId}/knowledge", knowledgeHandler.AddDocument)
		r.With(guardAny).Get("/agents/{agentId}/knowledge/search", knowledgeHandler.Search)

		r.With(guardAny).Get("/webhooks", webhookHandler.ListWebhooks)
		r.With(guardWrite).Post("/webhooks", webhookHandler.CreateWebhook)
		r.With(guardWrite).Delete("/webhooks/{webhookId}", webhookHandler.DeleteWebhook)
	})

	// --- Internal dashboard surface, JWT guarded ---
	r.Route("/api/internal", func(r chi.Router) {
		sysHandler := handler.NewSystemHandler(s.store, s.authSvc)

		// Login is throttled per IP against credential stuffing.
		r.With(middleware.LoginRateLimit(s.cfg.LoginRPM)).Post("/session", sysHandler.Login)
		r.Delete("/session", sysHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.authSvc))

			r.Get("/workspaces/{workspaceId}/keys", sysHandler.ListAPIKeys)
			r.Post("/workspaces/{workspaceId}/keys", sysHandler.CreateAPIKey)
			r.Delete("/workspaces/{workspaceId}/keys/{keyId}", sysHandler.RevokeAPIKey)

			r.Post("/workspaces/{workspaceId}/mcp-tokens", sysHandler.CreateMCPToken)
			r.Get("/workspaces/{workspaceId}/usage", sysHandler.Usage)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the state store is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and the call log buffer before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.recorder.Start()
	s.limiter.StartJanitor(s.cfg.JanitorInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.limiter.Stop()
	s.recorder.Shutdown()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
