// Package api exposes the HTTP surface: sync and detection triggers,
// alert and risk reads, audit history and suppression rule management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/openretail/kestrel/internal/audit"
	"github.com/openretail/kestrel/internal/detect"
	"github.com/openretail/kestrel/internal/domain"
	"github.com/openretail/kestrel/internal/syncer"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, s domain.Store, cache domain.Cache, bus domain.EventBus, engine *detect.Engine, sy *syncer.Syncer, recorder *audit.Recorder, suppressor *detect.Suppressor, version string) *Server {
	handler := NewHandler(s, cache, bus, engine, sy, recorder, suppressor, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/detection", func(r chi.Router) {
		r.Post("/run", handler.RunDetection)
		r.Get("/status", handler.DetectionStatus)
	})

	router.Route("/sync", func(r chi.Router) {
		r.Post("/run", handler.RunSync)
		r.Get("/status", handler.SyncStatus)
		r.Post("/test", handler.TestSync)
	})

	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", handler.ListAlerts)
		r.Get("/{id}", handler.GetAlert)
		r.Put("/{id}/investigation", handler.UpdateInvestigation)
	})

	router.Route("/risk-scores", func(r chi.Router) {
		r.Get("/", handler.ListRiskScores)
		r.Get("/{cpf}", handler.GetRiskScore)
	})

	router.Route("/audit", func(r chi.Router) {
		r.Get("/syncs", handler.ListSyncRuns)
		r.Get("/syncs/{id}/errors", handler.ListSyncErrors)
		r.Get("/detections", handler.ListDetectionRuns)
		r.Get("/stats", handler.AuditStats)
		r.Get("/report", handler.AuditReport)
		r.Post("/dedup-keys/cleanup", handler.CleanupDedupKeys)
	})

	router.Route("/suppression-rules", func(r chi.Router) {
		r.Get("/", handler.ListSuppressionRules)
		r.Post("/", handler.CreateSuppressionRule)
		r.Post("/reload", handler.ReloadSuppressionRules)
		r.Get("/{id}", handler.GetSuppressionRule)
		r.Delete("/{id}", handler.DeleteSuppressionRule)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
