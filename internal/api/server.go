// Package api provides the HTTP API server for Daygrid.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/daygrid/daygrid/internal/logging"
	"github.com/daygrid/daygrid/internal/scheduler"
	"github.com/daygrid/daygrid/internal/storage"
	daysync "github.com/daygrid/daygrid/internal/sync"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        *logging.Logger

	connections  *storage.ConnectionStore
	jobs         *storage.JobStore
	registry     *storage.ExternalItemStore
	records      *storage.RecordStore
	planner      *storage.PlannerStore
	orchestrator *daysync.Orchestrator
	scheduler    *scheduler.Scheduler
	hub          *StatusHub
}

// Config for the server
type Config struct {
	Port         int
	DB           *storage.DB
	Orchestrator *daysync.Orchestrator
	Scheduler    *scheduler.Scheduler
	Hub          *StatusHub
}

// New creates a new API server
func New(cfg Config) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = NewStatusHub()
	}

	s := &Server{
		log:          logging.WithField("component", "api"),
		connections:  storage.NewConnectionStore(cfg.DB),
		jobs:         storage.NewJobStore(cfg.DB),
		registry:     storage.NewExternalItemStore(cfg.DB),
		records:      storage.NewRecordStore(cfg.DB),
		planner:      storage.NewPlannerStore(cfg.DB),
		orchestrator: cfg.Orchestrator,
		scheduler:    cfg.Scheduler,
		hub:          hub,
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Connections
		r.Get("/connections", s.handleListConnections)
		r.Post("/connections", s.handleCreateConnection)
		r.Get("/connections/{connectionID}", s.handleGetConnection)
		r.Put("/connections/{connectionID}/config", s.handleUpdateConnectionConfig)
		r.Delete("/connections/{connectionID}", s.handleDeleteConnection)

		// Sync
		r.Post("/connections/{connectionID}/sync", s.handleTriggerSync)
		r.Get("/connections/{connectionID}/jobs", s.handleListJobs)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Get("/connections/{connectionID}/records", s.handleListRecords)
		r.Get("/connections/{connectionID}/conflicts", s.handleListConflicts)

		// Schedule collisions across local events
		r.Get("/collisions", s.handleListCollisions)

		// Provider push notifications
		r.Post("/webhooks/{connectionID}", s.handleWebhook)
	})

	// Live job status stream
	r.Get("/ws", s.hub.HandleWebSocket)

	r.Get("/health", s.handleHealth)

	s.router = r
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("api server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Hub returns the status hub for wiring into the orchestrator
func (s *Server) Hub() *StatusHub {
	return s.hub
}

// Router exposes the router for tests
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("encode response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]any{"error": msg})
}
