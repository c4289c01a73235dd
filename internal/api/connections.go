package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daygrid/daygrid/internal/core"
	"github.com/daygrid/daygrid/internal/scheduler"
)

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.connections.GetAll()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

type createConnectionRequest struct {
	UserID  string          `json:"user_id"`
	Service core.Service    `json:"service"`
	Name    string          `json:"name"`
	Config  core.SyncConfig `json:"config"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Service == "" {
		s.respondError(w, http.StatusBadRequest, "service required")
		return
	}

	cfg := req.Config
	if cfg.Direction == "" {
		cfg.Direction = core.DirectionBoth
	}
	if cfg.Strategy == "" {
		cfg.Strategy = core.StrategyLatest
	}
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	// A connection that syncs neither kind is useless; treat all-off as unset
	if !cfg.SyncTasks && !cfg.SyncEvents {
		cfg.SyncTasks = true
		cfg.SyncEvents = true
	}

	conn := &core.Connection{
		ID:       core.ConnectionID(uuid.New().String()),
		UserID:   req.UserID,
		Service:  req.Service,
		Name:     req.Name,
		IsActive: true,
		Config:   cfg,
		Status:   core.ConnStatusIdle,
	}
	if err := s.connections.Create(conn); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.reconcileBackground(conn)
	s.respondJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.loadConnection(w, r)
	if !ok {
		return
	}

	pending, err := s.jobs.PendingCount(conn.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"connection":   conn,
		"pending_jobs": pending,
	})
}

func (s *Server) handleUpdateConnectionConfig(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.loadConnection(w, r)
	if !ok {
		return
	}

	var cfg core.SyncConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conn.Config = cfg
	if err := s.connections.Update(conn); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.reconcileBackground(conn)
	s.respondJSON(w, http.StatusOK, conn)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.loadConnection(w, r)
	if !ok {
		return
	}

	if s.scheduler != nil {
		s.scheduler.Unregister(autoSyncTaskID(conn.ID))
	}
	if err := s.connections.Delete(conn.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.orchestrator != nil {
		s.orchestrator.RefreshWorkers()
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.loadConnection(w, r)
	if !ok {
		return
	}
	if !conn.IsActive {
		s.respondError(w, http.StatusConflict, core.ErrConnectionInactive.Error())
		return
	}

	job, err := s.orchestrator.EnqueueManualSync(conn.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.loadConnection(w, r)
	if !ok {
		return
	}

	jobs, err := s.jobs.ListByConnection(conn.ID, 50)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := core.JobID(chi.URLParam(r, "jobID"))

	err := s.jobs.Cancel(jobID)
	switch {
	case errors.Is(err, core.ErrJobImmutable):
		s.respondError(w, http.StatusConflict, "job is not pending")
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.respondJSON(w, http.StatusOK, map[string]any{"cancelled": true})
	}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.loadConnection(w, r)
	if !ok {
		return
	}

	records, err := s.records.ListByConnection(conn.ID, 50)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.loadConnection(w, r)
	if !ok {
		return
	}

	conflicts, err := s.records.ManualConflicts(conn.ID, 100)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

type webhookRequest struct {
	ExternalID string `json:"external_id"`
}

// handleWebhook ingests a provider push notification and queues a targeted
// pull. The provider payload itself is never trusted; we always re-fetch.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.loadConnection(w, r)
	if !ok {
		return
	}
	if !conn.IsActive {
		s.respondError(w, http.StatusConflict, core.ErrConnectionInactive.Error())
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalID == "" {
		s.respondError(w, http.StatusBadRequest, "external_id required")
		return
	}

	job, err := s.orchestrator.EnqueueWebhookPull(conn.ID, req.ExternalID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) loadConnection(w http.ResponseWriter, r *http.Request) (*core.Connection, bool) {
	id := core.ConnectionID(chi.URLParam(r, "connectionID"))

	conn, err := s.connections.Get(id)
	if errors.Is(err, core.ErrConnectionNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return conn, true
}

// reconcileBackground updates the worker set and the auto-sync timer after
// a connection change
func (s *Server) reconcileBackground(conn *core.Connection) {
	if s.orchestrator != nil {
		s.orchestrator.RefreshWorkers()
	}
	if s.scheduler == nil {
		return
	}

	taskID := autoSyncTaskID(conn.ID)
	if conn.IsActive && conn.Config.AutoSync && conn.Config.Interval > 0 {
		connID := conn.ID
		s.scheduler.Register(scheduler.IntervalTask(taskID, "auto-sync "+conn.Name, conn.Config.Interval,
			func(ctx context.Context) error {
				_, err := s.orchestrator.EnqueueAutoSync(connID)
				return err
			}))
	} else {
		s.scheduler.Unregister(taskID)
	}
}

func autoSyncTaskID(id core.ConnectionID) string {
	return "auto-sync:" + string(id)
}
