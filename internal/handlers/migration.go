package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/jobs"
	"github.com/merchkit/syncbridge/internal/models"
)

// MigrationHandler starts full-table clone jobs and serves their
// pollable snapshots.
type MigrationHandler struct {
	orchestrator *jobs.Orchestrator
	logger       zerolog.Logger
}

func NewMigrationHandler(orchestrator *jobs.Orchestrator, logger zerolog.Logger) *MigrationHandler {
	return &MigrationHandler{
		orchestrator: orchestrator,
		logger:       logger.With().Str("component", "migration_handler").Logger(),
	}
}

func (h *MigrationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req jobs.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	job, err := h.orchestrator.StartJob(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *MigrationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.orchestrator.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *MigrationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	list, err := h.orchestrator.ListJobs(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []models.MigrationJob{}
	}
	writeJSON(w, http.StatusOK, list)
}
