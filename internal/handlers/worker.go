package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/engine"
	"github.com/merchkit/syncbridge/internal/models"
	"github.com/merchkit/syncbridge/internal/registry"
)

// WorkerHandler exposes worker CRUD and the manual run-once trigger.
type WorkerHandler struct {
	registry *registry.Registry
	engine   *engine.Engine
	logger   zerolog.Logger
}

func NewWorkerHandler(reg *registry.Registry, eng *engine.Engine, logger zerolog.Logger) *WorkerHandler {
	return &WorkerHandler{
		registry: reg,
		engine:   eng,
		logger:   logger.With().Str("component", "worker_handler").Logger(),
	}
}

func (h *WorkerHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var def models.WorkerDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	saved, err := h.registry.Upsert(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if def.ID == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	definitions, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if definitions == nil {
		definitions = []models.WorkerDefinition{}
	}
	writeJSON(w, http.StatusOK, definitions)
}

func (h *WorkerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := workerID(w, r)
	if !ok {
		return
	}
	def, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// Run triggers a manual pass, bypassing the interval check. The run
// itself happens in the background; the single-flight guard rejects it
// with 409 when one is already going.
func (h *WorkerHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, ok := workerID(w, r)
	if !ok {
		return
	}
	def, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.engine.InFlight(def.ID) {
		writeError(w, models.ErrRunInProgress)
		return
	}

	go func() {
		// Detached from the request context; the pass runs to
		// completion once started.
		if _, err := h.engine.RunOnce(context.Background(), def); err != nil && err != models.ErrRunInProgress {
			h.logger.Error().Err(err).Int64("worker_id", def.ID).Msg("manual run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"worker_id": def.ID, "status": "started"})
}

func (h *WorkerHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	h.patch(w, r, &payload, func(def *models.WorkerDefinition) {
		def.Enabled = payload.Enabled
	})
}

func (h *WorkerHandler) SetInterval(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IntervalSeconds int64 `json:"interval_seconds"`
	}
	h.patch(w, r, &payload, func(def *models.WorkerDefinition) {
		def.IntervalSeconds = payload.IntervalSeconds
	})
}

func (h *WorkerHandler) SetNotifications(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NotifyOnSuccess bool `json:"notify_on_success"`
		NotifyOnError   bool `json:"notify_on_error"`
	}
	h.patch(w, r, &payload, func(def *models.WorkerDefinition) {
		def.NotifyOnSuccess = payload.NotifyOnSuccess
		def.NotifyOnError = payload.NotifyOnError
	})
}

// patch loads the worker, applies one partial edit and re-validates
// through the registry's upsert path.
func (h *WorkerHandler) patch(w http.ResponseWriter, r *http.Request, payload any, apply func(*models.WorkerDefinition)) {
	id, ok := workerID(w, r)
	if !ok {
		return
	}
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	def, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	apply(&def)

	saved, err := h.registry.Upsert(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func workerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid worker id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
