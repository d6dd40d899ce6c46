package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/target"
)

// TargetHandler exposes introspection of the target store for the
// admin surface.
type TargetHandler struct {
	store  target.Store
	logger zerolog.Logger
}

func NewTargetHandler(store target.Store, logger zerolog.Logger) *TargetHandler {
	return &TargetHandler{
		store:  store,
		logger: logger.With().Str("component", "target_handler").Logger(),
	}
}

func (h *TargetHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (h *TargetHandler) GetTableSchema(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	columns, err := h.store.GetTableSchema(r.Context(), vars["schema"], vars["table"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, columns)
}

func (h *TargetHandler) Sample(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	rows, err := h.store.FetchSample(r.Context(), vars["schema"], vars["table"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rowsToObjects(rows))
}
