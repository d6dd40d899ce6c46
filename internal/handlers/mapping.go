package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/source"
	"github.com/merchkit/syncbridge/internal/target"
	"github.com/merchkit/syncbridge/internal/typemap"
)

// MappingHandler previews how source columns line up against an
// existing target table. Type mismatches come back as needs-review and
// never block anything.
type MappingHandler struct {
	factory *source.Factory
	store   target.Store
	logger  zerolog.Logger
}

func NewMappingHandler(factory *source.Factory, store target.Store, logger zerolog.Logger) *MappingHandler {
	return &MappingHandler{
		factory: factory,
		store:   store,
		logger:  logger.With().Str("component", "mapping_handler").Logger(),
	}
}

type mappingPreviewRequest struct {
	SourceDatabase string `json:"source_database"`
	SourceSchema   string `json:"source_schema"`
	SourceTable    string `json:"source_table"`
	TargetSchema   string `json:"target_schema"`
	TargetTable    string `json:"target_table"`
}

func (h *MappingHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req mappingPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.SourceSchema == "" || req.SourceTable == "" || req.TargetSchema == "" || req.TargetTable == "" {
		http.Error(w, "source and target schema/table are required", http.StatusBadRequest)
		return
	}

	conn, err := h.factory.ForDatabase(req.SourceDatabase)
	if err != nil {
		writeError(w, err)
		return
	}
	defer conn.Close()

	sourceCols, err := conn.ListColumns(r.Context(), req.SourceSchema, req.SourceTable)
	if err != nil {
		writeError(w, err)
		return
	}
	targetCols, err := h.store.GetTableSchema(r.Context(), req.TargetSchema, req.TargetTable)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, typemap.Classify(sourceCols, targetCols))
}
