package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/source"
)

// SourceHandler exposes read-only introspection of the source store.
type SourceHandler struct {
	factory *source.Factory
	logger  zerolog.Logger
}

func NewSourceHandler(factory *source.Factory, logger zerolog.Logger) *SourceHandler {
	return &SourceHandler{
		factory: factory,
		logger:  logger.With().Str("component", "source_handler").Logger(),
	}
}

// TestConnection opens a connection with the supplied parameters and
// runs a trivial query. Credentials travel through the request only;
// nothing is persisted.
func (h *SourceHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var params source.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if params.Host == "" || params.Username == "" {
		http.Error(w, "host and username are required", http.StatusBadRequest)
		return
	}
	if params.Port == 0 {
		params.Port = 3306
	}

	conn, err := h.factory.Open(params)
	if err != nil {
		writeError(w, err)
		return
	}
	defer conn.Close()

	if err := conn.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SourceHandler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	conn, err := h.factory.ForDatabase(r.URL.Query().Get("database"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer conn.Close()

	schemas, err := conn.ListSchemas(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas)
}

func (h *SourceHandler) ListColumns(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	conn, err := h.factory.ForDatabase(r.URL.Query().Get("database"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer conn.Close()

	columns, err := conn.ListColumns(r.Context(), vars["schema"], vars["table"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, columns)
}

// Preview returns the most recent rows of a source table for
// inspection in the admin UI.
func (h *SourceHandler) Preview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	conn, err := h.factory.ForDatabase(r.URL.Query().Get("database"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer conn.Close()

	rows, err := conn.FetchLatest(r.Context(), vars["schema"], vars["table"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rowsToObjects(rows))
}
