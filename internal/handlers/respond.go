package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/merchkit/syncbridge/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps engine errors onto HTTP statuses: configuration
// problems are the caller's to fix, missing entities are 404, a busy
// worker is 409, anything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	var cfgErr *models.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		http.Error(w, cfgErr.Reason, http.StatusBadRequest)
	case errors.Is(err, models.ErrWorkerNotFound),
		errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, models.ErrTableNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// rowsToObjects converts engine rows into loose JSON objects. Loose
// typing lives only at this serialization boundary.
func rowsToObjects(rows []models.Row) []map[string]any {
	objects := make([]map[string]any, len(rows))
	for i, row := range rows {
		obj := make(map[string]any, len(row))
		for _, field := range row {
			obj[field.Column] = field.Value
		}
		objects[i] = obj
	}
	return objects
}
