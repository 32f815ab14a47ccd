// Package response writes the JSON payloads every handler returns.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/yanizio/treehole/internal/form"
)

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteFieldErrors writes a 422 carrying per-field messages.
func WriteFieldErrors(w http.ResponseWriter, errs form.Errors) {
	WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{"fields": errs})
}
