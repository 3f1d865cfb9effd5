package httpapi

import (
	"encoding/json"
	"net/http"
)

// respondJSON writes data as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error body with the given status code.
func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}
