package api

import (
	"encoding/json"
	"net/http"

	"github.com/spherical/page-pipeline/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the domain error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsType(err, domain.ErrorTypeNotFound):
		status = http.StatusNotFound
	case domain.IsType(err, domain.ErrorTypeValidation):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err.Error())
}
