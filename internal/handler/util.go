package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/threadline-ai/chat-gateway/internal/service"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps controller error kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch service.KindOf(err) {
	case service.KindValidation:
		status = http.StatusBadRequest
		if errors.Is(err, service.ErrStreamInFlight) {
			status = http.StatusConflict
		}
		if errors.Is(err, service.ErrThreadNotFound) {
			status = http.StatusNotFound
		}
	case service.KindTransport:
		status = http.StatusBadGateway
	case service.KindPersistence:
		status = http.StatusServiceUnavailable
	}

	writeError(w, status, err.Error())
}
