package server

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteBadRequest writes a 400 with the failing fields as details.
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]any) error {
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: message, Details: details})
}

// WriteNotFound writes a 404 for a resource that does not exist.
func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: message})
}

// WriteServiceUnavailable writes a 503 telling the caller when to come back.
func WriteServiceUnavailable(w http.ResponseWriter, message string, retryAfter string) error {
	w.Header().Set("Retry-After", retryAfter)
	return WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "service_unavailable", Message: message})
}

// WriteUpstreamUnavailable writes a 502 for a collaborator that failed or timed out.
func WriteUpstreamUnavailable(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusBadGateway, ErrorResponse{
		Error:   "upstream_unavailable",
		Message: message,
		Details: map[string]any{"retryable": true},
	})
}

// WriteInternalServerError writes a 500 without leaking the cause.
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: message})
}
