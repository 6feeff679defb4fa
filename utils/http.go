package utils

import (
	"encoding/json"
	"net/http"

	"github.com/tinyauth/tinyauth/services"
)

// ErrorEnvelope is the wire shape for credential, session and CSRF
// failures: {"errors": {<category>: <code>}}.
type ErrorEnvelope struct {
	Errors map[string]string `json:"errors"`
}

// ErrorResponse represents a structured error response for the
// management API
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 Created response
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorEnvelope writes the {"errors": {category: code}} body.
func WriteErrorEnvelope(w http.ResponseWriter, status int, category, code string) error {
	return WriteJSON(w, status, ErrorEnvelope{
		Errors: map[string]string{category: code},
	})
}

// WriteAuthFailure converts an authentication or authorization error into
// the standard 401 envelope. Errors outside the taxonomy get a plain 500
// with no detail leaked.
func WriteAuthFailure(w http.ResponseWriter, err error) error {
	if services.IsAuthenticationError(err) {
		return WriteErrorEnvelope(w, http.StatusUnauthorized, services.CategoryAuthentication, services.InvalidCredentials)
	}
	if code := services.AuthorizationCode(err); code != "" {
		return WriteErrorEnvelope(w, http.StatusUnauthorized, services.CategoryAuthorization, code)
	}
	return WriteInternalServerError(w, "")
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "bad_request",
		Message: message,
		Details: details,
	})
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: message,
	})
}

// WriteConflict writes a 409 Conflict response
func WriteConflict(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteJSON(w, http.StatusConflict, ErrorResponse{
		Error:   "conflict",
		Message: message,
		Details: details,
	})
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: message,
	})
}
