package response

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vadim/neo-social/internal/apperr"
)

// Error sends an error response
func Error(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response with JSON body
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response with JSON body
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// BadRequest sends a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound sends a 404 Not Found error
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError sends a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, message)
}

// Unauthorized sends a 401 Unauthorized error
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, message)
}

// Forbidden sends a 403 Forbidden error
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, message)
}

// TooManyRequests sends a 429 Too Many Requests error
func TooManyRequests(w http.ResponseWriter, message string) {
	Error(w, http.StatusTooManyRequests, message)
}

// FromError maps an application error to its status code. Persistence and
// unclassified failures are reported with the generic fallback message.
func FromError(w http.ResponseWriter, err error, fallback string) {
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		BadRequest(w, message(err))
	case apperr.ErrUnauthenticated:
		Unauthorized(w, message(err))
	case apperr.ErrForbidden:
		Forbidden(w, message(err))
	case apperr.ErrNotFound:
		NotFound(w, message(err))
	default:
		InternalError(w, fallback)
	}
}

// message strips the kind prefix so clients see only the domain reason
func message(err error) string {
	msg := err.Error()
	if kind := apperr.Kind(err); kind != nil {
		msg = strings.TrimPrefix(msg, kind.Error()+": ")
	}
	return msg
}
