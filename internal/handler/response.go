package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError so the client always
// sees the same shapes:
//
//	success: whatever the route documents, e.g. {"message": "...", "user": {...}}
//	failure: {"error": "validation_error", "message": "Validation failed", "details": {...}}
//
// The "error" field is machine-readable; "message" is safe to show a user.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/student-crm/internal/apperror"
)

// maxJSONBody caps JSON request bodies. Uploads have their own limit.
const maxJSONBody = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`             // machine-readable type, e.g. "not_found"
	Message string            `json:"message"`           // human-readable description
	Field   string            `json:"field,omitempty"`   // single offending field
	Details map[string]string `json:"details,omitempty"` // per-field messages
}

// MessageResponse is the body of routes that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code. Headers must
// be set before WriteHeader; anything set afterwards is ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent, so logging is all we can do.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
// Services return *apperror.AppError values wrapping a sentinel; errors.Is
// walks the chain (service wrap → AppError → sentinel) to find it. Anything
// that is not an AppError is an infrastructure failure whose text may hold
// SQL or file paths, so the client gets a generic 500 and the log gets the
// detail.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"

	switch {
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest
		errorType = "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
		errorType = "not_found"
	case errors.Is(err, apperror.ErrUnauthorized):
		status = http.StatusUnauthorized
		errorType = "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		status = http.StatusForbidden
		errorType = "forbidden"
	case errors.Is(err, apperror.ErrConflict):
		// Web clients treat every rejected submission as a 400.
		status = http.StatusBadRequest
		errorType = "conflict"
	case errors.Is(err, apperror.ErrTooManyRequests):
		status = http.StatusTooManyRequests
		errorType = "too_many_requests"
	case errors.Is(err, apperror.ErrUpstream):
		errorType = "upstream_error"
		slog.Error("upstream failure", slog.String("error", appErr.Err.Error()))
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
		Details: appErr.Details,
	})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst zeroed so
// the service reports the missing fields. Malformed bodies become a
// validation error the handler can pass to writeError unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperror.ValidationFailed("", "Invalid JSON body")
	}
	return nil
}

func asAppError(err error) (*apperror.AppError, bool) {
	var appErr *apperror.AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
