package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-audioflow/internal/bridges/audioflow"
	"github.com/nerrad567/gray-logic-audioflow/internal/settings"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnreachable = "device_unreachable"
	ErrCodeRejected    = "settings_rejected"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps a bridge error to a status code. A settings change
// the switch refused is 409; a change that failed validation stays 400.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audioflow.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case audioflow.IsValidationError(err), errors.Is(err, settings.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, settings.ErrRejected):
		writeError(w, http.StatusConflict, ErrCodeRejected, err.Error())
	case errors.Is(err, audioflow.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, audioflow.ErrTransport), errors.Is(err, audioflow.ErrTransportTimeout):
		writeError(w, http.StatusBadGateway, ErrCodeUnreachable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
