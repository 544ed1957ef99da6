package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/apperr"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Warn("Failed to encode JSON response", zap.Error(err))
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondErrorWithCode writes an error response with a machine-readable code.
func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondDomainError maps err to its DomainError status and code. Errors
// outside the taxonomy become a 500 without leaking internals.
func RespondDomainError(w http.ResponseWriter, err error) {
	de := apperr.ToDomainError(err)
	if de.Code == apperr.CodeInternal {
		zap.L().Error("Unhandled error", zap.Error(err))
	}
	RespondJSON(w, de.HTTPStatus, ErrorResponse{
		Error:     de.Message,
		Code:      de.Code,
		Retryable: de.Retryable,
		Details:   de.Details,
	})
}

// RespondValidationError writes field-level validation errors as a 400 response.
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	details := make(map[string]any, len(fieldErrors))
	for k, v := range fieldErrors {
		details[k] = v
	}
	RespondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Validation failed",
		Code:    apperr.CodeValidation,
		Details: details,
	})
}
