package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"validation", NewValidation("bad team", nil), CodeValidation, http.StatusBadRequest},
		{"not found", NewNotFound("ticket", 7), CodeNotFound, http.StatusNotFound},
		{"policy", NewPolicy("ticket is closed"), CodePolicy, http.StatusUnprocessableEntity},
		{"unavailable", NewUnavailable("load ticket", errors.New("conn refused")), CodeUnavailable, http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("escalate: %w", NewPolicy("closed")), CodePolicy, http.StatusUnprocessableEntity},
		{"plain", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := ToDomainError(tt.err)
			if de.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, de.Code)
			}
			if de.HTTPStatus != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, de.HTTPStatus)
			}
		})
	}

	if ToDomainError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestIsRetryable(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewUnavailable("update ticket", cause)

	if !IsRetryable(err) {
		t.Error("expected store failure to be retryable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if IsRetryable(NewNotFound("ticket", 1)) {
		t.Error("expected not-found to be non-retryable")
	}
	if !IsCode(fmt.Errorf("wrap: %w", err), CodeUnavailable) {
		t.Error("expected IsCode to see through wrapping")
	}
}
