package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/akmatori/ticketbot/internal/apperr"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		data       interface{}
		wantStatus int
		wantBody   string
	}{
		{
			name:       "200 with data",
			status:     http.StatusOK,
			data:       map[string]string{"key": "value"},
			wantStatus: http.StatusOK,
			wantBody:   `{"key":"value"}`,
		},
		{
			name:       "201 created",
			status:     http.StatusCreated,
			data:       map[string]int{"id": 42},
			wantStatus: http.StatusCreated,
			wantBody:   `{"id":42}`,
		},
		{
			name:       "nil data",
			status:     http.StatusOK,
			data:       nil,
			wantStatus: http.StatusOK,
			wantBody:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondJSON(w, tt.status, tt.data)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.data != nil {
				ct := w.Header().Get("Content-Type")
				if ct != "application/json" {
					t.Errorf("Content-Type = %q, want application/json", ct)
				}
			}
			if tt.wantBody != "" {
				// json.Encoder appends a newline
				got := w.Body.String()
				if got != tt.wantBody+"\n" {
					t.Errorf("body = %q, want %q", got, tt.wantBody+"\n")
				}
			}
		})
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (ErrorResponse, map[string]interface{}) {
	t.Helper()
	raw := w.Body.Bytes()
	var resp ErrorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp, fields
}

func TestRespondError_Envelopes(t *testing.T) {
	tests := []struct {
		name        string
		write       func(w http.ResponseWriter)
		wantStatus  int
		wantError   string
		wantCode    string
		wantDetails bool
	}{
		{
			name:       "plain",
			write:      func(w http.ResponseWriter) { RespondError(w, http.StatusBadRequest, "invalid ticket id") },
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid ticket id",
		},
		{
			name: "with code",
			write: func(w http.ResponseWriter) {
				RespondErrorWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Not authenticated",
			wantCode:   "UNAUTHORIZED",
		},
		{
			name: "validation",
			write: func(w http.ResponseWriter) {
				RespondValidationError(w, map[string]string{"team": "is required"})
			},
			wantStatus:  http.StatusBadRequest,
			wantError:   "Validation failed",
			wantCode:    apperr.CodeValidation,
			wantDetails: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			resp, fields := decodeError(t, w)
			if resp.Error != tt.wantError || resp.Code != tt.wantCode {
				t.Errorf("got error=%q code=%q, want error=%q code=%q", resp.Error, resp.Code, tt.wantError, tt.wantCode)
			}
			if _, ok := fields["code"]; ok != (tt.wantCode != "") {
				t.Errorf("code present = %v in %v", ok, fields)
			}
			if _, ok := fields["details"]; ok != tt.wantDetails {
				t.Errorf("details present = %v in %v", ok, fields)
			}
			if tt.wantDetails && resp.Details["team"] != "is required" {
				t.Errorf("details[team] = %v, want %q", resp.Details["team"], "is required")
			}
		})
	}
}

func TestRespondDomainError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantCode      string
		wantRetryable bool
	}{
		{"validation", apperr.NewValidation("bad team", nil), http.StatusBadRequest, apperr.CodeValidation, false},
		{"not found", apperr.NewNotFound("ticket", 7), http.StatusNotFound, apperr.CodeNotFound, false},
		{"policy", apperr.NewPolicy("ticket is closed"), http.StatusUnprocessableEntity, apperr.CodePolicy, false},
		{"unavailable", apperr.NewUnavailable("update ticket", errors.New("conn reset")), http.StatusServiceUnavailable, apperr.CodeUnavailable, true},
		{"wrapped", fmt.Errorf("submit: %w", apperr.NewNotFound("ticket", 7)), http.StatusNotFound, apperr.CodeNotFound, false},
		{"plain", errors.New("boom"), http.StatusInternalServerError, apperr.CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondDomainError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			resp, _ := decodeError(t, w)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", resp.Retryable, tt.wantRetryable)
			}
			if strings.Contains(resp.Error, "conn reset") || strings.Contains(resp.Error, "boom") {
				t.Errorf("error message leaks internals: %q", resp.Error)
			}
		})
	}
}
