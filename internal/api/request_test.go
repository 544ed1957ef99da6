package api

import (
	"net/http"
	"strings"
	"testing"
)

func TestDecodeJSON_ValidInput(t *testing.T) {
	var dst SubmitTicketRequest
	if err := DecodeJSON(newRequest(`{"team":"infra","confirmed":true}`), &dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.Team == nil || *dst.Team != "infra" || !dst.Confirmed {
		t.Errorf("unexpected request %+v", dst)
	}
}

func TestDecodeJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty body", "", "request body is empty"},
		{"malformed", `{"team":}`, "malformed JSON at position"},
		{"type mismatch", `{"value":"seven"}`, `invalid value for field "value"`},
		{"unknown field", `{"value":1,"extra":true}`, `unknown field "extra"`},
		{"oversized", `{"data":"` + strings.Repeat("x", MaxBodySize+1) + `"}`, "exceeds maximum size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst struct {
				Value int    `json:"value"`
				Data  string `json:"data"`
			}
			err := DecodeJSON(newRequest(tt.body), &dst)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDecodeJSON_NilBody(t *testing.T) {
	r, _ := http.NewRequest(http.MethodPost, "/api/tickets/1/submit", nil)

	var dst struct{}
	if err := DecodeJSON(r, &dst); err == nil || err.Error() != "request body is empty" {
		t.Errorf("error = %v, want %q", err, "request body is empty")
	}
}

func TestDecodeAndValidate(t *testing.T) {
	var ok CreateEscalationRequest
	fieldErrs, err := DecodeAndValidate(newRequest(`{"team":"infra","tags":["db"]}`), &ok)
	if err != nil || fieldErrs != nil {
		t.Fatalf("unexpected errors: %v %v", err, fieldErrs)
	}
	if ok.Team != "infra" || len(ok.Tags) != 1 {
		t.Errorf("unexpected request %+v", ok)
	}

	var missing CreateEscalationRequest
	fieldErrs, err = DecodeAndValidate(newRequest(`{"tags":["db"]}`), &missing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fieldErrs["team"] != "is required" {
		t.Errorf("expected team error, got %v", fieldErrs)
	}

	var bad CreateEscalationRequest
	if _, err := DecodeAndValidate(newRequest(`{"team":`), &bad); err == nil {
		t.Error("expected decode error")
	}
}

func TestPathID(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := newRequest("")
			r.SetPathValue("id", tt.raw)
			got, err := PathID(r, "id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("PathID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PathID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func newRequest(body string) *http.Request {
	r, _ := http.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}
