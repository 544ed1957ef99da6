package api

import (
	"strings"
	"testing"
)

func TestValidate_SubmitTicketRequest(t *testing.T) {
	closed := "closed"
	bogus := "archived"
	long := strings.Repeat("a", 65)

	tests := []struct {
		name      string
		req       SubmitTicketRequest
		wantField string
		wantMsg   string
	}{
		{"valid", SubmitTicketRequest{Status: &closed, Tags: []string{"db"}}, "", ""},
		{"empty is valid", SubmitTicketRequest{}, "", ""},
		{"unknown status", SubmitTicketRequest{Status: &bogus}, "status", "must be one of: opened stale closed"},
		{"team too long", SubmitTicketRequest{Team: &long}, "team", "must be at most 64 characters"},
		{"blank tag", SubmitTicketRequest{Tags: []string{"db", ""}}, "tags[1]", "is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.req)
			if tt.wantField == "" {
				if errs != nil {
					t.Errorf("expected no errors, got %v", errs)
				}
				return
			}
			if errs[tt.wantField] != tt.wantMsg {
				t.Errorf("errors = %v, want %s: %q", errs, tt.wantField, tt.wantMsg)
			}
		})
	}
}

func TestValidate_CreateEscalationRequest(t *testing.T) {
	errs := Validate(CreateEscalationRequest{})
	if errs["team"] != "is required" {
		t.Errorf("team error = %q, want %q", errs["team"], "is required")
	}

	errs = Validate(CreateEscalationRequest{Team: "infra", ThreadTS: "100.1"})
	if errs["thread_channel_id"] != "is required with ThreadTS" {
		t.Errorf("thread_channel_id error = %q", errs["thread_channel_id"])
	}

	if errs := Validate(CreateEscalationRequest{Team: "infra", ThreadTS: "100.1", ThreadChannelID: "C1"}); errs != nil {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidate_LoginRequest(t *testing.T) {
	errs := Validate(LoginRequest{Username: "admin"})
	if errs == nil {
		t.Fatal("expected validation errors")
	}
	if errs["password"] != "is required" {
		t.Errorf("password error = %q, want %q", errs["password"], "is required")
	}
}

func TestValidate_UntaggedFieldUsesGoName(t *testing.T) {
	type probe struct {
		Note string `validate:"required"`
	}
	errs := Validate(probe{})
	if errs["Note"] != "is required" {
		t.Errorf("errors = %v, want Note: is required", errs)
	}
}

func TestValidate_NonStruct(t *testing.T) {
	errs := Validate("not a struct")
	if _, ok := errs["_"]; !ok {
		t.Errorf("expected a general error, got %v", errs)
	}
}
