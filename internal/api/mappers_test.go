package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/akmatori/ticketbot/internal/database"
)

func TestTicketToListItem(t *testing.T) {
	team := "infra"
	now := time.Now()
	ticket := database.Ticket{
		ID:          7,
		ChannelID:   "C1",
		MessageTS:   "100.1",
		Status:      database.TicketStatusOpened,
		Team:        &team,
		RequesterID: "U1",
		StatusLog:   []database.StatusLogEntry{{Status: database.TicketStatusOpened, At: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	item := TicketToListItem(ticket)

	if item.ID != 7 || item.ChannelID != "C1" || item.MessageTS != "100.1" {
		t.Errorf("unexpected identity fields %+v", item)
	}
	if item.Team == nil || *item.Team != "infra" {
		t.Errorf("Team = %v, want infra", item.Team)
	}
	if item.Tags == nil {
		t.Error("Tags should be an empty slice, not nil")
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := m["status_log"]; ok {
		t.Error("list item should omit status_log")
	}
	if tags, ok := m["tags"].([]interface{}); !ok || len(tags) != 0 {
		t.Errorf("tags = %v, want []", m["tags"])
	}
}

func TestTicketsToListItems(t *testing.T) {
	tickets := []database.Ticket{{ID: 1}, {ID: 2}, {ID: 3}}
	items := TicketsToListItems(tickets)

	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	for i, item := range items {
		if item.ID != uint(i+1) {
			t.Errorf("items[%d].ID = %d, want %d", i, item.ID, i+1)
		}
	}

	if empty := TicketsToListItems(nil); len(empty) != 0 || empty == nil {
		t.Errorf("expected empty non-nil slice, got %v", empty)
	}
}

func TestTicketToResponse(t *testing.T) {
	ticket := &database.Ticket{ID: 3}
	resp := TicketToResponse(ticket, nil)
	if resp.Escalations == nil {
		t.Error("Escalations should be an empty slice, not nil")
	}

	resp = TicketToResponse(ticket, []database.Escalation{{ID: 9, TicketID: 3, Team: "infra"}})
	if len(resp.Escalations) != 1 || resp.ID != 3 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestEscalationToResponse(t *testing.T) {
	resolved := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := database.Escalation{
		ID:              4,
		TicketID:        3,
		Status:          database.EscalationStatusResolved,
		Team:            "payments",
		ThreadChannelID: "C0PAY",
		ThreadTS:        "555.5",
		ResolvedAt:      &resolved,
	}

	resp := EscalationToResponse(e)
	if resp.ID != 4 || resp.TicketID != 3 || resp.Team != "payments" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.ThreadChannelID != "C0PAY" || resp.ThreadTS != "555.5" {
		t.Errorf("expected thread ref carried over, got %+v", resp)
	}
	if resp.ResolvedAt == nil || !resp.ResolvedAt.Equal(resolved) {
		t.Errorf("expected resolved_at %v, got %v", resolved, resp.ResolvedAt)
	}
	if resp.Tags == nil {
		t.Error("Tags should be an empty slice, not nil")
	}
}

func TestSubmitTicketRequest_ToFieldChanges(t *testing.T) {
	closed := "closed"
	empty := ""

	tests := []struct {
		name  string
		req   SubmitTicketRequest
		check func(t *testing.T, r SubmitTicketRequest)
	}{
		{
			name: "empty request changes nothing",
			req:  SubmitTicketRequest{},
			check: func(t *testing.T, r SubmitTicketRequest) {
				if !r.ToFieldChanges().IsEmpty() {
					t.Error("expected empty change set")
				}
			},
		},
		{
			name: "status is converted",
			req:  SubmitTicketRequest{Status: &closed},
			check: func(t *testing.T, r SubmitTicketRequest) {
				c := r.ToFieldChanges()
				if c.Status == nil || *c.Status != database.TicketStatusClosed {
					t.Errorf("Status = %v, want closed", c.Status)
				}
			},
		},
		{
			name: "empty team clears",
			req:  SubmitTicketRequest{Team: &empty},
			check: func(t *testing.T, r SubmitTicketRequest) {
				c := r.ToFieldChanges()
				if c.Team == nil || *c.Team != "" {
					t.Errorf("Team = %v, want pointer to empty", c.Team)
				}
			},
		},
		{
			name: "empty tags clear",
			req:  SubmitTicketRequest{Tags: []string{}},
			check: func(t *testing.T, r SubmitTicketRequest) {
				c := r.ToFieldChanges()
				if c.Tags == nil || len(c.Tags) != 0 {
					t.Errorf("Tags = %v, want empty non-nil", c.Tags)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.req)
		})
	}
}
