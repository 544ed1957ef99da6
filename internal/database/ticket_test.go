package database

import (
	"testing"
	"time"
)

func TestTicketStatus_IsValid(t *testing.T) {
	tests := []struct {
		status TicketStatus
		want   bool
	}{
		{TicketStatusOpened, true},
		{TicketStatusStale, true},
		{TicketStatusClosed, true},
		{"resolved", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTicket_SetStatus(t *testing.T) {
	now := time.Now()
	ticket := &Ticket{Status: TicketStatusOpened, StatusLog: []StatusLogEntry{{Status: TicketStatusOpened, At: now}}}

	if ticket.SetStatus(TicketStatusOpened, now) {
		t.Error("expected no change for the current status")
	}
	if !ticket.SetStatus(TicketStatusClosed, now) {
		t.Fatal("expected status change")
	}
	if len(ticket.StatusLog) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ticket.StatusLog))
	}
	if ticket.StatusLog[1].Status != ticket.Status {
		t.Errorf("expected last entry to match status")
	}
}

func TestTicket_Clone(t *testing.T) {
	team := "infra"
	original := &Ticket{Team: &team, Tags: []string{"a"}}

	clone := original.Clone()
	*clone.Team = "payments"
	clone.Tags[0] = "b"

	if *original.Team != "infra" {
		t.Errorf("expected original team untouched, got %s", *original.Team)
	}
	if original.Tags[0] != "a" {
		t.Errorf("expected original tags untouched, got %v", original.Tags)
	}
}

func TestTicket_FormRef(t *testing.T) {
	ticket := &Ticket{ChannelID: "C1", MessageTS: "1.1"}
	if ticket.HasForm() {
		t.Error("expected no form before posting")
	}

	ticket.FormChannelID = "C1"
	ticket.FormMessageTS = "1.2"
	if !ticket.HasForm() {
		t.Error("expected form after posting")
	}
	if ticket.FormRef() != (MessageRef{ChannelID: "C1", TS: "1.2"}) {
		t.Errorf("unexpected form ref %+v", ticket.FormRef())
	}
	if ticket.RootRef() != (MessageRef{ChannelID: "C1", TS: "1.1"}) {
		t.Errorf("unexpected root ref %+v", ticket.RootRef())
	}
}
