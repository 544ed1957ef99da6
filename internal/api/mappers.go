package api

import (
	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/events"
)

// TicketToResponse attaches escalations to a ticket.
func TicketToResponse(t *database.Ticket, escalations []database.Escalation) TicketResponse {
	return TicketResponse{Ticket: *t, Escalations: EscalationsToResponses(escalations)}
}

// EscalationToResponse converts a database Escalation to its API form.
func EscalationToResponse(e database.Escalation) EscalationResponse {
	tags := []string(e.Tags)
	if tags == nil {
		tags = []string{}
	}
	return EscalationResponse{
		ID:              e.ID,
		TicketID:        e.TicketID,
		Status:          e.Status,
		Team:            e.Team,
		Tags:            tags,
		ThreadChannelID: e.ThreadChannelID,
		ThreadTS:        e.ThreadTS,
		CreatedBy:       e.CreatedBy,
		OpenedAt:        e.OpenedAt,
		ResolvedAt:      e.ResolvedAt,
	}
}

// EscalationsToResponses converts escalations, never returning nil.
func EscalationsToResponses(escalations []database.Escalation) []EscalationResponse {
	out := make([]EscalationResponse, len(escalations))
	for i, e := range escalations {
		out[i] = EscalationToResponse(e)
	}
	return out
}

// TicketToListItem converts a database Ticket to a compact list representation.
func TicketToListItem(t database.Ticket) TicketListItem {
	tags := []string(t.Tags)
	if tags == nil {
		tags = []string{}
	}
	return TicketListItem{
		ID:          t.ID,
		ChannelID:   t.ChannelID,
		MessageTS:   t.MessageTS,
		Status:      t.Status,
		Team:        t.Team,
		Impact:      t.Impact,
		Tags:        tags,
		AssignedTo:  t.AssignedTo,
		RequesterID: t.RequesterID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// TicketsToListItems converts a slice of database Tickets to list items.
func TicketsToListItems(tickets []database.Ticket) []TicketListItem {
	items := make([]TicketListItem, len(tickets))
	for i, t := range tickets {
		items[i] = TicketToListItem(t)
	}
	return items
}

// ToFieldChanges converts a submit request into the engine's change set.
func (r SubmitTicketRequest) ToFieldChanges() events.FieldChanges {
	var c events.FieldChanges
	if r.Status != nil {
		s := database.TicketStatus(*r.Status)
		c.Status = &s
	}
	c.Team = r.Team
	c.Impact = r.Impact
	c.AssignedTo = r.AssignedTo
	if r.Tags != nil {
		c.Tags = append([]string{}, r.Tags...)
	}
	return c
}
