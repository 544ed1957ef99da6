package testhelpers

import (
	"time"

	"github.com/akmatori/ticketbot/internal/database"
)

// ========================================
// Ticket Builder
// ========================================

// TicketBuilder builds Ticket instances for testing
type TicketBuilder struct {
	ticket database.Ticket
}

// NewTicketBuilder creates a new opened ticket on C1/100.1
func NewTicketBuilder() *TicketBuilder {
	now := time.Now()
	return &TicketBuilder{
		ticket: database.Ticket{
			ChannelID:   "C1",
			MessageTS:   "100.1",
			Status:      database.TicketStatusOpened,
			RequesterID: "U1",
			StatusLog:   []database.StatusLogEntry{{Status: database.TicketStatusOpened, At: now}},
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// WithID sets the ticket ID
func (b *TicketBuilder) WithID(id uint) *TicketBuilder {
	b.ticket.ID = id
	return b
}

// WithKey sets the natural key
func (b *TicketBuilder) WithKey(channel, ts string) *TicketBuilder {
	b.ticket.ChannelID = channel
	b.ticket.MessageTS = ts
	return b
}

// WithStatus moves the ticket to status, appending to the status log
func (b *TicketBuilder) WithStatus(status database.TicketStatus) *TicketBuilder {
	b.ticket.SetStatus(status, time.Now())
	return b
}

// WithTeam sets the team code
func (b *TicketBuilder) WithTeam(team string) *TicketBuilder {
	b.ticket.Team = &team
	return b
}

// WithImpact sets the impact code
func (b *TicketBuilder) WithImpact(impact string) *TicketBuilder {
	b.ticket.Impact = &impact
	return b
}

// WithTags sets the tags
func (b *TicketBuilder) WithTags(tags ...string) *TicketBuilder {
	b.ticket.Tags = tags
	return b
}

// WithAssignee sets the responder
func (b *TicketBuilder) WithAssignee(userID string) *TicketBuilder {
	b.ticket.AssignedTo = &userID
	return b
}

// WithRequester sets the requester
func (b *TicketBuilder) WithRequester(userID string) *TicketBuilder {
	b.ticket.RequesterID = userID
	return b
}

// WithForm marks the form as posted at channel/ts
func (b *TicketBuilder) WithForm(channel, ts string) *TicketBuilder {
	b.ticket.FormChannelID = channel
	b.ticket.FormMessageTS = ts
	return b
}

// WithUpdatedAt sets the last update time
func (b *TicketBuilder) WithUpdatedAt(at time.Time) *TicketBuilder {
	b.ticket.UpdatedAt = at
	return b
}

// Build returns the constructed ticket
func (b *TicketBuilder) Build() database.Ticket {
	return *b.ticket.Clone()
}

// ========================================
// Escalation Builder
// ========================================

// EscalationBuilder builds Escalation instances for testing
type EscalationBuilder struct {
	escalation database.Escalation
}

// NewEscalationBuilder creates an opened escalation of ticketID to infra
func NewEscalationBuilder(ticketID uint) *EscalationBuilder {
	now := time.Now()
	return &EscalationBuilder{
		escalation: database.Escalation{
			TicketID:        ticketID,
			Status:          database.EscalationStatusOpened,
			Team:            "infra",
			ThreadChannelID: "C1",
			ThreadTS:        "100.1",
			CreatedBy:       "U2",
			OpenedAt:        now,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
}

// WithID sets the escalation ID
func (b *EscalationBuilder) WithID(id uint) *EscalationBuilder {
	b.escalation.ID = id
	return b
}

// WithTeam sets the destination team
func (b *EscalationBuilder) WithTeam(team string) *EscalationBuilder {
	b.escalation.Team = team
	return b
}

// WithTags sets the tags
func (b *EscalationBuilder) WithTags(tags ...string) *EscalationBuilder {
	b.escalation.Tags = tags
	return b
}

// WithThread sets the discussion thread
func (b *EscalationBuilder) WithThread(channel, ts string) *EscalationBuilder {
	b.escalation.ThreadChannelID = channel
	b.escalation.ThreadTS = ts
	return b
}

// Resolved marks the escalation resolved
func (b *EscalationBuilder) Resolved() *EscalationBuilder {
	now := time.Now()
	b.escalation.Status = database.EscalationStatusResolved
	b.escalation.ResolvedAt = &now
	return b
}

// Build returns the constructed escalation
func (b *EscalationBuilder) Build() database.Escalation {
	return b.escalation
}

// ========================================
// Query Builder
// ========================================

// QueryBuilder builds Query instances for testing
type QueryBuilder struct {
	query database.Query
}

// NewQueryBuilder creates a posted query on C1/100.1
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		query: database.Query{
			ChannelID: "C1",
			MessageTS: "100.1",
			AuthorID:  "U1",
			Text:      "The staging database is down",
			Status:    database.QueryStatusPosted,
		},
	}
}

// WithKey sets the natural key
func (b *QueryBuilder) WithKey(channel, ts string) *QueryBuilder {
	b.query.ChannelID = channel
	b.query.MessageTS = ts
	return b
}

// WithAuthor sets the author
func (b *QueryBuilder) WithAuthor(userID string) *QueryBuilder {
	b.query.AuthorID = userID
	return b
}

// WithText sets the message text
func (b *QueryBuilder) WithText(text string) *QueryBuilder {
	b.query.Text = text
	return b
}

// Build returns the constructed query
func (b *QueryBuilder) Build() database.Query {
	return b.query
}
