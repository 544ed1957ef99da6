// Package events turns raw chat notifications into the closed set of
// instructions the ticket engine understands.
package events

import (
	"github.com/akmatori/ticketbot/internal/database"
)

// Kind names a normalized event
type Kind string

const (
	KindQueryPosted                Kind = "query_posted"
	KindReactionAdded              Kind = "reaction_added"
	KindQueryWithdrawn             Kind = "query_withdrawn"
	KindFormSubmitted              Kind = "form_submitted"
	KindStatusToggleRequested      Kind = "status_toggle_requested"
	KindAssignRequested            Kind = "assign_requested"
	KindEscalationRequested        Kind = "escalation_requested"
	KindEscalationResolveRequested Kind = "escalation_resolve_requested"
	KindRatingSubmitted            Kind = "rating_submitted"
)

// Event is a normalized instruction. The set of implementations is closed:
// only types in this package satisfy it.
type Event interface {
	Kind() Kind
	sealed()
}

// FieldChanges is a batch of ticket field edits. Nil pointers leave a field
// unchanged; a pointer to "" clears it. Tags is nil when unchanged and an
// empty non-nil slice when cleared.
type FieldChanges struct {
	Status     *database.TicketStatus
	Team       *string
	Impact     *string
	Tags       []string
	AssignedTo *string
}

// IsEmpty reports whether no field is being changed.
func (c FieldChanges) IsEmpty() bool {
	return c.Status == nil && c.Team == nil && c.Impact == nil && c.Tags == nil && c.AssignedTo == nil
}

// QueryPosted is a new root message in the source channel.
type QueryPosted struct {
	Key      database.NaturalKey
	AuthorID string
	Text     string
}

// ReactionAdded is a reaction on a root message in the source channel.
type ReactionAdded struct {
	Key      database.NaturalKey
	Reaction string
	ActorID  string
}

// QueryWithdrawn is the deletion of a root message in the source channel.
type QueryWithdrawn struct {
	Key database.NaturalKey
}

// FormSubmitted applies a batch of field changes to a ticket.
type FormSubmitted struct {
	TicketID  uint
	Changes   FieldChanges
	Confirmed bool
	ActorID   string
}

// StatusToggleRequested flips a ticket between open and closed.
type StatusToggleRequested struct {
	Key     database.NaturalKey
	ActorID string
}

// AssignRequested assigns a ticket to a responder.
type AssignRequested struct {
	TicketID   uint
	AssigneeID string
	ActorID    string
}

// EscalationRequested hands a ticket to another team.
type EscalationRequested struct {
	TicketID  uint
	Team      string
	Tags      []string
	ThreadRef *database.MessageRef
	ActorID   string
}

// EscalationResolveRequested resolves a single escalation.
type EscalationResolveRequested struct {
	EscalationID uint
	ActorID      string
}

// RatingSubmitted records the requester's rating of a closed ticket.
type RatingSubmitted struct {
	TicketID uint
	Rating   int
	ActorID  string
}

func (QueryPosted) Kind() Kind                { return KindQueryPosted }
func (ReactionAdded) Kind() Kind              { return KindReactionAdded }
func (QueryWithdrawn) Kind() Kind             { return KindQueryWithdrawn }
func (FormSubmitted) Kind() Kind              { return KindFormSubmitted }
func (StatusToggleRequested) Kind() Kind      { return KindStatusToggleRequested }
func (AssignRequested) Kind() Kind            { return KindAssignRequested }
func (EscalationRequested) Kind() Kind        { return KindEscalationRequested }
func (EscalationResolveRequested) Kind() Kind { return KindEscalationResolveRequested }
func (RatingSubmitted) Kind() Kind            { return KindRatingSubmitted }

func (QueryPosted) sealed()                {}
func (ReactionAdded) sealed()              {}
func (QueryWithdrawn) sealed()             {}
func (FormSubmitted) sealed()              {}
func (StatusToggleRequested) sealed()      {}
func (AssignRequested) sealed()            {}
func (EscalationRequested) sealed()        {}
func (EscalationResolveRequested) sealed() {}
func (RatingSubmitted) sealed()            {}
