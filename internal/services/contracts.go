package services

import (
	"context"
	"time"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/notify"
	"github.com/akmatori/ticketbot/internal/output"
)

// TicketRepository is the ticket persistence contract. Creation is
// create-if-absent on the natural key; updates are compare-and-swap.
type TicketRepository interface {
	CreateIfAbsent(ctx context.Context, t *database.Ticket) (*database.Ticket, bool, error)
	UpdateIfPresent(ctx context.Context, id uint, fn func(*database.Ticket) error) (*database.Ticket, error)
	FindByID(ctx context.Context, id uint) (*database.Ticket, error)
	FindByNaturalKey(ctx context.Context, key database.NaturalKey) (*database.Ticket, error)
	List(ctx context.Context, filter database.TicketFilter) ([]database.Ticket, int64, error)
	ListStaleCandidates(ctx context.Context, cutoff time.Time) ([]database.Ticket, error)
}

// EscalationRepository is the escalation persistence contract.
type EscalationRepository interface {
	Create(ctx context.Context, e *database.Escalation) error
	ResolveAllFor(ctx context.Context, ticketID uint, at time.Time) ([]uint, error)
	Resolve(ctx context.Context, id uint, at time.Time) (*database.Escalation, bool, error)
	CountOpenFor(ctx context.Context, ticketID uint) (int64, error)
	ListFor(ctx context.Context, ticketID uint) ([]database.Escalation, error)
	FindByID(ctx context.Context, id uint) (*database.Escalation, error)
}

// QueryRepository records root messages seen in the source channel.
type QueryRepository interface {
	CreateIfAbsent(ctx context.Context, q *database.Query) (bool, error)
	FindByNaturalKey(ctx context.Context, key database.NaturalKey) (*database.Query, error)
	MarkWithdrawn(ctx context.Context, key database.NaturalKey, at time.Time) (bool, error)
}

// UserIdentity is a chat user as resolved by the gateway.
type UserIdentity struct {
	ID    string
	Name  string
	Email string
}

// Gateway is the outbound side of the chat platform. Calls may fail or be
// slow; callers bound them with a context deadline.
type Gateway interface {
	// PostForm posts the ticket form as a reply in thread.
	PostForm(ctx context.Context, thread database.MessageRef, msg output.Message) (database.MessageRef, error)
	EditForm(ctx context.Context, ref database.MessageRef, msg output.Message) error
	// SetMarkerReaction adds or removes the closed marker on ref. Both
	// directions are idempotent.
	SetMarkerReaction(ctx context.Context, ref database.MessageRef, present bool) error
	// PostMessage posts msg in thread, or at the top level of
	// thread.ChannelID when thread.TS is empty.
	PostMessage(ctx context.Context, thread database.MessageRef, msg output.Message) (database.MessageRef, error)
	ResolveUserIdentity(ctx context.Context, userID string) (UserIdentity, error)
	GetPermalink(ctx context.Context, ref database.MessageRef) (string, error)
}

// Reflector schedules a ticket form refresh. It never fails the caller.
type Reflector interface {
	Reflect(ctx context.Context, ticketID uint)
}

// ReflectFunc adapts a function to Reflector.
type ReflectFunc func(ctx context.Context, ticketID uint)

func (f ReflectFunc) Reflect(ctx context.Context, ticketID uint) {
	f(ctx, ticketID)
}

// Publisher delivers fire-and-forget signals.
type Publisher interface {
	Publish(sig notify.Signal)
}
