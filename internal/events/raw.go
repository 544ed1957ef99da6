package events

// Raw is an inbound chat notification before normalization.
type Raw interface {
	raw()
}

// FormKind identifies which modal produced a RawFormSubmitted.
type FormKind string

const (
	FormTicket   FormKind = "ticket"
	FormEscalate FormKind = "escalate"
)

// RawMessagePosted is a message posted in any channel.
type RawMessagePosted struct {
	Channel       string
	TS            string
	AuthorID      string
	Text          string
	IsThreadReply bool
	FromBot       bool
}

// RawReactionAdded is a reaction added to any message.
type RawReactionAdded struct {
	Channel       string
	ItemTS        string
	Reaction      string
	ActorID       string
	IsThreadReply bool
}

// RawMessageDeleted is a message removed from any channel.
type RawMessageDeleted struct {
	Channel       string
	TS            string
	IsThreadReply bool
}

// RawFormSubmitted is a submitted modal. Fields maps field names to the
// selected values; a present key with no values clears the field.
type RawFormSubmitted struct {
	Form      FormKind
	TicketID  string
	Fields    map[string][]string
	Confirmed bool
	UserID    string
}

// RawAction is a button click on a bot message.
type RawAction struct {
	ActionID string
	Value    string
	UserID   string
}

func (RawMessagePosted) raw()  {}
func (RawReactionAdded) raw()  {}
func (RawMessageDeleted) raw() {}
func (RawFormSubmitted) raw()  {}
func (RawAction) raw()         {}
