package events

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/observability"
	"github.com/akmatori/ticketbot/internal/output"
)

// Normalizer maps raw notifications to events. It has no side effects other
// than logging and metrics, and never returns an error: anything it cannot
// map is reported as ignored.
type Normalizer struct {
	sourceChannel string
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// NewNormalizer creates a normalizer watching sourceChannel.
func NewNormalizer(sourceChannel string, logger *zap.Logger, metrics *observability.Metrics) *Normalizer {
	return &Normalizer{
		sourceChannel: sourceChannel,
		logger:        logger,
		metrics:       metrics,
	}
}

// Normalize returns the event for raw, or false if it should be ignored.
func (n *Normalizer) Normalize(raw Raw) (Event, bool) {
	var (
		ev Event
		ok bool
	)
	switch r := raw.(type) {
	case RawMessagePosted:
		ev, ok = n.messagePosted(r)
	case RawReactionAdded:
		ev, ok = n.reactionAdded(r)
	case RawMessageDeleted:
		ev, ok = n.messageDeleted(r)
	case RawFormSubmitted:
		ev, ok = n.formSubmitted(r)
	case RawAction:
		ev, ok = n.action(r)
	default:
		n.logger.Warn("dropping unsupported raw event", zap.String("type", fmt.Sprintf("%T", raw)))
		return nil, false
	}
	if ok {
		n.metrics.EventNormalized(string(ev.Kind()))
	}
	return ev, ok
}

func (n *Normalizer) watched(channel string) bool {
	return channel != "" && channel == n.sourceChannel
}

func (n *Normalizer) messagePosted(r RawMessagePosted) (Event, bool) {
	if !n.watched(r.Channel) || r.IsThreadReply || r.FromBot {
		return nil, false
	}
	if r.TS == "" {
		n.malformed("message_posted", "missing timestamp", zap.String("channel", r.Channel))
		return nil, false
	}
	return QueryPosted{
		Key:      database.NaturalKey{ChannelID: r.Channel, MessageTS: r.TS},
		AuthorID: r.AuthorID,
		Text:     r.Text,
	}, true
}

func (n *Normalizer) reactionAdded(r RawReactionAdded) (Event, bool) {
	if !n.watched(r.Channel) || r.IsThreadReply {
		return nil, false
	}
	if r.ItemTS == "" || r.Reaction == "" {
		n.malformed("reaction_added", "missing item or reaction", zap.String("channel", r.Channel))
		return nil, false
	}
	return ReactionAdded{
		Key:      database.NaturalKey{ChannelID: r.Channel, MessageTS: r.ItemTS},
		Reaction: strings.Trim(r.Reaction, ":"),
		ActorID:  r.ActorID,
	}, true
}

// messageDeleted reports every root deletion as a withdrawal. Whether the
// ticket already has a form, which makes the deletion a no-op, is decided by
// the engine against stored state.
func (n *Normalizer) messageDeleted(r RawMessageDeleted) (Event, bool) {
	if !n.watched(r.Channel) || r.IsThreadReply {
		return nil, false
	}
	if r.TS == "" {
		n.malformed("message_deleted", "missing timestamp", zap.String("channel", r.Channel))
		return nil, false
	}
	return QueryWithdrawn{Key: database.NaturalKey{ChannelID: r.Channel, MessageTS: r.TS}}, true
}

func (n *Normalizer) formSubmitted(r RawFormSubmitted) (Event, bool) {
	ticketID, err := output.ParseID(r.TicketID)
	if err != nil {
		n.malformed("form_submitted", err.Error(), zap.String("form", string(r.Form)))
		return nil, false
	}

	switch r.Form {
	case FormTicket:
		changes := parseChanges(r.Fields)
		if changes.IsEmpty() {
			n.malformed("form_submitted", "no fields", zap.Uint("ticket_id", ticketID))
			return nil, false
		}
		return FormSubmitted{
			TicketID:  ticketID,
			Changes:   changes,
			Confirmed: r.Confirmed,
			ActorID:   r.UserID,
		}, true
	case FormEscalate:
		team := first(r.Fields[output.FieldTeam])
		if team == "" {
			n.malformed("form_submitted", "escalation without team", zap.Uint("ticket_id", ticketID))
			return nil, false
		}
		return EscalationRequested{
			TicketID: ticketID,
			Team:     team,
			Tags:     nonEmpty(r.Fields[output.FieldTags]),
			ActorID:  r.UserID,
		}, true
	default:
		n.malformed("form_submitted", "unknown form", zap.String("form", string(r.Form)))
		return nil, false
	}
}

func (n *Normalizer) action(r RawAction) (Event, bool) {
	switch r.ActionID {
	case output.ActionToggleStatus:
		key, err := output.DecodeKey(r.Value)
		if err != nil {
			n.malformed("action", err.Error(), zap.String("action_id", r.ActionID))
			return nil, false
		}
		return StatusToggleRequested{Key: key, ActorID: r.UserID}, true
	case output.ActionAssignSelf:
		ticketID, err := output.ParseID(r.Value)
		if err != nil || r.UserID == "" {
			n.malformed("action", "bad assignment", zap.String("value", r.Value))
			return nil, false
		}
		return AssignRequested{TicketID: ticketID, AssigneeID: r.UserID, ActorID: r.UserID}, true
	case output.ActionResolveEscalation:
		escalationID, err := output.ParseID(r.Value)
		if err != nil {
			n.malformed("action", err.Error(), zap.String("action_id", r.ActionID))
			return nil, false
		}
		return EscalationResolveRequested{EscalationID: escalationID, ActorID: r.UserID}, true
	case output.ActionRate:
		ticketID, rating, err := output.DecodeRating(r.Value)
		if err != nil {
			n.malformed("action", err.Error(), zap.String("action_id", r.ActionID))
			return nil, false
		}
		return RatingSubmitted{TicketID: ticketID, Rating: rating, ActorID: r.UserID}, true
	default:
		n.logger.Debug("ignoring action", zap.String("action_id", r.ActionID))
		return nil, false
	}
}

func (n *Normalizer) malformed(kind, reason string, fields ...zap.Field) {
	n.logger.Warn("dropping malformed event",
		append([]zap.Field{zap.String("kind", kind), zap.String("reason", reason)}, fields...)...)
}

// parseChanges reads the ticket form's fields. Only keys present in fields
// produce a change.
func parseChanges(fields map[string][]string) FieldChanges {
	var c FieldChanges
	if values, ok := fields[output.FieldStatus]; ok {
		status := database.TicketStatus(first(values))
		c.Status = &status
	}
	if values, ok := fields[output.FieldTeam]; ok {
		team := first(values)
		c.Team = &team
	}
	if values, ok := fields[output.FieldImpact]; ok {
		impact := first(values)
		c.Impact = &impact
	}
	if values, ok := fields[output.FieldTags]; ok {
		c.Tags = nonEmpty(values)
	}
	if values, ok := fields[output.FieldAssignee]; ok {
		assignee := first(values)
		c.AssignedTo = &assignee
	}
	return c
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// nonEmpty returns the trimmed non-empty values, always as a non-nil slice.
func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
