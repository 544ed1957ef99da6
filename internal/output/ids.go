package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/akmatori/ticketbot/internal/database"
)

// Block action IDs on the ticket form, escalation list and rating prompt
const (
	ActionToggleStatus      = "ticket_toggle_status"
	ActionAssignSelf        = "ticket_assign_self"
	ActionEditTicket        = "ticket_edit"
	ActionOpenEscalation    = "ticket_escalate"
	ActionResolveEscalation = "escalation_resolve"
	ActionRate              = "ticket_rate"
)

// Modal callback IDs
const (
	CallbackTicketEdit   = "ticket_edit_modal"
	CallbackEscalate     = "ticket_escalate_modal"
	CallbackConfirmClose = "ticket_confirm_close_modal"
)

// Form field names. Each modal input uses the field name as both block ID
// and action ID.
const (
	FieldStatus   = "status"
	FieldTeam     = "team"
	FieldImpact   = "impact"
	FieldTags     = "tags"
	FieldAssignee = "assignee"
)

// EncodeKey renders a natural key as a button value.
func EncodeKey(key database.NaturalKey) string {
	return key.ChannelID + "/" + key.MessageTS
}

// DecodeKey parses a button value produced by EncodeKey.
func DecodeKey(value string) (database.NaturalKey, error) {
	channel, ts, ok := strings.Cut(value, "/")
	if !ok || channel == "" || ts == "" {
		return database.NaturalKey{}, fmt.Errorf("malformed ticket key %q", value)
	}
	return database.NaturalKey{ChannelID: channel, MessageTS: ts}, nil
}

// EncodeRating renders a rating button value.
func EncodeRating(ticketID uint, rating int) string {
	return fmt.Sprintf("%d:%d", ticketID, rating)
}

// DecodeRating parses a rating button value produced by EncodeRating.
func DecodeRating(value string) (uint, int, error) {
	idPart, ratingPart, ok := strings.Cut(value, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed rating %q", value)
	}
	id, err := ParseID(idPart)
	if err != nil {
		return 0, 0, err
	}
	rating, err := strconv.Atoi(ratingPart)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed rating %q: %w", value, err)
	}
	return id, rating, nil
}

// ParseID parses a ticket or escalation ID carried in a button value or
// modal metadata.
func ParseID(value string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("malformed id %q", value)
	}
	return uint(id), nil
}

// ConfirmCloseMetadata is carried in the close-confirmation modal so that its
// submission can replay the original change set.
type ConfirmCloseMetadata struct {
	TicketID uint                `json:"ticket_id"`
	Fields   map[string][]string `json:"fields"`
}

// Encode serializes the metadata for a modal's private_metadata.
func (m ConfirmCloseMetadata) Encode() string {
	data, _ := json.Marshal(m)
	return string(data)
}

// DecodeConfirmCloseMetadata parses private_metadata produced by Encode.
func DecodeConfirmCloseMetadata(raw string) (ConfirmCloseMetadata, error) {
	var m ConfirmCloseMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return m, fmt.Errorf("decode confirmation metadata: %w", err)
	}
	if m.TicketID == 0 {
		return m, fmt.Errorf("confirmation metadata has no ticket id")
	}
	return m, nil
}
