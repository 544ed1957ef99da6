package database

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// TicketStatus represents the lifecycle state of a ticket
type TicketStatus string

const (
	TicketStatusOpened TicketStatus = "opened"
	TicketStatusStale  TicketStatus = "stale"
	TicketStatusClosed TicketStatus = "closed"
)

// IsValid reports whether s is one of the known statuses.
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusOpened, TicketStatusStale, TicketStatusClosed:
		return true
	}
	return false
}

// NaturalKey identifies a ticket by the channel and timestamp of its root message.
type NaturalKey struct {
	ChannelID string `json:"channel_id"`
	MessageTS string `json:"message_ts"`
}

// IsZero reports whether either part of the key is missing.
func (k NaturalKey) IsZero() bool {
	return k.ChannelID == "" || k.MessageTS == ""
}

// MessageRef points at a single chat message.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	TS        string `json:"ts"`
}

// IsZero reports whether the reference is unset.
func (r MessageRef) IsZero() bool {
	return r.ChannelID == "" || r.TS == ""
}

// StatusLogEntry records one status the ticket entered.
type StatusLogEntry struct {
	Status TicketStatus `json:"status"`
	At     time.Time    `json:"at"`
}

// Ticket is a support request raised by a root message in the source channel.
type Ticket struct {
	ID          uint                                `gorm:"primaryKey" json:"id"`
	ChannelID   string                              `gorm:"type:varchar(32);not null;uniqueIndex:idx_tickets_natural_key,priority:1" json:"channel_id"`
	MessageTS   string                              `gorm:"type:varchar(32);not null;uniqueIndex:idx_tickets_natural_key,priority:2" json:"message_ts"`
	Status      TicketStatus                        `gorm:"type:varchar(16);not null;default:'opened';index" json:"status"`
	Team        *string                             `gorm:"type:varchar(64)" json:"team,omitempty"`
	Impact      *string                             `gorm:"type:varchar(64)" json:"impact,omitempty"`
	Tags        datatypes.JSONSlice[string]         `json:"tags"`
	AssignedTo  *string                             `gorm:"type:varchar(32)" json:"assigned_to,omitempty"`
	RequesterID string                              `gorm:"type:varchar(32)" json:"requester_id"`
	StatusLog   datatypes.JSONSlice[StatusLogEntry] `json:"status_log"`

	// Posted ticket form, empty until the first successful post
	FormChannelID string `gorm:"type:varchar(32)" json:"form_channel_id,omitempty"`
	FormMessageTS string `gorm:"type:varchar(32)" json:"form_message_ts,omitempty"`

	RatingSubmitted bool `gorm:"default:false" json:"rating_submitted"`
	Rating          *int `json:"rating,omitempty"`

	// Version is bumped on every write; updates compare-and-swap on it.
	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// Key returns the ticket's natural key.
func (t *Ticket) Key() NaturalKey {
	return NaturalKey{ChannelID: t.ChannelID, MessageTS: t.MessageTS}
}

// RootRef references the root message that raised the ticket.
func (t *Ticket) RootRef() MessageRef {
	return MessageRef{ChannelID: t.ChannelID, TS: t.MessageTS}
}

// HasForm reports whether the ticket form has been posted.
func (t *Ticket) HasForm() bool {
	return t.FormChannelID != "" && t.FormMessageTS != ""
}

// FormRef references the posted ticket form.
func (t *Ticket) FormRef() MessageRef {
	return MessageRef{ChannelID: t.FormChannelID, TS: t.FormMessageTS}
}

// TeamCode returns the team code or "" when absent.
func (t *Ticket) TeamCode() string {
	if t.Team == nil {
		return ""
	}
	return *t.Team
}

// ImpactCode returns the impact code or "" when absent.
func (t *Ticket) ImpactCode() string {
	if t.Impact == nil {
		return ""
	}
	return *t.Impact
}

// Assignee returns the assigned responder or "" when unassigned.
func (t *Ticket) Assignee() string {
	if t.AssignedTo == nil {
		return ""
	}
	return *t.AssignedTo
}

// SetStatus moves the ticket to status and appends the log entry, keeping
// the last log entry equal to Status. It returns false when status is
// already current.
func (t *Ticket) SetStatus(status TicketStatus, at time.Time) bool {
	if t.Status == status && len(t.StatusLog) > 0 {
		return false
	}
	t.Status = status
	t.StatusLog = append(t.StatusLog, StatusLogEntry{Status: status, At: at})
	return true
}

// OpenedAt returns the time of the first status log entry.
func (t *Ticket) OpenedAt() time.Time {
	if len(t.StatusLog) == 0 {
		return t.CreatedAt
	}
	return t.StatusLog[0].At
}

// Clone returns a copy that shares no slices or pointers with t.
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	c.StatusLog = slices.Clone(t.StatusLog)
	c.Team = clonePtr(t.Team)
	c.Impact = clonePtr(t.Impact)
	c.AssignedTo = clonePtr(t.AssignedTo)
	c.Rating = clonePtr(t.Rating)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
