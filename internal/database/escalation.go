package database

import (
	"time"

	"gorm.io/datatypes"
)

// EscalationStatus represents the state of an escalation
type EscalationStatus string

const (
	EscalationStatusOpened   EscalationStatus = "opened"
	EscalationStatusResolved EscalationStatus = "resolved"
)

// Escalation hands a ticket off to another team. Team and tags are fixed at
// creation; only Status and ResolvedAt change afterwards.
type Escalation struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	TicketID        uint                        `gorm:"not null;index:idx_escalations_ticket_status,priority:1" json:"ticket_id"`
	Status          EscalationStatus            `gorm:"type:varchar(16);not null;default:'opened';index:idx_escalations_ticket_status,priority:2" json:"status"`
	Team            string                      `gorm:"type:varchar(64);not null" json:"team"`
	Tags            datatypes.JSONSlice[string] `json:"tags"`
	ThreadChannelID string                      `gorm:"type:varchar(32)" json:"thread_channel_id"`
	ThreadTS        string                      `gorm:"type:varchar(32)" json:"thread_ts"`
	CreatedBy       string                      `gorm:"type:varchar(32)" json:"created_by,omitempty"`
	OpenedAt        time.Time                   `json:"opened_at"`
	ResolvedAt      *time.Time                  `json:"resolved_at,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

func (Escalation) TableName() string {
	return "escalations"
}

// ThreadRef references the discussion thread for the escalation.
func (e *Escalation) ThreadRef() MessageRef {
	return MessageRef{ChannelID: e.ThreadChannelID, TS: e.ThreadTS}
}

// IsOpen reports whether the escalation is still unresolved.
func (e *Escalation) IsOpen() bool {
	return e.Status == EscalationStatusOpened
}
