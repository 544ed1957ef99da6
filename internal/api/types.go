package api

import (
	"time"

	"github.com/akmatori/ticketbot/internal/database"
)

// ========== Ticket Types ==========

// SubmitTicketRequest is the request body for POST /api/tickets/:id/submit.
// Absent fields are left unchanged; an empty string clears team, impact or
// assignee.
type SubmitTicketRequest struct {
	Status     *string  `json:"status" validate:"omitempty,oneof=opened stale closed"`
	Team       *string  `json:"team" validate:"omitempty,max=64"`
	Impact     *string  `json:"impact" validate:"omitempty,max=64"`
	Tags       []string `json:"tags" validate:"omitempty,dive,required,max=64"`
	AssignedTo *string  `json:"assigned_to" validate:"omitempty,max=32"`
	Confirmed  bool     `json:"confirmed"`
	ActorID    string   `json:"actor_id" validate:"omitempty,max=32"`
}

// SubmitTicketResponse is the response body for POST /api/tickets/:id/submit.
type SubmitTicketResponse struct {
	Result          string          `json:"result"`
	OpenEscalations int64           `json:"open_escalations,omitempty"`
	Ticket          *TicketResponse `json:"ticket,omitempty"`
}

// TicketResponse is a ticket with its escalations.
type TicketResponse struct {
	database.Ticket
	Escalations []EscalationResponse `json:"escalations"`
}

// TicketListItem is a compact representation of a ticket for list views.
// It omits the status log.
type TicketListItem struct {
	ID          uint                  `json:"id"`
	ChannelID   string                `json:"channel_id"`
	MessageTS   string                `json:"message_ts"`
	Status      database.TicketStatus `json:"status"`
	Team        *string               `json:"team,omitempty"`
	Impact      *string               `json:"impact,omitempty"`
	Tags        []string              `json:"tags"`
	AssignedTo  *string               `json:"assigned_to,omitempty"`
	RequesterID string                `json:"requester_id"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// ========== Escalation Types ==========

// CreateEscalationRequest is the request body for POST /api/tickets/:id/escalations.
type CreateEscalationRequest struct {
	Team     string   `json:"team" validate:"required,max=64"`
	Tags     []string `json:"tags" validate:"omitempty,dive,required,max=64"`
	ThreadTS string   `json:"thread_ts" validate:"omitempty,max=32"`
	// ThreadChannelID is required together with ThreadTS
	ThreadChannelID string `json:"thread_channel_id" validate:"required_with=ThreadTS,max=32"`
	ActorID         string `json:"actor_id" validate:"omitempty,max=32"`
}

// EscalationResponse is the API representation of an escalation.
type EscalationResponse struct {
	ID              uint                      `json:"id"`
	TicketID        uint                      `json:"ticket_id"`
	Status          database.EscalationStatus `json:"status"`
	Team            string                    `json:"team"`
	Tags            []string                  `json:"tags"`
	ThreadChannelID string                    `json:"thread_channel_id,omitempty"`
	ThreadTS        string                    `json:"thread_ts,omitempty"`
	CreatedBy       string                    `json:"created_by,omitempty"`
	OpenedAt        time.Time                 `json:"opened_at"`
	ResolvedAt      *time.Time                `json:"resolved_at,omitempty"`
}

// ResolveEscalationResponse is the response body for POST /api/escalations/:id/resolve.
type ResolveEscalationResponse struct {
	Changed    bool               `json:"changed"`
	Escalation EscalationResponse `json:"escalation"`
}

// ========== Auth Types ==========

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the response body for POST /auth/login.
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresIn int    `json:"expires_in"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
