package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/api"
	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/middleware"
	"github.com/akmatori/ticketbot/internal/services"
)

// TicketAPIHandler exposes the ticket engine to the admin API
type TicketAPIHandler struct {
	tickets     *services.TicketService
	escalations *services.EscalationService
	logger      *zap.Logger
}

// NewTicketAPIHandler creates a new ticket API handler
func NewTicketAPIHandler(tickets *services.TicketService, escalations *services.EscalationService, logger *zap.Logger) *TicketAPIHandler {
	return &TicketAPIHandler{
		tickets:     tickets,
		escalations: escalations,
		logger:      logger,
	}
}

// SetupRoutes sets up the ticket routes
func (h *TicketAPIHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tickets", h.handleListTickets)
	mux.HandleFunc("GET /api/tickets/{id}", h.handleGetTicket)
	mux.HandleFunc("POST /api/tickets/{id}/submit", h.handleSubmit)
	mux.HandleFunc("POST /api/tickets/{id}/escalations", h.handleEscalate)
	mux.HandleFunc("POST /api/escalations/{id}/resolve", h.handleResolveEscalation)
}

// handleListTickets handles GET /api/tickets?status=&team=&page=&per_page=
func (h *TicketAPIHandler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := database.TicketStatus(q.Get("status"))
	if status != "" && !status.IsValid() {
		api.RespondValidationError(w, map[string]string{"status": "must be one of: opened stale closed"})
		return
	}

	params := api.ParsePagination(r)
	tickets, total, err := h.tickets.List(r.Context(), database.TicketFilter{
		Status: status,
		Team:   q.Get("team"),
		Limit:  params.PerPage,
		Offset: params.Offset(),
	})
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data:       api.TicketsToListItems(tickets),
		Pagination: params.Meta(total),
	})
}

// handleGetTicket handles GET /api/tickets/{id}
func (h *TicketAPIHandler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.ticketResponse(r, id)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

// handleSubmit handles POST /api/tickets/{id}/submit. A close held back by
// open escalations answers 409 and must be resubmitted with confirmed=true.
func (h *TicketAPIHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req api.SubmitTicketRequest
	fieldErrors, err := api.DecodeAndValidate(r, &req)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	result, err := h.tickets.Submit(r.Context(), services.Submission{
		TicketID:  id,
		Changes:   req.ToFieldChanges(),
		Confirmed: req.Confirmed,
		ActorID:   actorOf(r, req.ActorID),
	})
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}

	if result.RequiresConfirmation() {
		api.RespondJSON(w, http.StatusConflict, api.SubmitTicketResponse{
			Result:          string(result.Outcome),
			OpenEscalations: result.OpenEscalations,
		})
		return
	}

	resp, err := h.ticketResponse(r, id)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SubmitTicketResponse{
		Result: string(result.Outcome),
		Ticket: resp,
	})
}

// handleEscalate handles POST /api/tickets/{id}/escalations
func (h *TicketAPIHandler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req api.CreateEscalationRequest
	fieldErrors, err := api.DecodeAndValidate(r, &req)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	escReq := services.EscalationRequest{
		TicketID: id,
		Team:     req.Team,
		Tags:     req.Tags,
		ActorID:  actorOf(r, req.ActorID),
	}
	if req.ThreadTS != "" && req.ThreadChannelID != "" {
		escReq.ThreadRef = &database.MessageRef{ChannelID: req.ThreadChannelID, TS: req.ThreadTS}
	}

	e, err := h.escalations.Escalate(r.Context(), escReq)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}

	h.logger.Info("Escalation opened via API",
		zap.Uint("ticket_id", id),
		zap.Uint("escalation_id", e.ID),
		zap.String("team", e.Team),
		zap.String("actor", escReq.ActorID))
	api.RespondJSON(w, http.StatusCreated, api.EscalationToResponse(*e))
}

// handleResolveEscalation handles POST /api/escalations/{id}/resolve.
// Resolving twice succeeds with changed=false.
func (h *TicketAPIHandler) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, changed, err := h.escalations.Resolve(r.Context(), id, actorOf(r, ""))
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.ResolveEscalationResponse{
		Changed:    changed,
		Escalation: api.EscalationToResponse(*e),
	})
}

func (h *TicketAPIHandler) ticketResponse(r *http.Request, id uint) (*api.TicketResponse, error) {
	t, err := h.tickets.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	escalations, err := h.escalations.ListFor(r.Context(), id)
	if err != nil {
		return nil, err
	}
	resp := api.TicketToResponse(t, escalations)
	return &resp, nil
}

// actorOf prefers an explicit actor and falls back to the authenticated user
func actorOf(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return middleware.GetUserFromContext(r.Context())
}
