package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/apperr"
	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/lock"
	"github.com/akmatori/ticketbot/internal/notify"
	"github.com/akmatori/ticketbot/internal/observability"
	"github.com/akmatori/ticketbot/internal/registry"
)

// EscalationRequest asks for a ticket to be handed to another team.
// ThreadRef defaults to the ticket's own thread.
type EscalationRequest struct {
	TicketID  uint
	Team      string
	Tags      []string
	ThreadRef *database.MessageRef
	ActorID   string
}

// EscalationServiceDeps wires an EscalationService.
type EscalationServiceDeps struct {
	Tickets     TicketRepository
	Escalations EscalationRepository
	Locker      lock.Locker
	Reflector   Reflector
	Publisher   Publisher
	Registry    *registry.Registry
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// EscalationService creates and resolves escalations.
type EscalationService struct {
	tickets     TicketRepository
	escalations EscalationRepository
	locker      lock.Locker
	reflector   Reflector
	publisher   Publisher
	registry    *registry.Registry
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewEscalationService creates a new escalation service
func NewEscalationService(deps EscalationServiceDeps) *EscalationService {
	return &EscalationService{
		tickets:     deps.Tickets,
		escalations: deps.Escalations,
		locker:      deps.Locker,
		reflector:   deps.Reflector,
		publisher:   deps.Publisher,
		registry:    deps.Registry,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// Escalate opens an escalation on a ticket that is not closed. It holds the
// ticket lock so a concurrent close sees the new escalation in its guard.
func (s *EscalationService) Escalate(ctx context.Context, req EscalationRequest) (*database.Escalation, error) {
	if req.Team == "" {
		return nil, apperr.NewValidation("team is required", nil)
	}
	if _, ok := s.registry.Team(req.Team); !ok {
		return nil, apperr.NewValidation("unknown team", map[string]any{"team": req.Team})
	}
	if err := validateTags(s.registry, req.Tags); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.TicketKey(req.TicketID))
	if err != nil {
		return nil, apperr.NewUnavailable("lock ticket", err)
	}
	defer unlock()

	t, err := s.tickets.FindByID(ctx, req.TicketID)
	if err != nil {
		return nil, storeError("load ticket", "ticket", req.TicketID, err)
	}
	if t.Status == database.TicketStatusClosed {
		return nil, apperr.NewPolicy(fmt.Sprintf("ticket %d is closed and cannot be escalated", t.ID))
	}

	thread := t.RootRef()
	if req.ThreadRef != nil && !req.ThreadRef.IsZero() {
		thread = *req.ThreadRef
	}

	e := &database.Escalation{
		TicketID:        t.ID,
		Status:          database.EscalationStatusOpened,
		Team:            req.Team,
		Tags:            normalizeTags(req.Tags),
		ThreadChannelID: thread.ChannelID,
		ThreadTS:        thread.TS,
		CreatedBy:       req.ActorID,
		OpenedAt:        s.now(),
	}
	if err := s.escalations.Create(ctx, e); err != nil {
		s.logger.Error("Failed to create escalation", zap.Uint("ticket_id", t.ID), zap.Error(err))
		return nil, apperr.NewUnavailable("create escalation", err)
	}

	s.metrics.Escalation("opened", 1)
	s.logger.Info("Escalation opened",
		zap.Uint("ticket_id", t.ID),
		zap.Uint("escalation_id", e.ID),
		zap.String("team", e.Team))
	s.publisher.Publish(notify.Signal{
		Type:         notify.EscalationOpened,
		TicketID:     t.ID,
		EscalationID: e.ID,
		Key:          t.Key(),
		ActorID:      req.ActorID,
	})
	s.reflector.Reflect(ctx, t.ID)
	return e, nil
}

// resolveAllOpenFor resolves every open escalation of the ticket and
// publishes EscalationResolved for each one it moved. It is the cascade
// step of a confirmed close; the caller reflects the form.
func (s *EscalationService) resolveAllOpenFor(ctx context.Context, ticketID uint, actorID string) (int, error) {
	ids, err := s.escalations.ResolveAllFor(ctx, ticketID, s.now())
	if err != nil {
		s.logger.Error("Failed to resolve escalations", zap.Uint("ticket_id", ticketID), zap.Error(err))
		return 0, apperr.NewUnavailable("resolve escalations", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	s.metrics.Escalation("resolved", len(ids))
	s.logger.Info("Escalations resolved on close",
		zap.Uint("ticket_id", ticketID),
		zap.Uints("escalation_ids", ids))
	for _, id := range ids {
		s.publisher.Publish(notify.Signal{
			Type:         notify.EscalationResolved,
			TicketID:     ticketID,
			EscalationID: id,
			ActorID:      actorID,
		})
	}
	return len(ids), nil
}

// Resolve resolves a single escalation. Resolving an already resolved
// escalation returns it with changed=false.
func (s *EscalationService) Resolve(ctx context.Context, escalationID uint, actorID string) (*database.Escalation, bool, error) {
	e, changed, err := s.escalations.Resolve(ctx, escalationID, s.now())
	if err != nil {
		return nil, false, storeError("resolve escalation", "escalation", escalationID, err)
	}
	if !changed {
		return e, false, nil
	}

	s.metrics.Escalation("resolved", 1)
	s.logger.Info("Escalation resolved",
		zap.Uint("ticket_id", e.TicketID),
		zap.Uint("escalation_id", e.ID),
		zap.String("actor", actorID))
	s.publisher.Publish(notify.Signal{
		Type:         notify.EscalationResolved,
		TicketID:     e.TicketID,
		EscalationID: e.ID,
		ActorID:      actorID,
	})
	s.reflector.Reflect(ctx, e.TicketID)
	return e, true, nil
}

// CountOpenFor counts the ticket's open escalations
func (s *EscalationService) CountOpenFor(ctx context.Context, ticketID uint) (int64, error) {
	n, err := s.escalations.CountOpenFor(ctx, ticketID)
	if err != nil {
		return 0, apperr.NewUnavailable("count escalations", err)
	}
	return n, nil
}

// ListFor returns the ticket's escalations in the order they were opened
func (s *EscalationService) ListFor(ctx context.Context, ticketID uint) ([]database.Escalation, error) {
	escalations, err := s.escalations.ListFor(ctx, ticketID)
	if err != nil {
		return nil, apperr.NewUnavailable("list escalations", err)
	}
	return escalations, nil
}
