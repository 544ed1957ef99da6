package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/apperr"
	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/events"
	"github.com/akmatori/ticketbot/internal/lock"
	"github.com/akmatori/ticketbot/internal/notify"
	"github.com/akmatori/ticketbot/internal/observability"
	"github.com/akmatori/ticketbot/internal/registry"
)

// Outcome is the result class of a submission.
type Outcome string

const (
	// OutcomeCommitted means the change was written.
	OutcomeCommitted Outcome = "committed"
	// OutcomeUnchanged means the ticket already matched the submission.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeRequiresConfirmation means a close was held back because the
	// ticket has open escalations. Nothing was written.
	OutcomeRequiresConfirmation Outcome = "requires_confirmation"
)

// SubmitResult is what Submit and ToggleStatus return. Ticket is the current
// state after the call.
type SubmitResult struct {
	Outcome         Outcome
	Ticket          *database.Ticket
	OpenEscalations int64
}

// RequiresConfirmation reports whether the caller must resubmit with
// Confirmed set.
func (r SubmitResult) RequiresConfirmation() bool {
	return r.Outcome == OutcomeRequiresConfirmation
}

// Submission is a batch of field changes applied as one transition.
type Submission struct {
	TicketID  uint
	Changes   events.FieldChanges
	Confirmed bool
	ActorID   string
}

// TicketAttrs are the initial attributes of a new ticket.
type TicketAttrs struct {
	RequesterID string
	Team        *string
	Impact      *string
	Tags        []string
}

// TicketPolicy carries the deployment switches the engine honours.
type TicketPolicy struct {
	// OpenReaction is the reaction name that raises a ticket.
	OpenReaction      string
	AssignmentEnabled bool
}

// TicketServiceDeps wires a TicketService.
type TicketServiceDeps struct {
	Tickets     TicketRepository
	Queries     QueryRepository
	Escalations *EscalationService
	Locker      lock.Locker
	Reflector   Reflector
	Publisher   Publisher
	Registry    *registry.Registry
	Policy      TicketPolicy
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// TicketService owns the ticket state machine. Status changes go through
// Submit so the close guard and the escalation cascade always apply.
type TicketService struct {
	tickets     TicketRepository
	queries     QueryRepository
	escalations *EscalationService
	locker      lock.Locker
	reflector   Reflector
	publisher   Publisher
	registry    *registry.Registry
	policy      TicketPolicy
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewTicketService creates a new ticket service
func NewTicketService(deps TicketServiceDeps) *TicketService {
	return &TicketService{
		tickets:     deps.Tickets,
		queries:     deps.Queries,
		escalations: deps.Escalations,
		locker:      deps.Locker,
		reflector:   deps.Reflector,
		publisher:   deps.Publisher,
		registry:    deps.Registry,
		policy:      deps.Policy,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// HandleEvent applies a normalized event. Every event kind is handled here;
// duplicates and events that do not apply come back as OutcomeUnchanged.
func (s *TicketService) HandleEvent(ctx context.Context, ev events.Event) (SubmitResult, error) {
	switch e := ev.(type) {
	case events.QueryPosted:
		return s.recordQuery(ctx, e)
	case events.ReactionAdded:
		return s.handleReaction(ctx, e)
	case events.QueryWithdrawn:
		withdrawn, err := s.Withdraw(ctx, e.Key)
		return outcomeOf(withdrawn, nil), err
	case events.FormSubmitted:
		return s.Submit(ctx, Submission{
			TicketID:  e.TicketID,
			Changes:   e.Changes,
			Confirmed: e.Confirmed,
			ActorID:   e.ActorID,
		})
	case events.StatusToggleRequested:
		return s.ToggleStatus(ctx, e.Key, e.ActorID)
	case events.AssignRequested:
		t, changed, err := s.Assign(ctx, e.TicketID, e.AssigneeID, e.ActorID)
		return outcomeOf(changed, t), err
	case events.EscalationRequested:
		_, err := s.escalations.Escalate(ctx, EscalationRequest{
			TicketID:  e.TicketID,
			Team:      e.Team,
			Tags:      e.Tags,
			ThreadRef: e.ThreadRef,
			ActorID:   e.ActorID,
		})
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Outcome: OutcomeCommitted}, nil
	case events.EscalationResolveRequested:
		_, changed, err := s.escalations.Resolve(ctx, e.EscalationID, e.ActorID)
		return outcomeOf(changed, nil), err
	case events.RatingSubmitted:
		t, changed, err := s.SubmitRating(ctx, e.TicketID, e.Rating, e.ActorID)
		return outcomeOf(changed, t), err
	default:
		return SubmitResult{}, fmt.Errorf("unhandled event %T", ev)
	}
}

func outcomeOf(changed bool, t *database.Ticket) SubmitResult {
	if changed {
		return SubmitResult{Outcome: OutcomeCommitted, Ticket: t}
	}
	return SubmitResult{Outcome: OutcomeUnchanged, Ticket: t}
}

func (s *TicketService) recordQuery(ctx context.Context, e events.QueryPosted) (SubmitResult, error) {
	created, err := s.queries.CreateIfAbsent(ctx, &database.Query{
		ChannelID: e.Key.ChannelID,
		MessageTS: e.Key.MessageTS,
		AuthorID:  e.AuthorID,
		Text:      e.Text,
	})
	if err != nil {
		return SubmitResult{}, apperr.NewUnavailable("record query", err)
	}
	return outcomeOf(created, nil), nil
}

func (s *TicketService) handleReaction(ctx context.Context, e events.ReactionAdded) (SubmitResult, error) {
	if e.Reaction != s.policy.OpenReaction {
		s.logger.Debug("Ignoring reaction",
			zap.String("reaction", e.Reaction),
			zap.String("channel", e.Key.ChannelID),
			zap.String("ts", e.Key.MessageTS))
		return SubmitResult{Outcome: OutcomeUnchanged}, nil
	}

	attrs := TicketAttrs{}
	q, err := s.queries.FindByNaturalKey(ctx, e.Key)
	switch {
	case err == nil:
		if q.Status == database.QueryStatusWithdrawn {
			return SubmitResult{Outcome: OutcomeUnchanged}, nil
		}
		attrs.RequesterID = q.AuthorID
	case errors.Is(err, database.ErrNotFound):
	default:
		return SubmitResult{}, apperr.NewUnavailable("load query", err)
	}

	t, created, err := s.CreateIfAbsent(ctx, e.Key, attrs)
	return outcomeOf(created, t), err
}

// CreateIfAbsent returns the ticket for key, creating it on first call. Only
// the call that creates the ticket posts the initial form.
func (s *TicketService) CreateIfAbsent(ctx context.Context, key database.NaturalKey, attrs TicketAttrs) (*database.Ticket, bool, error) {
	if key.IsZero() {
		return nil, false, apperr.NewValidation("natural key is required", nil)
	}

	t, created, err := s.tickets.CreateIfAbsent(ctx, &database.Ticket{
		ChannelID:   key.ChannelID,
		MessageTS:   key.MessageTS,
		Status:      database.TicketStatusOpened,
		RequesterID: attrs.RequesterID,
		Team:        attrs.Team,
		Impact:      attrs.Impact,
		Tags:        normalizeTags(attrs.Tags),
	})
	if err != nil {
		s.logger.Error("Failed to create ticket",
			zap.String("channel", key.ChannelID),
			zap.String("ts", key.MessageTS),
			zap.Error(err))
		return nil, false, apperr.NewUnavailable("create ticket", err)
	}
	if !created {
		return t, false, nil
	}

	s.metrics.TicketCreated()
	s.logger.Info("Ticket created",
		zap.Uint("ticket_id", t.ID),
		zap.String("channel", key.ChannelID),
		zap.String("ts", key.MessageTS))
	s.reflector.Reflect(ctx, t.ID)
	return t, true, nil
}

// Submit applies a batch of field changes. Closing a ticket with open
// escalations returns OutcomeRequiresConfirmation and writes nothing unless
// the submission is confirmed, in which case the open escalations are
// resolved after the close is written.
func (s *TicketService) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	if sub.Changes.IsEmpty() {
		return SubmitResult{}, apperr.NewValidation("submission has no changes", nil)
	}
	if err := s.validate(sub.Changes); err != nil {
		return SubmitResult{}, err
	}
	if sub.Changes.AssignedTo != nil && !s.policy.AssignmentEnabled {
		sub.Changes.AssignedTo = nil
		if sub.Changes.IsEmpty() {
			return SubmitResult{Outcome: OutcomeUnchanged}, nil
		}
	}

	unlock, err := s.locker.Lock(ctx, lock.TicketKey(sub.TicketID))
	if err != nil {
		return SubmitResult{}, apperr.NewUnavailable("lock ticket", err)
	}
	defer unlock()

	current, err := s.tickets.FindByID(ctx, sub.TicketID)
	if err != nil {
		return SubmitResult{}, storeError("load ticket", "ticket", sub.TicketID, err)
	}

	closing := sub.Changes.Status != nil && *sub.Changes.Status == database.TicketStatusClosed
	if closing && !sub.Confirmed {
		open, err := s.escalations.CountOpenFor(ctx, sub.TicketID)
		if err != nil {
			return SubmitResult{}, err
		}
		if open > 0 {
			s.metrics.ConfirmationRequired()
			s.logger.Info("Close requires confirmation",
				zap.Uint("ticket_id", sub.TicketID),
				zap.Int64("open_escalations", open))
			return SubmitResult{
				Outcome:         OutcomeRequiresConfirmation,
				Ticket:          current,
				OpenEscalations: open,
			}, nil
		}
	}

	now := s.now()
	updated, err := s.tickets.UpdateIfPresent(ctx, sub.TicketID, func(t *database.Ticket) error {
		return applyChanges(t, sub.Changes, now)
	})
	changed := true
	if errors.Is(err, database.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		s.logger.Error("Failed to update ticket", zap.Uint("ticket_id", sub.TicketID), zap.Error(err))
		return SubmitResult{}, storeError("update ticket", "ticket", sub.TicketID, err)
	}

	// The write is committed: signal before anything else can fail.
	if changed && updated.Status != current.Status {
		s.statusChanged(updated, sub.ActorID)
	}

	resolved := 0
	if closing && sub.Confirmed {
		resolved, err = s.escalations.resolveAllOpenFor(ctx, sub.TicketID, sub.ActorID)
		if err != nil {
			// the stored close still has to reach the form
			if changed {
				s.reflector.Reflect(ctx, sub.TicketID)
			}
			return SubmitResult{}, err
		}
	}

	if !changed && resolved == 0 {
		return SubmitResult{Outcome: OutcomeUnchanged, Ticket: updated}, nil
	}
	s.reflector.Reflect(ctx, sub.TicketID)
	return SubmitResult{Outcome: OutcomeCommitted, Ticket: updated}, nil
}

// ToggleStatus closes an opened or stale ticket and reopens a closed one,
// through the same guarded path as Submit.
func (s *TicketService) ToggleStatus(ctx context.Context, key database.NaturalKey, actorID string) (SubmitResult, error) {
	t, err := s.tickets.FindByNaturalKey(ctx, key)
	if err != nil {
		return SubmitResult{}, storeError("load ticket", "ticket", key.ChannelID+"/"+key.MessageTS, err)
	}

	next := database.TicketStatusClosed
	if t.Status == database.TicketStatusClosed {
		next = database.TicketStatusOpened
	}
	return s.Submit(ctx, Submission{
		TicketID: t.ID,
		Changes:  events.FieldChanges{Status: &next},
		ActorID:  actorID,
	})
}

// Assign sets the ticket's responder. It is a no-op when assignment is
// disabled.
func (s *TicketService) Assign(ctx context.Context, ticketID uint, assigneeID, actorID string) (*database.Ticket, bool, error) {
	if !s.policy.AssignmentEnabled {
		s.logger.Debug("Assignment disabled, ignoring request", zap.Uint("ticket_id", ticketID))
		return nil, false, nil
	}
	if assigneeID == "" {
		return nil, false, apperr.NewValidation("assignee is required", nil)
	}

	updated, err := s.tickets.UpdateIfPresent(ctx, ticketID, func(t *database.Ticket) error {
		if t.Assignee() == assigneeID {
			return database.ErrNoChange
		}
		t.AssignedTo = &assigneeID
		return nil
	})
	if errors.Is(err, database.ErrNoChange) {
		return updated, false, nil
	}
	if err != nil {
		return nil, false, storeError("assign ticket", "ticket", ticketID, err)
	}

	s.logger.Info("Ticket assigned",
		zap.Uint("ticket_id", ticketID),
		zap.String("assignee", assigneeID),
		zap.String("actor", actorID))
	s.reflector.Reflect(ctx, ticketID)
	return updated, true, nil
}

// MarkStale moves an opened ticket not updated since cutoff to stale. Tickets
// in any other status, or touched after cutoff, are left alone.
func (s *TicketService) MarkStale(ctx context.Context, ticketID uint, cutoff time.Time) (bool, error) {
	now := s.now()
	updated, err := s.tickets.UpdateIfPresent(ctx, ticketID, func(t *database.Ticket) error {
		if t.Status != database.TicketStatusOpened || t.UpdatedAt.After(cutoff) {
			return database.ErrNoChange
		}
		t.SetStatus(database.TicketStatusStale, now)
		return nil
	})
	if errors.Is(err, database.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, storeError("mark ticket stale", "ticket", ticketID, err)
	}

	s.statusChanged(updated, "")
	s.reflector.Reflect(ctx, ticketID)
	return true, nil
}

// SubmitRating records a 1-5 rating. Only the first rating is kept.
func (s *TicketService) SubmitRating(ctx context.Context, ticketID uint, rating int, actorID string) (*database.Ticket, bool, error) {
	if rating < 1 || rating > 5 {
		return nil, false, apperr.NewValidation("rating must be between 1 and 5", map[string]any{"rating": rating})
	}

	updated, err := s.tickets.UpdateIfPresent(ctx, ticketID, func(t *database.Ticket) error {
		if t.RatingSubmitted {
			return database.ErrNoChange
		}
		t.RatingSubmitted = true
		t.Rating = &rating
		return nil
	})
	if errors.Is(err, database.ErrNoChange) {
		return updated, false, nil
	}
	if err != nil {
		return nil, false, storeError("rate ticket", "ticket", ticketID, err)
	}

	s.logger.Info("Ticket rated",
		zap.Uint("ticket_id", ticketID),
		zap.Int("rating", rating),
		zap.String("actor", actorID))
	return updated, true, nil
}

// Withdraw handles deletion of a root message. A message that already has a
// ticket form keeps its ticket; otherwise the query is marked withdrawn.
func (s *TicketService) Withdraw(ctx context.Context, key database.NaturalKey) (bool, error) {
	var ticketID uint
	t, err := s.tickets.FindByNaturalKey(ctx, key)
	switch {
	case err == nil:
		if t.HasForm() {
			s.logger.Info("Root message deleted after form was posted, keeping ticket",
				zap.Uint("ticket_id", t.ID),
				zap.String("channel", key.ChannelID),
				zap.String("ts", key.MessageTS))
			return false, nil
		}
		ticketID = t.ID
	case errors.Is(err, database.ErrNotFound):
	default:
		return false, apperr.NewUnavailable("load ticket", err)
	}

	withdrawn, err := s.queries.MarkWithdrawn(ctx, key, s.now())
	if err != nil {
		return false, apperr.NewUnavailable("withdraw query", err)
	}
	if !withdrawn {
		return false, nil
	}

	s.logger.Info("Query withdrawn",
		zap.String("channel", key.ChannelID),
		zap.String("ts", key.MessageTS))
	s.publisher.Publish(notify.Signal{
		Type:     notify.QueryWithdrawn,
		TicketID: ticketID,
		Key:      key,
	})
	return true, nil
}

// Get returns a ticket by id
func (s *TicketService) Get(ctx context.Context, id uint) (*database.Ticket, error) {
	t, err := s.tickets.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("load ticket", "ticket", id, err)
	}
	return t, nil
}

// List returns a page of tickets and the total match count.
func (s *TicketService) List(ctx context.Context, filter database.TicketFilter) ([]database.Ticket, int64, error) {
	tickets, total, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, 0, apperr.NewUnavailable("list tickets", err)
	}
	return tickets, total, nil
}

func (s *TicketService) statusChanged(t *database.Ticket, actorID string) {
	s.metrics.StatusChanged(string(t.Status))
	s.logger.Info("Ticket status changed",
		zap.Uint("ticket_id", t.ID),
		zap.String("status", string(t.Status)),
		zap.String("actor", actorID))
	s.publisher.Publish(notify.Signal{
		Type:     notify.TicketStatusChanged,
		TicketID: t.ID,
		Status:   t.Status,
		Key:      t.Key(),
		ActorID:  actorID,
	})
}

func (s *TicketService) validate(c events.FieldChanges) error {
	if c.Status != nil && !c.Status.IsValid() {
		return apperr.NewValidation("unknown status", map[string]any{"status": string(*c.Status)})
	}
	if c.Team != nil && *c.Team != "" && *c.Team != registry.UnknownTeam {
		if _, ok := s.registry.Team(*c.Team); !ok {
			return apperr.NewValidation("unknown team", map[string]any{"team": *c.Team})
		}
	}
	if c.Impact != nil && *c.Impact != "" {
		if _, ok := s.registry.Impact(*c.Impact); !ok {
			return apperr.NewValidation("unknown impact", map[string]any{"impact": *c.Impact})
		}
	}
	return validateTags(s.registry, c.Tags)
}

func validateTags(reg *registry.Registry, tags []string) error {
	for _, tag := range tags {
		if _, ok := reg.Tag(tag); !ok {
			return apperr.NewValidation("unknown tag", map[string]any{"tag": tag})
		}
	}
	return nil
}

// applyChanges edits t in place and returns database.ErrNoChange if every
// field already had the requested value.
func applyChanges(t *database.Ticket, c events.FieldChanges, now time.Time) error {
	changed := false
	if c.Status != nil && t.SetStatus(*c.Status, now) {
		changed = true
	}
	if c.Team != nil && t.TeamCode() != *c.Team {
		t.Team = optional(*c.Team)
		changed = true
	}
	if c.Impact != nil && t.ImpactCode() != *c.Impact {
		t.Impact = optional(*c.Impact)
		changed = true
	}
	if c.Tags != nil {
		tags := normalizeTags(c.Tags)
		if !slices.Equal(normalizeTags(t.Tags), tags) {
			t.Tags = tags
			changed = true
		}
	}
	if c.AssignedTo != nil && t.Assignee() != *c.AssignedTo {
		t.AssignedTo = optional(*c.AssignedTo)
		changed = true
	}
	if !changed {
		return database.ErrNoChange
	}
	return nil
}

// normalizeTags returns tags as a sorted set. The result is never nil.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag != "" {
			out = append(out, tag)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// storeError maps a repository error to the domain taxonomy.
func storeError(op, resource string, id any, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperr.NewNotFound(resource, id)
	}
	return apperr.NewUnavailable(op, err)
}
