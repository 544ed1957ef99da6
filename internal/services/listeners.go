package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/notify"
	"github.com/akmatori/ticketbot/internal/output"
	"github.com/akmatori/ticketbot/internal/registry"
)

// RatingRequester posts a rating prompt in the ticket thread when a ticket
// closes.
type RatingRequester struct {
	tickets TicketRepository
	gateway Gateway
	logger  *zap.Logger
}

// NewRatingRequester creates a rating prompt listener
func NewRatingRequester(tickets TicketRepository, gateway Gateway, logger *zap.Logger) *RatingRequester {
	return &RatingRequester{tickets: tickets, gateway: gateway, logger: logger}
}

// OnStatusChanged handles TicketStatusChanged signals.
func (r *RatingRequester) OnStatusChanged(ctx context.Context, sig notify.Signal) error {
	if sig.Status != database.TicketStatusClosed {
		return nil
	}

	t, err := r.tickets.FindByID(ctx, sig.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", sig.TicketID, err)
	}
	// Reopened again before delivery, or already rated.
	if t.Status != database.TicketStatusClosed || t.RatingSubmitted {
		return nil
	}

	if _, err := r.gateway.PostMessage(ctx, t.RootRef(), output.RatingPrompt(t.ID)); err != nil {
		return fmt.Errorf("post rating prompt for ticket %d: %w", t.ID, err)
	}
	r.logger.Debug("Rating prompt posted", zap.Uint("ticket_id", t.ID))
	return nil
}

// EscalationAnnouncer posts escalation notices in the escalation thread and
// a heads-up in the destination team's channel.
type EscalationAnnouncer struct {
	escalations    EscalationRepository
	gateway        Gateway
	registry       *registry.Registry
	defaultChannel string
	logger         *zap.Logger
}

// NewEscalationAnnouncer creates an escalation listener. defaultChannel
// receives heads-ups for teams without a channel of their own.
func NewEscalationAnnouncer(escalations EscalationRepository, gateway Gateway, reg *registry.Registry, defaultChannel string, logger *zap.Logger) *EscalationAnnouncer {
	return &EscalationAnnouncer{
		escalations:    escalations,
		gateway:        gateway,
		registry:       reg,
		defaultChannel: defaultChannel,
		logger:         logger,
	}
}

// OnEscalationOpened handles EscalationOpened signals.
func (a *EscalationAnnouncer) OnEscalationOpened(ctx context.Context, sig notify.Signal) error {
	e, err := a.escalations.FindByID(ctx, sig.EscalationID)
	if err != nil {
		return fmt.Errorf("load escalation %d: %w", sig.EscalationID, err)
	}

	teamLabel := a.registry.TeamName(e.Team)
	tagLabels := make([]string, 0, len(e.Tags))
	for _, tag := range e.Tags {
		tagLabels = append(tagLabels, a.registry.TagName(tag))
	}

	thread := e.ThreadRef()
	if _, err := a.gateway.PostMessage(ctx, thread, output.EscalationNotice(e.TicketID, teamLabel, tagLabels, e.CreatedBy)); err != nil {
		return fmt.Errorf("post escalation notice %d: %w", e.ID, err)
	}

	channel := a.defaultChannel
	if team, ok := a.registry.Team(e.Team); ok && team.Channel != "" {
		channel = team.Channel
	}
	if channel == "" || channel == thread.ChannelID {
		return nil
	}

	link, err := a.gateway.GetPermalink(ctx, thread)
	if err != nil {
		a.logger.Debug("Permalink lookup failed", zap.Uint("escalation_id", e.ID), zap.Error(err))
	}
	if _, err := a.gateway.PostMessage(ctx, database.MessageRef{ChannelID: channel}, output.EscalationHeadsUp(e.TicketID, teamLabel, link)); err != nil {
		return fmt.Errorf("post escalation heads-up %d to %s: %w", e.ID, channel, err)
	}
	return nil
}

// OnEscalationResolved handles EscalationResolved signals.
func (a *EscalationAnnouncer) OnEscalationResolved(ctx context.Context, sig notify.Signal) error {
	e, err := a.escalations.FindByID(ctx, sig.EscalationID)
	if err != nil {
		return fmt.Errorf("load escalation %d: %w", sig.EscalationID, err)
	}
	if _, err := a.gateway.PostMessage(ctx, e.ThreadRef(), output.EscalationResolvedNotice(e.TicketID, a.registry.TeamName(e.Team))); err != nil {
		return fmt.Errorf("post resolution notice %d: %w", e.ID, err)
	}
	return nil
}

// RegisterListeners subscribes the listeners to d. rating may be nil when
// rating prompts are disabled.
func RegisterListeners(d *notify.Dispatcher, rating *RatingRequester, announcer *EscalationAnnouncer) {
	if rating != nil {
		d.Subscribe(notify.TicketStatusChanged, rating.OnStatusChanged)
	}
	if announcer != nil {
		d.Subscribe(notify.EscalationOpened, announcer.OnEscalationOpened)
		d.Subscribe(notify.EscalationResolved, announcer.OnEscalationResolved)
	}
}
