package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/lock"
	"github.com/akmatori/ticketbot/internal/observability"
	"github.com/akmatori/ticketbot/internal/output"
	"github.com/akmatori/ticketbot/internal/registry"
)

const (
	recordFormAttempts = 3
	recordFormBackoff  = 50 * time.Millisecond
)

// FormSynchronizerDeps wires a FormSynchronizer.
type FormSynchronizerDeps struct {
	Tickets     TicketRepository
	Escalations EscalationRepository
	Queries     QueryRepository
	Gateway     Gateway
	Locker      lock.Locker
	Registry    *registry.Registry
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	// Timeout bounds each gateway call.
	Timeout time.Duration
	// LookupLimit bounds concurrent display lookups per render.
	LookupLimit       int
	AssignmentEnabled bool
}

// FormSynchronizer renders a ticket from the store and pushes it to the chat
// platform. Gateway failures are logged and returned; they never touch the
// ticket's state beyond recording where the form was posted.
type FormSynchronizer struct {
	tickets           TicketRepository
	escalations       EscalationRepository
	queries           QueryRepository
	gateway           Gateway
	locker            lock.Locker
	registry          *registry.Registry
	metrics           *observability.Metrics
	logger            *zap.Logger
	timeout           time.Duration
	lookupLimit       int
	assignmentEnabled bool
	now               func() time.Time
}

// NewFormSynchronizer creates a new form synchronizer
func NewFormSynchronizer(deps FormSynchronizerDeps) *FormSynchronizer {
	if deps.Timeout <= 0 {
		deps.Timeout = 10 * time.Second
	}
	if deps.LookupLimit <= 0 {
		deps.LookupLimit = 4
	}
	return &FormSynchronizer{
		tickets:           deps.Tickets,
		escalations:       deps.Escalations,
		queries:           deps.Queries,
		gateway:           deps.Gateway,
		locker:            deps.Locker,
		registry:          deps.Registry,
		metrics:           deps.Metrics,
		logger:            deps.Logger,
		timeout:           deps.Timeout,
		lookupLimit:       deps.LookupLimit,
		assignmentEnabled: deps.AssignmentEnabled,
		now:               time.Now,
	}
}

// Reflect brings the ticket's form and marker reaction in line with the
// stored ticket. The form is posted once and edited afterwards; calls for
// the same ticket are serialized.
func (f *FormSynchronizer) Reflect(ctx context.Context, ticketID uint) error {
	unlock, err := f.locker.Lock(ctx, lock.FormKey(ticketID))
	if err != nil {
		return fmt.Errorf("lock form of ticket %d: %w", ticketID, err)
	}
	defer unlock()

	t, err := f.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", ticketID, err)
	}
	escalations, err := f.escalations.ListFor(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("load escalations of ticket %d: %w", ticketID, err)
	}

	msg := output.RenderTicketForm(f.buildView(ctx, t, escalations))

	var errs []error
	if t.HasForm() {
		if err := f.call(ctx, "edit_form", t, func(ctx context.Context) error {
			return f.gateway.EditForm(ctx, t.FormRef(), msg)
		}); err != nil {
			errs = append(errs, err)
		}
	} else if err := f.postForm(ctx, t, msg); err != nil {
		errs = append(errs, err)
	}

	closed := t.Status == database.TicketStatusClosed
	if err := f.call(ctx, "set_marker", t, func(ctx context.Context) error {
		return f.gateway.SetMarkerReaction(ctx, t.RootRef(), closed)
	}); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (f *FormSynchronizer) postForm(ctx context.Context, t *database.Ticket, msg output.Message) error {
	var ref database.MessageRef
	err := f.call(ctx, "post_form", t, func(ctx context.Context) error {
		var err error
		ref, err = f.gateway.PostForm(ctx, t.RootRef(), msg)
		return err
	})
	if err != nil {
		return err
	}

	if err := f.recordForm(ctx, t.ID, ref); err != nil {
		f.logger.Error("Form posted but not recorded, the next refresh will post a duplicate",
			zap.Uint("ticket_id", t.ID),
			zap.String("form_ts", ref.TS),
			zap.Error(err))
		return fmt.Errorf("record form of ticket %d: %w", t.ID, err)
	}

	f.logger.Info("Ticket form posted", zap.Uint("ticket_id", t.ID), zap.String("form_ts", ref.TS))
	return nil
}

// recordForm stores where the form was posted, retrying transient store
// failures a bounded number of times.
func (f *FormSynchronizer) recordForm(ctx context.Context, ticketID uint, ref database.MessageRef) error {
	var err error
	for attempt := 1; attempt <= recordFormAttempts; attempt++ {
		_, err = f.tickets.UpdateIfPresent(ctx, ticketID, func(next *database.Ticket) error {
			if next.HasForm() {
				return database.ErrNoChange
			}
			next.FormChannelID = ref.ChannelID
			next.FormMessageTS = ref.TS
			return nil
		})
		if err == nil || errors.Is(err, database.ErrNoChange) || errors.Is(err, database.ErrNotFound) {
			return ignoreNoChange(err)
		}
		if attempt == recordFormAttempts {
			break
		}
		f.logger.Warn("Retrying form record",
			zap.Uint("ticket_id", ticketID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * recordFormBackoff):
		}
	}
	return err
}

func ignoreNoChange(err error) error {
	if errors.Is(err, database.ErrNoChange) {
		return nil
	}
	return err
}

// call runs one gateway operation under the per-call timeout.
func (f *FormSynchronizer) call(ctx context.Context, op string, t *database.Ticket, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := fn(callCtx); err != nil {
		f.metrics.GatewayFailure(op)
		f.logger.Warn("Gateway call failed",
			zap.String("op", op),
			zap.Uint("ticket_id", t.ID),
			zap.String("channel", t.ChannelID),
			zap.Error(err))
		return fmt.Errorf("%s for ticket %d: %w", op, t.ID, err)
	}
	return nil
}

// buildView resolves display labels. Lookups run concurrently and a failed
// lookup falls back to a plain label.
func (f *FormSynchronizer) buildView(ctx context.Context, t *database.Ticket, escalations []database.Escalation) output.FormView {
	view := output.FormView{
		Ticket:            t,
		TeamLabel:         f.teamLabel(t.TeamCode()),
		ImpactLabel:       f.codeLabel(t.ImpactCode(), f.registry.ImpactName),
		AssignmentEnabled: f.assignmentEnabled,
		Now:               f.now(),
		Escalations:       make([]output.EscalationView, len(escalations)),
	}
	for _, tag := range t.Tags {
		view.TagLabels = append(view.TagLabels, f.registry.TagName(tag))
	}

	if q, err := f.queries.FindByNaturalKey(ctx, t.Key()); err == nil {
		view.Summary = q.Text
	} else if !errors.Is(err, database.ErrNotFound) {
		f.logger.Warn("Failed to load query for form", zap.Uint("ticket_id", t.ID), zap.Error(err))
	}

	var g errgroup.Group
	g.SetLimit(f.lookupLimit)

	if assignee := t.Assignee(); assignee != "" {
		g.Go(func() error {
			view.AssigneeLabel = f.userLabel(ctx, assignee)
			return nil
		})
	}
	if t.RequesterID != "" {
		g.Go(func() error {
			view.RequesterLabel = f.userLabel(ctx, t.RequesterID)
			return nil
		})
	}
	for i := range escalations {
		e := &escalations[i]
		view.Escalations[i] = output.EscalationView{
			ID:        e.ID,
			TeamLabel: f.registry.TeamName(e.Team),
			Open:      e.IsOpen(),
		}
		if e.ThreadRef().IsZero() {
			continue
		}
		g.Go(func() error {
			lookupCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			link, err := f.gateway.GetPermalink(lookupCtx, e.ThreadRef())
			if err != nil {
				f.metrics.GatewayFailure("get_permalink")
				f.logger.Debug("Permalink lookup failed", zap.Uint("escalation_id", e.ID), zap.Error(err))
				return nil
			}
			view.Escalations[i].Permalink = link
			return nil
		})
	}
	_ = g.Wait()

	return view
}

func (f *FormSynchronizer) userLabel(ctx context.Context, userID string) string {
	mention := fmt.Sprintf("<@%s>", userID)

	lookupCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	identity, err := f.gateway.ResolveUserIdentity(lookupCtx, userID)
	if err != nil {
		f.metrics.GatewayFailure("resolve_user")
		f.logger.Debug("User lookup failed", zap.String("user", userID), zap.Error(err))
		return mention
	}
	if identity.Email != "" {
		return mention + " · " + identity.Email
	}
	return mention
}

func (f *FormSynchronizer) teamLabel(code string) string {
	if code == registry.UnknownTeam {
		return "Unknown"
	}
	return f.codeLabel(code, f.registry.TeamName)
}

func (f *FormSynchronizer) codeLabel(code string, name func(string) string) string {
	if code == "" {
		return ""
	}
	return name(code)
}
