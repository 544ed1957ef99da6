package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/apperr"
	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/events"
	"github.com/akmatori/ticketbot/internal/output"
	"github.com/akmatori/ticketbot/internal/registry"
	"github.com/akmatori/ticketbot/internal/services"
)

// TicketEngine is the part of the ticket service the Slack surface drives
type TicketEngine interface {
	HandleEvent(ctx context.Context, ev events.Event) (services.SubmitResult, error)
	Get(ctx context.Context, id uint) (*database.Ticket, error)
}

// ViewOpener opens modals in response to a button click
type ViewOpener interface {
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

// ThreadChecker tells whether a message is a thread reply
type ThreadChecker interface {
	IsThreadReply(ctx context.Context, channel, ts string) (bool, error)
}

// MessageEditor replaces the content of a bot message
type MessageEditor interface {
	EditForm(ctx context.Context, ref database.MessageRef, msg output.Message) error
}

// SlackHandlerDeps wires a SlackHandler
type SlackHandlerDeps struct {
	Normalizer   *events.Normalizer
	Tickets      TicketEngine
	Views        ViewOpener
	Threads      ThreadChecker
	Messages     MessageEditor
	Registry     *registry.Registry
	OpenReaction string
	Logger       *zap.Logger
	// Timeout bounds the processing of one event
	Timeout time.Duration
}

// SlackHandler turns Socket Mode traffic into raw events, feeds them through
// the normalizer and applies the result to the ticket engine.
type SlackHandler struct {
	normalizer   *events.Normalizer
	tickets      TicketEngine
	views        ViewOpener
	threads      ThreadChecker
	messages     MessageEditor
	registry     *registry.Registry
	openReaction string
	logger       *zap.Logger
	timeout      time.Duration

	botUserID string // Bot's user ID for self-message filtering
}

// NewSlackHandler creates a new Slack handler
func NewSlackHandler(deps SlackHandlerDeps) *SlackHandler {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SlackHandler{
		normalizer:   deps.Normalizer,
		tickets:      deps.Tickets,
		views:        deps.Views,
		threads:      deps.Threads,
		messages:     deps.Messages,
		registry:     deps.Registry,
		openReaction: deps.OpenReaction,
		logger:       deps.Logger,
		timeout:      timeout,
	}
}

// SetBotUserID sets the bot's user ID for self-message filtering
func (h *SlackHandler) SetBotUserID(botUserID string) {
	h.botUserID = botUserID
}

// HandleSocketMode consumes Socket Mode events until the client's event
// channel closes or ctx ends.
func (h *SlackHandler) HandleSocketMode(ctx context.Context, socketClient *socketmode.Client) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-socketClient.Events:
				if !ok {
					return
				}
				h.dispatch(ctx, socketClient, evt)
			}
		}
	}()
}

// acker acknowledges a Socket Mode request, optionally with a response payload
type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

func (h *SlackHandler) dispatch(ctx context.Context, client acker, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		h.logger.Info("Connecting to Slack with Socket Mode")
	case socketmode.EventTypeConnected:
		h.logger.Info("Connected to Slack with Socket Mode")
	case socketmode.EventTypeConnectionError:
		h.logger.Warn("Socket Mode connection failed", zap.Any("data", evt.Data))

	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			h.logger.Debug("Ignored events API payload", zap.String("type", string(evt.Type)))
			return
		}
		// Ack immediately to avoid Slack retries
		client.Ack(*evt.Request)
		go h.handleEventsAPI(ctx, eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			client.Ack(*evt.Request)
			return
		}
		if callback.Type == slack.InteractionTypeViewSubmission {
			// The response decides whether the modal closes, shows errors or
			// pushes the confirmation, so it is computed before the ack.
			go func() {
				if resp := h.handleViewSubmission(ctx, callback); resp != nil {
					client.Ack(*evt.Request, resp)
					return
				}
				client.Ack(*evt.Request)
			}()
			return
		}
		client.Ack(*evt.Request)
		go h.handleBlockActions(ctx, callback)

	case socketmode.EventTypeSlashCommand, socketmode.EventTypeHello:
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}

	default:
		h.logger.Debug("Unexpected event type received", zap.String("type", string(evt.Type)))
	}
}

// handleEventsAPI processes Events API events
func (h *SlackHandler) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if raw, ok := h.rawFromMessage(ev); ok {
			h.apply(ctx, raw)
		}
	case *slackevents.ReactionAddedEvent:
		if raw, ok := h.rawFromReaction(ctx, ev); ok {
			h.apply(ctx, raw)
		}
	}
}

func (h *SlackHandler) rawFromMessage(ev *slackevents.MessageEvent) (events.Raw, bool) {
	switch ev.SubType {
	case "", "thread_broadcast", "file_share", "bot_message":
		return events.RawMessagePosted{
			Channel:       ev.Channel,
			TS:            ev.TimeStamp,
			AuthorID:      ev.User,
			Text:          ev.Text,
			IsThreadReply: isReply(ev.ThreadTimeStamp, ev.TimeStamp),
			FromBot:       ev.BotID != "" || ev.SubType == "bot_message" || (h.botUserID != "" && ev.User == h.botUserID),
		}, true
	case "message_deleted":
		prev := ev.PreviousMessage
		if prev == nil {
			h.logger.Debug("Deletion without previous message", zap.String("channel", ev.Channel))
			return nil, false
		}
		return events.RawMessageDeleted{
			Channel:       ev.Channel,
			TS:            prev.Timestamp,
			IsThreadReply: isReply(prev.ThreadTimestamp, prev.Timestamp),
		}, true
	default:
		// Edits, joins and other subtypes never touch tickets
		return nil, false
	}
}

// rawFromReaction classifies the reacted message. Reaction events do not say
// whether the item is a thread reply, so designated reactions are looked up.
func (h *SlackHandler) rawFromReaction(ctx context.Context, ev *slackevents.ReactionAddedEvent) (events.Raw, bool) {
	if ev.Item.Type != "message" {
		return nil, false
	}
	raw := events.RawReactionAdded{
		Channel:  ev.Item.Channel,
		ItemTS:   ev.Item.Timestamp,
		Reaction: ev.Reaction,
		ActorID:  ev.User,
	}
	if ev.Reaction != h.openReaction || h.threads == nil {
		return raw, true
	}
	reply, err := h.threads.IsThreadReply(ctx, raw.Channel, raw.ItemTS)
	if err != nil {
		h.logger.Warn("Could not classify reacted message",
			zap.String("channel", raw.Channel),
			zap.String("ts", raw.ItemTS),
			zap.Error(err))
		return nil, false
	}
	raw.IsThreadReply = reply
	return raw, true
}

// apply normalizes raw and hands the event to the engine
func (h *SlackHandler) apply(ctx context.Context, raw events.Raw) (services.SubmitResult, events.Event, error) {
	ev, ok := h.normalizer.Normalize(raw)
	if !ok {
		return services.SubmitResult{}, nil, nil
	}
	result, err := h.tickets.HandleEvent(ctx, ev)
	if err != nil {
		h.logEngineError(ev, err)
	}
	return result, ev, err
}

func (h *SlackHandler) logEngineError(ev events.Event, err error) {
	de := apperr.ToDomainError(err)
	fields := []zap.Field{zap.String("event", fmt.Sprintf("%T", ev)), zap.String("code", de.Code), zap.Error(err)}
	switch de.Code {
	case apperr.CodeValidation, apperr.CodeNotFound, apperr.CodePolicy:
		h.logger.Info("Event rejected", fields...)
	default:
		h.logger.Error("Failed to apply event", fields...)
	}
}

// handleBlockActions handles button clicks on the ticket form, escalation
// list and rating prompt.
func (h *SlackHandler) handleBlockActions(ctx context.Context, callback slack.InteractionCallback) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	for _, action := range callback.ActionCallback.BlockActions {
		switch action.ActionID {
		case output.ActionEditTicket:
			h.openTicketModal(ctx, callback.TriggerID, action.Value, output.TicketEditModal)
		case output.ActionOpenEscalation:
			h.openTicketModal(ctx, callback.TriggerID, action.Value, output.EscalationModal)
		default:
			result, ev, err := h.apply(ctx, events.RawAction{
				ActionID: action.ActionID,
				Value:    action.Value,
				UserID:   callback.User.ID,
			})
			if err != nil {
				continue
			}
			switch e := ev.(type) {
			case events.StatusToggleRequested:
				if result.RequiresConfirmation() {
					h.openConfirmClose(ctx, callback.TriggerID, result)
				}
			case events.RatingSubmitted:
				if result.Outcome == services.OutcomeCommitted {
					h.thankForRating(ctx, callback, e.Rating)
				}
			}
		}
	}
}

func (h *SlackHandler) openTicketModal(ctx context.Context, triggerID, value string, render func(*database.Ticket, *registry.Registry) slack.ModalViewRequest) {
	id, err := output.ParseID(value)
	if err != nil {
		h.logger.Warn("Malformed ticket button", zap.String("value", value))
		return
	}
	t, err := h.tickets.Get(ctx, id)
	if err != nil {
		h.logger.Warn("Failed to load ticket for modal", zap.Uint("ticket_id", id), zap.Error(err))
		return
	}
	if _, err := h.views.OpenViewContext(ctx, triggerID, render(t, h.registry)); err != nil {
		h.logger.Warn("Failed to open modal", zap.Uint("ticket_id", id), zap.Error(err))
	}
}

// openConfirmClose asks for confirmation after a toggle hit open escalations.
// The confirmation replays a close of the same ticket.
func (h *SlackHandler) openConfirmClose(ctx context.Context, triggerID string, result services.SubmitResult) {
	meta := output.ConfirmCloseMetadata{
		TicketID: result.Ticket.ID,
		Fields:   map[string][]string{output.FieldStatus: {string(database.TicketStatusClosed)}},
	}
	if _, err := h.views.OpenViewContext(ctx, triggerID, output.ConfirmCloseModal(meta, result.OpenEscalations)); err != nil {
		h.logger.Warn("Failed to open close confirmation", zap.Uint("ticket_id", meta.TicketID), zap.Error(err))
	}
}

func (h *SlackHandler) thankForRating(ctx context.Context, callback slack.InteractionCallback, rating int) {
	if h.messages == nil || callback.Container.ChannelID == "" || callback.Container.MessageTs == "" {
		return
	}
	ref := database.MessageRef{ChannelID: callback.Container.ChannelID, TS: callback.Container.MessageTs}
	if err := h.messages.EditForm(ctx, ref, output.RatingThanks(rating)); err != nil {
		h.logger.Warn("Failed to replace rating prompt", zap.Error(err))
	}
}

// handleViewSubmission applies a submitted modal and returns the response
// action for Slack, or nil to close the modal.
func (h *SlackHandler) handleViewSubmission(ctx context.Context, callback slack.InteractionCallback) *slack.ViewSubmissionResponse {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	view := callback.View
	var raw events.RawFormSubmitted
	errorBlock := output.FieldStatus

	switch view.CallbackID {
	case output.CallbackTicketEdit:
		raw = events.RawFormSubmitted{
			Form:     events.FormTicket,
			TicketID: view.PrivateMetadata,
			Fields:   ticketFields(view.State),
			UserID:   callback.User.ID,
		}
	case output.CallbackEscalate:
		errorBlock = output.FieldTeam
		raw = events.RawFormSubmitted{
			Form:     events.FormEscalate,
			TicketID: view.PrivateMetadata,
			Fields:   escalationFields(view.State),
			UserID:   callback.User.ID,
		}
	case output.CallbackConfirmClose:
		meta, err := output.DecodeConfirmCloseMetadata(view.PrivateMetadata)
		if err != nil {
			h.logger.Warn("Malformed confirmation metadata", zap.Error(err))
			return nil
		}
		raw = events.RawFormSubmitted{
			Form:      events.FormTicket,
			TicketID:  strconv.FormatUint(uint64(meta.TicketID), 10),
			Fields:    meta.Fields,
			Confirmed: true,
			UserID:    callback.User.ID,
		}
	default:
		h.logger.Debug("Ignoring view submission", zap.String("callback_id", view.CallbackID))
		return nil
	}

	result, ev, err := h.apply(ctx, raw)
	if ev == nil && err == nil {
		return slack.NewErrorsViewSubmissionResponse(map[string]string{errorBlock: "Nothing to submit"})
	}
	if err != nil {
		if raw.Confirmed {
			// The confirmation modal has no inputs to attach errors to
			return nil
		}
		return slack.NewErrorsViewSubmissionResponse(map[string]string{errorBlockFor(err, errorBlock): userMessage(err)})
	}
	if result.RequiresConfirmation() {
		meta := output.ConfirmCloseMetadata{TicketID: result.Ticket.ID, Fields: raw.Fields}
		modal := output.ConfirmCloseModal(meta, result.OpenEscalations)
		return slack.NewPushViewSubmissionResponse(&modal)
	}
	return nil
}

// ticketFields reads the edit modal. Every input is read so that cleared
// selections submit as present-and-empty.
func ticketFields(state *slack.ViewState) map[string][]string {
	fields := make(map[string][]string)
	if state == nil {
		return fields
	}
	for _, name := range []string{output.FieldStatus, output.FieldTeam, output.FieldImpact} {
		if action, ok := lookup(state, name); ok {
			fields[name] = selected(action.SelectedOption.Value)
		}
	}
	if action, ok := lookup(state, output.FieldTags); ok {
		fields[output.FieldTags] = optionValues(action.SelectedOptions)
	}
	if action, ok := lookup(state, output.FieldAssignee); ok {
		fields[output.FieldAssignee] = selected(action.SelectedUser)
	}
	return fields
}

func escalationFields(state *slack.ViewState) map[string][]string {
	fields := make(map[string][]string)
	if state == nil {
		return fields
	}
	if action, ok := lookup(state, output.FieldTeam); ok {
		fields[output.FieldTeam] = selected(action.SelectedOption.Value)
	}
	if action, ok := lookup(state, output.FieldTags); ok {
		fields[output.FieldTags] = optionValues(action.SelectedOptions)
	}
	return fields
}

// lookup finds an input by field name, which is both its block and action ID
func lookup(state *slack.ViewState, name string) (slack.BlockAction, bool) {
	block, ok := state.Values[name]
	if !ok {
		return slack.BlockAction{}, false
	}
	action, ok := block[name]
	return action, ok
}

func selected(value string) []string {
	if value == "" {
		return []string{}
	}
	return []string{value}
}

func optionValues(opts []slack.OptionBlockObject) []string {
	values := make([]string, 0, len(opts))
	for _, opt := range opts {
		values = append(values, opt.Value)
	}
	return values
}

// errorBlockFor picks the modal input a validation error belongs to
func errorBlockFor(err error, fallback string) string {
	var de *apperr.DomainError
	if !errors.As(err, &de) {
		return fallback
	}
	for key := range de.Details {
		switch key {
		case "tag":
			return output.FieldTags
		case output.FieldStatus, output.FieldTeam, output.FieldImpact:
			return key
		}
	}
	return fallback
}

func userMessage(err error) string {
	de := apperr.ToDomainError(err)
	if de.Retryable {
		return "Could not save right now, please try again"
	}
	return de.Message
}

func isReply(threadTS, ts string) bool {
	return threadTS != "" && threadTS != ts
}
