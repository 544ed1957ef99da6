package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/apperr"
	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/events"
	"github.com/akmatori/ticketbot/internal/output"
	"github.com/akmatori/ticketbot/internal/services"
	"github.com/akmatori/ticketbot/internal/testhelpers"
)

// fakeEngine records applied events and returns canned results.
type fakeEngine struct {
	mu      sync.Mutex
	applied []events.Event
	result  services.SubmitResult
	err     error
	tickets map[uint]*database.Ticket
}

func (f *fakeEngine) HandleEvent(_ context.Context, ev events.Event) (services.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, ev)
	return f.result, f.err
}

func (f *fakeEngine) Get(_ context.Context, id uint) (*database.Ticket, error) {
	if t, ok := f.tickets[id]; ok {
		return t, nil
	}
	return nil, apperr.NewNotFound("ticket", id)
}

type fakeViews struct {
	opened []slack.ModalViewRequest
}

func (f *fakeViews) OpenViewContext(_ context.Context, _ string, view slack.ModalViewRequest) (*slack.ViewResponse, error) {
	f.opened = append(f.opened, view)
	return &slack.ViewResponse{}, nil
}

type fakeThreads map[string]bool

func (f fakeThreads) IsThreadReply(_ context.Context, _, ts string) (bool, error) {
	reply, ok := f[ts]
	if !ok {
		return false, errors.New("message_not_found")
	}
	return reply, nil
}

type fakeAcker struct {
	mu       sync.Mutex
	acked    int
	payloads []interface{}
	done     chan struct{}
}

func (f *fakeAcker) Ack(_ socketmode.Request, payload ...interface{}) {
	f.mu.Lock()
	f.acked++
	f.payloads = append(f.payloads, payload...)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
}

type slackFixture struct {
	handler  *SlackHandler
	engine   *fakeEngine
	views    *fakeViews
	messages *testhelpers.MockGateway
}

func newSlackFixture(t *testing.T) *slackFixture {
	t.Helper()
	f := &slackFixture{
		engine:   &fakeEngine{tickets: map[uint]*database.Ticket{}},
		views:    &fakeViews{},
		messages: testhelpers.NewMockGateway(),
	}
	f.handler = NewSlackHandler(SlackHandlerDeps{
		Normalizer:   events.NewNormalizer("C1", zap.NewNop(), nil),
		Tickets:      f.engine,
		Views:        f.views,
		Threads:      fakeThreads{"100.1": false, "100.5": true},
		Messages:     f.messages,
		Registry:     testhelpers.NewTestRegistry(t),
		OpenReaction: "ticket",
		Logger:       zap.NewNop(),
	})
	f.handler.SetBotUserID("UBOT")
	return f
}

func callbackEvent(data interface{}) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: data},
	}
}

func TestSlackHandler_MessageEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   *slackevents.MessageEvent
		want interface{}
	}{
		{"root post", &slackevents.MessageEvent{Channel: "C1", TimeStamp: "100.1", User: "U1", Text: "help"}, events.QueryPosted{}},
		{"thread reply", &slackevents.MessageEvent{Channel: "C1", TimeStamp: "100.2", ThreadTimeStamp: "100.1", User: "U1"}, nil},
		{"other channel", &slackevents.MessageEvent{Channel: "C9", TimeStamp: "100.1", User: "U1"}, nil},
		{"own message", &slackevents.MessageEvent{Channel: "C1", TimeStamp: "100.3", User: "UBOT"}, nil},
		{"bot message", &slackevents.MessageEvent{Channel: "C1", TimeStamp: "100.3", SubType: "bot_message", BotID: "B1"}, nil},
		{"edit", &slackevents.MessageEvent{Channel: "C1", TimeStamp: "100.4", SubType: "message_changed"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSlackFixture(t)
			f.handler.handleEventsAPI(context.Background(), callbackEvent(tt.ev))

			if tt.want == nil {
				if len(f.engine.applied) != 0 {
					t.Errorf("expected no events, got %+v", f.engine.applied)
				}
				return
			}
			if len(f.engine.applied) != 1 {
				t.Fatalf("expected one event, got %d", len(f.engine.applied))
			}
			q, ok := f.engine.applied[0].(events.QueryPosted)
			if !ok || q.Key.MessageTS != tt.ev.TimeStamp || q.AuthorID != "U1" || q.Text != "help" {
				t.Errorf("unexpected event %+v", f.engine.applied[0])
			}
		})
	}
}

func TestSlackHandler_MessageDeleted(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"root deleted", `{"type":"message","subtype":"message_deleted","channel":"C1","previous_message":{"ts":"100.1","thread_ts":"100.1"}}`, true},
		{"reply deleted", `{"type":"message","subtype":"message_deleted","channel":"C1","previous_message":{"ts":"100.2","thread_ts":"100.1"}}`, false},
		{"no previous message", `{"type":"message","subtype":"message_deleted","channel":"C1"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev slackevents.MessageEvent
			if err := json.Unmarshal([]byte(tt.payload), &ev); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			f := newSlackFixture(t)
			f.handler.handleEventsAPI(context.Background(), callbackEvent(&ev))

			if !tt.want {
				if len(f.engine.applied) != 0 {
					t.Errorf("expected no events, got %+v", f.engine.applied)
				}
				return
			}
			if len(f.engine.applied) != 1 {
				t.Fatalf("expected one event, got %d", len(f.engine.applied))
			}
			w, ok := f.engine.applied[0].(events.QueryWithdrawn)
			if !ok || w.Key.MessageTS != "100.1" {
				t.Errorf("unexpected event %+v", f.engine.applied[0])
			}
		})
	}
}

func TestSlackHandler_Reactions(t *testing.T) {
	reaction := func(ts, name string) *slackevents.ReactionAddedEvent {
		return &slackevents.ReactionAddedEvent{
			User:     "U2",
			Reaction: name,
			Item:     slackevents.Item{Type: "message", Channel: "C1", Timestamp: ts},
		}
	}

	tests := []struct {
		name string
		ev   *slackevents.ReactionAddedEvent
		want bool
	}{
		{"designated on root", reaction("100.1", "ticket"), true},
		{"designated on reply", reaction("100.5", "ticket"), false},
		{"lookup fails", reaction("100.9", "ticket"), false},
		{"other reaction skips lookup", reaction("100.9", "eyes"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSlackFixture(t)
			f.handler.handleEventsAPI(context.Background(), callbackEvent(tt.ev))

			if got := len(f.engine.applied) == 1; got != tt.want {
				t.Fatalf("applied = %+v, want event %v", f.engine.applied, tt.want)
			}
			if tt.want {
				r := f.engine.applied[0].(events.ReactionAdded)
				if r.Reaction != tt.ev.Reaction || r.ActorID != "U2" {
					t.Errorf("unexpected event %+v", r)
				}
			}
		})
	}
}

func TestSlackHandler_ToggleRequiringConfirmationOpensModal(t *testing.T) {
	f := newSlackFixture(t)
	f.engine.result = services.SubmitResult{
		Outcome:         services.OutcomeRequiresConfirmation,
		Ticket:          &database.Ticket{ID: 7},
		OpenEscalations: 2,
	}

	f.handler.handleBlockActions(context.Background(), slack.InteractionCallback{
		Type:      slack.InteractionTypeBlockActions,
		TriggerID: "trigger-1",
		User:      slack.User{ID: "U2"},
		ActionCallback: slack.ActionCallbacks{BlockActions: []*slack.BlockAction{
			{ActionID: output.ActionToggleStatus, Value: "C1/100.1"},
		}},
	})

	if len(f.engine.applied) != 1 {
		t.Fatalf("expected one event, got %d", len(f.engine.applied))
	}
	if _, ok := f.engine.applied[0].(events.StatusToggleRequested); !ok {
		t.Errorf("unexpected event %T", f.engine.applied[0])
	}
	if len(f.views.opened) != 1 || f.views.opened[0].CallbackID != output.CallbackConfirmClose {
		t.Fatalf("expected confirmation modal, got %+v", f.views.opened)
	}
	meta, err := output.DecodeConfirmCloseMetadata(f.views.opened[0].PrivateMetadata)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.TicketID != 7 || meta.Fields[output.FieldStatus][0] != "closed" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestSlackHandler_EditButtonOpensModal(t *testing.T) {
	f := newSlackFixture(t)
	ticket := testhelpers.NewTicketBuilder().WithID(3).Build()
	f.engine.tickets[3] = &ticket

	for _, tc := range []struct {
		action   string
		callback string
	}{
		{output.ActionEditTicket, output.CallbackTicketEdit},
		{output.ActionOpenEscalation, output.CallbackEscalate},
	} {
		f.handler.handleBlockActions(context.Background(), slack.InteractionCallback{
			TriggerID: "trigger-1",
			User:      slack.User{ID: "U2"},
			ActionCallback: slack.ActionCallbacks{BlockActions: []*slack.BlockAction{
				{ActionID: tc.action, Value: "3"},
			}},
		})
		last := f.views.opened[len(f.views.opened)-1]
		if last.CallbackID != tc.callback {
			t.Errorf("expected %s, got %s", tc.callback, last.CallbackID)
		}
	}
	if len(f.engine.applied) != 0 {
		t.Errorf("opening a modal must not apply events, got %+v", f.engine.applied)
	}
}

func TestSlackHandler_RatingThanks(t *testing.T) {
	f := newSlackFixture(t)
	f.engine.result = services.SubmitResult{Outcome: services.OutcomeCommitted}

	callback := slack.InteractionCallback{
		User: slack.User{ID: "U1"},
		ActionCallback: slack.ActionCallbacks{BlockActions: []*slack.BlockAction{
			{ActionID: output.ActionRate, Value: output.EncodeRating(7, 5)},
		}},
	}
	callback.Container.ChannelID = "C1"
	callback.Container.MessageTs = "300.1"
	f.handler.handleBlockActions(context.Background(), callback)

	edits := f.messages.Calls(testhelpers.OpEditForm)
	if len(edits) != 1 || edits[0].Ref != (database.MessageRef{ChannelID: "C1", TS: "300.1"}) {
		t.Errorf("expected rating prompt replaced, got %+v", edits)
	}
}

func ticketEditState(status, team string, tags ...string) *slack.ViewState {
	tagOpts := make([]slack.OptionBlockObject, 0, len(tags))
	for _, tag := range tags {
		tagOpts = append(tagOpts, slack.OptionBlockObject{Value: tag})
	}
	return &slack.ViewState{Values: map[string]map[string]slack.BlockAction{
		output.FieldStatus:   {output.FieldStatus: {SelectedOption: slack.OptionBlockObject{Value: status}}},
		output.FieldTeam:     {output.FieldTeam: {SelectedOption: slack.OptionBlockObject{Value: team}}},
		output.FieldTags:     {output.FieldTags: {SelectedOptions: tagOpts}},
		output.FieldAssignee: {output.FieldAssignee: {SelectedUser: "U7"}},
	}}
}

func TestSlackHandler_TicketEditSubmission(t *testing.T) {
	f := newSlackFixture(t)
	f.engine.result = services.SubmitResult{Outcome: services.OutcomeCommitted}

	resp := f.handler.handleViewSubmission(context.Background(), slack.InteractionCallback{
		Type: slack.InteractionTypeViewSubmission,
		User: slack.User{ID: "U2"},
		View: slack.View{
			CallbackID:      output.CallbackTicketEdit,
			PrivateMetadata: "7",
			State:           ticketEditState("opened", "", "db"),
		},
	})
	if resp != nil {
		t.Errorf("expected modal to close, got %+v", resp)
	}

	sub, ok := f.engine.applied[0].(events.FormSubmitted)
	if !ok {
		t.Fatalf("unexpected event %T", f.engine.applied[0])
	}
	if sub.TicketID != 7 || sub.Confirmed || sub.ActorID != "U2" {
		t.Errorf("unexpected submission %+v", sub)
	}
	if sub.Changes.Team == nil || *sub.Changes.Team != "" {
		t.Errorf("expected cleared team, got %v", sub.Changes.Team)
	}
	if len(sub.Changes.Tags) != 1 || sub.Changes.AssignedTo == nil || *sub.Changes.AssignedTo != "U7" {
		t.Errorf("unexpected changes %+v", sub.Changes)
	}
}

func TestSlackHandler_CloseSubmissionPushesConfirmation(t *testing.T) {
	f := newSlackFixture(t)
	f.engine.result = services.SubmitResult{
		Outcome:         services.OutcomeRequiresConfirmation,
		Ticket:          &database.Ticket{ID: 7},
		OpenEscalations: 1,
	}

	resp := f.handler.handleViewSubmission(context.Background(), slack.InteractionCallback{
		User: slack.User{ID: "U2"},
		View: slack.View{
			CallbackID:      output.CallbackTicketEdit,
			PrivateMetadata: "7",
			State:           ticketEditState("closed", "infra"),
		},
	})
	if resp == nil || resp.ResponseAction != slack.RAPush || resp.View == nil {
		t.Fatalf("expected pushed view, got %+v", resp)
	}
	if resp.View.CallbackID != output.CallbackConfirmClose {
		t.Errorf("unexpected pushed view %s", resp.View.CallbackID)
	}

	// Submitting the confirmation replays the same fields confirmed
	f.engine.result = services.SubmitResult{Outcome: services.OutcomeCommitted}
	resp = f.handler.handleViewSubmission(context.Background(), slack.InteractionCallback{
		User: slack.User{ID: "U2"},
		View: slack.View{CallbackID: output.CallbackConfirmClose, PrivateMetadata: resp.View.PrivateMetadata},
	})
	if resp != nil {
		t.Errorf("expected modal to close, got %+v", resp)
	}
	replay, ok := f.engine.applied[1].(events.FormSubmitted)
	if !ok || !replay.Confirmed || replay.TicketID != 7 {
		t.Fatalf("unexpected replay %+v", f.engine.applied[1])
	}
	if replay.Changes.Status == nil || *replay.Changes.Status != database.TicketStatusClosed {
		t.Errorf("expected close replayed, got %+v", replay.Changes)
	}
	if replay.Changes.Team == nil || *replay.Changes.Team != "infra" {
		t.Errorf("expected team replayed, got %+v", replay.Changes)
	}
}

func TestSlackHandler_SubmissionErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantBlock string
	}{
		{"unknown team", apperr.NewValidation("unknown team", map[string]any{"team": "legal"}), output.FieldTeam},
		{"unknown tag", apperr.NewValidation("unknown tag", map[string]any{"tag": "x"}), output.FieldTags},
		{"store down", apperr.NewUnavailable("update ticket", errors.New("conn reset")), output.FieldStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSlackFixture(t)
			f.engine.err = tt.err

			resp := f.handler.handleViewSubmission(context.Background(), slack.InteractionCallback{
				View: slack.View{
					CallbackID:      output.CallbackTicketEdit,
					PrivateMetadata: "7",
					State:           ticketEditState("opened", "legal"),
				},
			})
			if resp == nil || resp.ResponseAction != slack.RAErrors {
				t.Fatalf("expected errors response, got %+v", resp)
			}
			if _, ok := resp.Errors[tt.wantBlock]; !ok {
				t.Errorf("expected error on %s, got %v", tt.wantBlock, resp.Errors)
			}
		})
	}
}

func TestSlackHandler_EscalationSubmission(t *testing.T) {
	f := newSlackFixture(t)
	f.engine.result = services.SubmitResult{Outcome: services.OutcomeCommitted}

	resp := f.handler.handleViewSubmission(context.Background(), slack.InteractionCallback{
		User: slack.User{ID: "U2"},
		View: slack.View{
			CallbackID:      output.CallbackEscalate,
			PrivateMetadata: "7",
			State: &slack.ViewState{Values: map[string]map[string]slack.BlockAction{
				output.FieldTeam: {output.FieldTeam: {SelectedOption: slack.OptionBlockObject{Value: "infra"}}},
			}},
		},
	})
	if resp != nil {
		t.Errorf("expected modal to close, got %+v", resp)
	}
	req, ok := f.engine.applied[0].(events.EscalationRequested)
	if !ok || req.TicketID != 7 || req.Team != "infra" {
		t.Errorf("unexpected event %+v", f.engine.applied[0])
	}
}

func TestSlackHandler_DispatchAcks(t *testing.T) {
	f := newSlackFixture(t)
	ack := &fakeAcker{}

	f.handler.dispatch(context.Background(), ack, socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Data:    callbackEvent(&slackevents.MessageEvent{Channel: "C9", TimeStamp: "1.1"}),
		Request: &socketmode.Request{},
	})
	f.handler.dispatch(context.Background(), ack, socketmode.Event{
		Type:    socketmode.EventTypeInteractive,
		Data:    slack.InteractionCallback{Type: slack.InteractionTypeBlockActions},
		Request: &socketmode.Request{},
	})

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if ack.acked != 2 {
		t.Errorf("expected both events acked immediately, got %d", ack.acked)
	}
}

func TestSlackHandler_DispatchViewSubmissionAcksWithResponse(t *testing.T) {
	f := newSlackFixture(t)
	f.engine.err = apperr.NewValidation("unknown team", map[string]any{"team": "legal"})
	ack := &fakeAcker{done: make(chan struct{}, 1)}

	f.handler.dispatch(context.Background(), ack, socketmode.Event{
		Type: socketmode.EventTypeInteractive,
		Data: slack.InteractionCallback{
			Type: slack.InteractionTypeViewSubmission,
			View: slack.View{
				CallbackID:      output.CallbackTicketEdit,
				PrivateMetadata: "7",
				State:           ticketEditState("opened", "legal"),
			},
		},
		Request: &socketmode.Request{},
	})

	testhelpers.MustCompleteWithin(t, 2*time.Second, func() { <-ack.done })
	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.payloads) != 1 {
		t.Fatalf("expected ack with payload, got %d payloads", len(ack.payloads))
	}
	if _, ok := ack.payloads[0].(*slack.ViewSubmissionResponse); !ok {
		t.Errorf("unexpected payload %T", ack.payloads[0])
	}
}
