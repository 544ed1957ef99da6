package testhelpers

import (
	"context"
	"fmt"
	"sync"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/output"
	"github.com/akmatori/ticketbot/internal/services"
)

// Gateway operations recorded by MockGateway
const (
	OpPostForm    = "post_form"
	OpEditForm    = "edit_form"
	OpSetMarker   = "set_marker"
	OpPostMessage = "post_message"
	OpResolveUser = "resolve_user"
	OpPermalink   = "get_permalink"
)

// GatewayCall is one recorded gateway call
type GatewayCall struct {
	Op      string
	Ref     database.MessageRef
	Message output.Message
	Present bool
	UserID  string
}

// MockGateway implements services.Gateway in memory and records every call.
// It is safe for concurrent use.
type MockGateway struct {
	mu       sync.Mutex
	calls    []GatewayCall
	failures map[string]error
	users    map[string]services.UserIdentity
	markers  map[database.MessageRef]bool
	seq      int
}

var _ services.Gateway = (*MockGateway)(nil)

// NewMockGateway creates a new mock gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		failures: make(map[string]error),
		users:    make(map[string]services.UserIdentity),
		markers:  make(map[database.MessageRef]bool),
	}
}

// FailOn makes every call of op return err. A nil err clears the failure.
func (m *MockGateway) FailOn(op string, err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
	} else {
		m.failures[op] = err
	}
	return m
}

// WithUser registers an identity for ResolveUserIdentity
func (m *MockGateway) WithUser(id, name, email string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = services.UserIdentity{ID: id, Name: name, Email: email}
	return m
}

func (m *MockGateway) record(call GatewayCall) error {
	m.calls = append(m.calls, call)
	return m.failures[call.Op]
}

func (m *MockGateway) nextTS() string {
	m.seq++
	return fmt.Sprintf("900000.%06d", m.seq)
}

// PostForm records the call and returns a fresh message ref in the thread's channel
func (m *MockGateway) PostForm(_ context.Context, thread database.MessageRef, msg output.Message) (database.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(GatewayCall{Op: OpPostForm, Ref: thread, Message: msg}); err != nil {
		return database.MessageRef{}, err
	}
	return database.MessageRef{ChannelID: thread.ChannelID, TS: m.nextTS()}, nil
}

// EditForm records the call
func (m *MockGateway) EditForm(_ context.Context, ref database.MessageRef, msg output.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(GatewayCall{Op: OpEditForm, Ref: ref, Message: msg})
}

// SetMarkerReaction records the call and tracks the marker state
func (m *MockGateway) SetMarkerReaction(_ context.Context, ref database.MessageRef, present bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(GatewayCall{Op: OpSetMarker, Ref: ref, Present: present}); err != nil {
		return err
	}
	m.markers[ref] = present
	return nil
}

// PostMessage records the call and returns a fresh message ref
func (m *MockGateway) PostMessage(_ context.Context, thread database.MessageRef, msg output.Message) (database.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(GatewayCall{Op: OpPostMessage, Ref: thread, Message: msg}); err != nil {
		return database.MessageRef{}, err
	}
	return database.MessageRef{ChannelID: thread.ChannelID, TS: m.nextTS()}, nil
}

// ResolveUserIdentity returns a registered identity or an error
func (m *MockGateway) ResolveUserIdentity(_ context.Context, userID string) (services.UserIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(GatewayCall{Op: OpResolveUser, UserID: userID}); err != nil {
		return services.UserIdentity{}, err
	}
	identity, ok := m.users[userID]
	if !ok {
		return services.UserIdentity{}, fmt.Errorf("user %s not found", userID)
	}
	return identity, nil
}

// GetPermalink returns a fake permalink for ref
func (m *MockGateway) GetPermalink(_ context.Context, ref database.MessageRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(GatewayCall{Op: OpPermalink, Ref: ref}); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://example.slack.com/archives/%s/p%s", ref.ChannelID, ref.TS), nil
}

// Calls returns the recorded calls of op, or all calls when op is empty
func (m *MockGateway) Calls(op string) []GatewayCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []GatewayCall
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times op was called
func (m *MockGateway) CallCount(op string) int {
	return len(m.Calls(op))
}

// Marker reports whether the marker reaction is present on ref
func (m *MockGateway) Marker(ref database.MessageRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[ref]
}

// Reset forgets recorded calls
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
