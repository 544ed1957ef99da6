package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/akmatori/ticketbot/internal/apperr"
)

// ConversationLister lists channels visible to the bot
type ConversationLister interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// conversation types scanned in order; private needs groups:read
var conversationKinds = []string{"public_channel", "private_channel"}

// ChannelResolver maps configured channel names to IDs. Results are cached
// for the life of the process and concurrent lookups of one name share a
// single scan.
type ChannelResolver struct {
	client ConversationLister
	logger *zap.Logger

	mu    sync.RWMutex
	known map[string]string
	group singleflight.Group
}

// NewChannelResolver creates a new channel resolver
func NewChannelResolver(client ConversationLister, logger *zap.Logger) *ChannelResolver {
	return &ChannelResolver{
		client: client,
		logger: logger,
		known:  make(map[string]string),
	}
}

// ResolveChannel accepts a channel ID (C0123456789), "#name" or "name" and
// returns the channel ID. An unknown name is an apperr NotFound.
func (r *ChannelResolver) ResolveChannel(ctx context.Context, nameOrID string) (string, error) {
	if isChannelID(nameOrID) {
		return nameOrID, nil
	}
	name := strings.TrimPrefix(strings.TrimSpace(nameOrID), "#")
	if name == "" {
		return "", apperr.NewValidation("channel name is empty", nil)
	}

	r.mu.RLock()
	id, ok := r.known[name]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		return r.find(ctx, name)
	})
	if err != nil {
		return "", err
	}
	id = v.(string)

	r.mu.Lock()
	r.known[name] = id
	r.mu.Unlock()
	r.logger.Info("Resolved channel", zap.String("name", name), zap.String("id", id))
	return id, nil
}

func (r *ChannelResolver) find(ctx context.Context, name string) (string, error) {
	for _, kind := range conversationKinds {
		id, err := r.scan(ctx, name, kind)
		switch {
		case err != nil && kind == "public_channel":
			return "", fmt.Errorf("list %s: %w", kind, err)
		case err != nil:
			r.logger.Warn("Skipping channel kind", zap.String("kind", kind), zap.Error(err))
		case id != "":
			return id, nil
		}
	}
	return "", apperr.NewNotFound("channel", name)
}

func (r *ChannelResolver) scan(ctx context.Context, name, kind string) (string, error) {
	params := &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           1000,
		Types:           []string{kind},
	}
	for {
		channels, next, err := r.client.GetConversationsContext(ctx, params)
		if err != nil {
			return "", err
		}
		for _, ch := range channels {
			if ch.Name == name {
				return ch.ID, nil
			}
		}
		if next == "" {
			return "", nil
		}
		params.Cursor = next
	}
}

// Forget drops cached resolutions so renamed channels are looked up again
func (r *ChannelResolver) Forget() {
	r.mu.Lock()
	r.known = make(map[string]string)
	r.mu.Unlock()
}

// isChannelID reports whether s looks like a public (C) or private (G)
// channel ID.
func isChannelID(s string) bool {
	if len(s) < 9 || len(s) > 15 || (s[0] != 'C' && s[0] != 'G') {
		return false
	}
	return strings.IndexFunc(s[1:], func(c rune) bool {
		return !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9')
	}) < 0
}
