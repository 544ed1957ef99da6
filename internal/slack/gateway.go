package slack

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/output"
	"github.com/akmatori/ticketbot/internal/services"
)

// API is the subset of *slack.Client the gateway uses
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetPermalinkContext(ctx context.Context, params *slack.PermalinkParameters) (string, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
}

var _ API = (*slack.Client)(nil)

// Gateway implements services.Gateway on the Slack Web API
type Gateway struct {
	api            API
	markerReaction string
	logger         *zap.Logger
}

var _ services.Gateway = (*Gateway)(nil)

// NewGateway creates a gateway that marks closed tickets with markerReaction
func NewGateway(api API, markerReaction string, logger *zap.Logger) *Gateway {
	return &Gateway{api: api, markerReaction: markerReaction, logger: logger}
}

// PostForm posts the ticket form as a thread reply
func (g *Gateway) PostForm(ctx context.Context, thread database.MessageRef, msg output.Message) (database.MessageRef, error) {
	return g.PostMessage(ctx, thread, msg)
}

// EditForm replaces the content of a posted form
func (g *Gateway) EditForm(ctx context.Context, ref database.MessageRef, msg output.Message) error {
	_, _, _, err := g.api.UpdateMessageContext(ctx, ref.ChannelID, ref.TS, msgOptions(msg)...)
	if err != nil {
		return fmt.Errorf("update message %s/%s: %w", ref.ChannelID, ref.TS, err)
	}
	return nil
}

// SetMarkerReaction adds or removes the marker reaction. Adding an existing
// reaction or removing a missing one succeeds.
func (g *Gateway) SetMarkerReaction(ctx context.Context, ref database.MessageRef, present bool) error {
	item := slack.NewRefToMessage(ref.ChannelID, ref.TS)
	if present {
		err := g.api.AddReactionContext(ctx, g.markerReaction, item)
		if err != nil && errorCode(err) == "already_reacted" {
			g.logger.Debug("Marker already present", zap.String("channel", ref.ChannelID), zap.String("ts", ref.TS))
			return nil
		}
		if err != nil {
			return fmt.Errorf("add reaction %s: %w", g.markerReaction, err)
		}
		return nil
	}
	err := g.api.RemoveReactionContext(ctx, g.markerReaction, item)
	if err != nil && errorCode(err) != "no_reaction" {
		return fmt.Errorf("remove reaction %s: %w", g.markerReaction, err)
	}
	return nil
}

// PostMessage posts msg in thread, or top-level when thread.TS is empty
func (g *Gateway) PostMessage(ctx context.Context, thread database.MessageRef, msg output.Message) (database.MessageRef, error) {
	opts := msgOptions(msg)
	if thread.TS != "" {
		opts = append(opts, slack.MsgOptionTS(thread.TS))
	}
	channel, ts, err := g.api.PostMessageContext(ctx, thread.ChannelID, opts...)
	if err != nil {
		return database.MessageRef{}, fmt.Errorf("post message to %s: %w", thread.ChannelID, err)
	}
	return database.MessageRef{ChannelID: channel, TS: ts}, nil
}

// ResolveUserIdentity looks up a user's display name and email
func (g *Gateway) ResolveUserIdentity(ctx context.Context, userID string) (services.UserIdentity, error) {
	user, err := g.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return services.UserIdentity{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	return services.UserIdentity{ID: user.ID, Name: name, Email: user.Profile.Email}, nil
}

// GetPermalink returns the permalink of a message
func (g *Gateway) GetPermalink(ctx context.Context, ref database.MessageRef) (string, error) {
	link, err := g.api.GetPermalinkContext(ctx, &slack.PermalinkParameters{Channel: ref.ChannelID, Ts: ref.TS})
	if err != nil {
		return "", fmt.Errorf("get permalink %s/%s: %w", ref.ChannelID, ref.TS, err)
	}
	return link, nil
}

// IsThreadReply reports whether the message at ts is a reply inside a
// thread. Reaction events do not carry the thread, so it is looked up.
func (g *Gateway) IsThreadReply(ctx context.Context, channel, ts string) (bool, error) {
	msgs, _, _, err := g.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: ts,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return false, fmt.Errorf("get message %s/%s: %w", channel, ts, err)
	}
	for _, m := range msgs {
		if m.Timestamp == ts {
			return m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp, nil
		}
	}
	return false, fmt.Errorf("message %s/%s not found", channel, ts)
}

func msgOptions(msg output.Message) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}
	return opts
}

// errorCode extracts the Slack API error code, e.g. "already_reacted"
func errorCode(err error) string {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err
	}
	return err.Error()
}
