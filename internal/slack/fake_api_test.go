package slack

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"
)

// fakeAPI records calls and serves canned Slack responses.
type fakeAPI struct {
	mu sync.Mutex

	posts     []fakePost
	updates   []string
	added     []string
	removed   []string
	addErr    error
	removeErr error
	postErr   error

	users    map[string]*slack.User
	replies  map[string][]slack.Message
	pages    map[string][][]slack.Channel // type -> pages
	listErr  map[string]error
	listCall int
}

type fakePost struct {
	channel string
	options int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		users:   make(map[string]*slack.User),
		replies: make(map[string][]slack.Message),
		pages:   make(map[string][][]slack.Channel),
		listErr: make(map[string]error),
	}
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.posts = append(f.posts, fakePost{channel: channelID, options: len(options)})
	return channelID, fmt.Sprintf("800000.%06d", len(f.posts)), nil
}

func (f *fakeAPI) UpdateMessageContext(_ context.Context, channelID, timestamp string, _ ...slack.MsgOption) (string, string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, channelID+"/"+timestamp)
	return channelID, timestamp, "", nil
}

func (f *fakeAPI) AddReactionContext(_ context.Context, name string, item slack.ItemRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, name+"@"+item.Channel+"/"+item.Timestamp)
	return f.addErr
}

func (f *fakeAPI) RemoveReactionContext(_ context.Context, name string, item slack.ItemRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name+"@"+item.Channel+"/"+item.Timestamp)
	return f.removeErr
}

func (f *fakeAPI) GetUserInfoContext(_ context.Context, user string) (*slack.User, error) {
	if u, ok := f.users[user]; ok {
		return u, nil
	}
	return nil, slack.SlackErrorResponse{Err: "user_not_found"}
}

func (f *fakeAPI) GetPermalinkContext(_ context.Context, params *slack.PermalinkParameters) (string, error) {
	return "https://example.slack.com/archives/" + params.Channel + "/p" + params.Ts, nil
}

func (f *fakeAPI) GetConversationRepliesContext(_ context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	msgs, ok := f.replies[params.ChannelID+"/"+params.Timestamp]
	if !ok {
		return nil, false, "", slack.SlackErrorResponse{Err: "thread_not_found"}
	}
	return msgs, false, "", nil
}

func (f *fakeAPI) GetConversationsContext(_ context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCall++
	kind := params.Types[0]
	if err := f.listErr[kind]; err != nil {
		return nil, "", err
	}
	pages := f.pages[kind]
	idx := 0
	if params.Cursor != "" {
		fmt.Sscanf(params.Cursor, "page-%d", &idx)
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = fmt.Sprintf("page-%d", idx+1)
	}
	return pages[idx], next, nil
}

func message(ts, threadTS string) slack.Message {
	return slack.Message{Msg: slack.Msg{Timestamp: ts, ThreadTimestamp: threadTS}}
}

func channel(id, name string) slack.Channel {
	var c slack.Channel
	c.ID = id
	c.Name = name
	return c
}
