// Package hil implements the human-in-the-loop layer: channels that deliver
// review requests to humans, resume-token issuance and consumption,
// AI-assisted classification of replies, and the timer service that fires
// HIL timeouts and FLOW wait deadlines.
package hil

import (
	"context"
	"sync"

	"github.com/slack-go/slack"
)

// Message is one rendered review request.
type Message struct {
	Channel string
	Text    string
	// ThreadTS threads a Slack message under an earlier one.
	ThreadTS string
}

// Channel delivers a message to a human and returns correlation data the
// resume layer can match replies against (e.g. a Slack thread ts).
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message, credential string) (map[string]any, error)
}

// SlackChannel delivers via slack-go chat.postMessage.
type SlackChannel struct {
	newClient func(token string) slackPoster
}

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// NewSlackChannel builds the production Slack channel.
func NewSlackChannel() *SlackChannel {
	return &SlackChannel{newClient: func(token string) slackPoster {
		return slack.New(token)
	}}
}

// NewSlackChannelWithClient builds a channel over a custom client
// constructor; tests use this.
func NewSlackChannelWithClient(newClient func(token string) slackPoster) *SlackChannel {
	return &SlackChannel{newClient: newClient}
}

// Name implements Channel.
func (s *SlackChannel) Name() string { return "SLACK" }

// Send implements Channel.
func (s *SlackChannel) Send(ctx context.Context, msg Message, credential string) (map[string]any, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadTS))
	}
	channelID, ts, err := s.newClient(credential).PostMessageContext(ctx, msg.Channel, opts...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"channel_id": channelID, "message_ts": ts}, nil
}

// ManualChannel registers a review task in process instead of calling an
// external service; the gateway surfaces pending tasks to reviewers.
type ManualChannel struct {
	mu    sync.Mutex
	tasks []Message
}

// NewManualChannel builds an empty manual-review channel.
func NewManualChannel() *ManualChannel { return &ManualChannel{} }

// Name implements Channel.
func (m *ManualChannel) Name() string { return "MANUAL" }

// Send implements Channel.
func (m *ManualChannel) Send(_ context.Context, msg Message, _ string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, msg)
	return map[string]any{"task_index": len(m.tasks) - 1}, nil
}

// PendingTasks returns the registered review tasks.
func (m *ManualChannel) PendingTasks() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.tasks))
	copy(out, m.tasks)
	return out
}
