package status

import (
	"context"
	"fmt"
)

// DefaultHistoryLimit is how many recent channel messages are searched for
// the existing status message.
const DefaultHistoryLimit = 10

// Message is the subset of a chat message the chat sink inspects.
type Message struct {
	ID         string
	AuthorID   string
	HasEmbeds  bool
	EmbedTitle string // title of the first embed
}

// ChannelClient is the chat platform API used by ChatSink.
type ChannelClient interface {
	SelfID() string
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	SendStatus(ctx context.Context, channelID string, a Artifact) (string, error)
	EditStatus(ctx context.Context, channelID, messageID string, a Artifact) error
}

// ChatSink keeps a single status message in a chat channel: the bot's most
// recent embed carrying the status title is edited, otherwise a new one is
// sent. Command replies posted by the bot in the same channel have other
// titles and are left alone.
type ChatSink struct {
	client    ChannelClient
	channelID string
	limit     int
}

func NewChatSink(client ChannelClient, channelID string, limit int) *ChatSink {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ChatSink{client: client, channelID: channelID, limit: limit}
}

func (c *ChatSink) Name() string { return "chat:" + c.channelID }

func (c *ChatSink) Publish(ctx context.Context, a Artifact) error {
	msgs, err := c.client.RecentMessages(ctx, c.channelID, c.limit)
	if err != nil {
		return fmt.Errorf("fetch recent messages: %w", err)
	}
	self := c.client.SelfID()
	for _, m := range msgs {
		if m.AuthorID == self && m.HasEmbeds && m.EmbedTitle == a.Title {
			if err := c.client.EditStatus(ctx, c.channelID, m.ID, a); err != nil {
				return fmt.Errorf("edit status message %s: %w", m.ID, err)
			}
			return nil
		}
	}
	if _, err := c.client.SendStatus(ctx, c.channelID, a); err != nil {
		return fmt.Errorf("send status message: %w", err)
	}
	return nil
}
