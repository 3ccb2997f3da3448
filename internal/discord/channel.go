package discord

import (
	"context"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/loykin/bedrockd/internal/gateway"
	"github.com/loykin/bedrockd/internal/status"
)

// Session is the subset of *discordgo.Session the adapter calls.
type Session interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Channel implements status.ChannelClient on a Discord session.
type Channel struct {
	s      Session
	selfID atomic.Value // string, set once the session is ready
}

func NewChannel(s Session) *Channel {
	c := &Channel{s: s}
	c.selfID.Store("")
	return c
}

// SetSelfID records the bot user ID. Until it is set no message is
// recognised as the bot's own.
func (c *Channel) SetSelfID(id string) { c.selfID.Store(id) }

func (c *Channel) SelfID() string { return c.selfID.Load().(string) }

func (c *Channel) RecentMessages(ctx context.Context, channelID string, limit int) ([]status.Message, error) {
	msgs, err := c.s.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]status.Message, 0, len(msgs))
	for _, m := range msgs {
		sm := status.Message{ID: m.ID, HasEmbeds: len(m.Embeds) > 0}
		if sm.HasEmbeds && m.Embeds[0] != nil {
			sm.EmbedTitle = m.Embeds[0].Title
		}
		if m.Author != nil {
			sm.AuthorID = m.Author.ID
		}
		out = append(out, sm)
	}
	return out, nil
}

func (c *Channel) SendStatus(ctx context.Context, channelID string, a status.Artifact) (string, error) {
	m, err := c.s.ChannelMessageSendEmbed(channelID, ArtifactEmbed(a), discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (c *Channel) EditStatus(ctx context.Context, channelID, messageID string, a status.Artifact) error {
	_, err := c.s.ChannelMessageEditEmbed(channelID, messageID, ArtifactEmbed(a), discordgo.WithContext(ctx))
	return err
}

// responder answers one interaction: Reply posts the initial response and
// Followup edits it in place.
type responder struct {
	s       Session
	i       *discordgo.Interaction
	replied atomic.Bool
}

func (r *responder) Reply(ctx context.Context, resp gateway.Response) error {
	if r.replied.Swap(true) {
		return r.edit(ctx, resp)
	}
	return r.respond(ctx, resp)
}

// Followup falls back to an initial response when nothing was sent yet.
func (r *responder) Followup(ctx context.Context, resp gateway.Response) error {
	if !r.replied.Swap(true) {
		return r.respond(ctx, resp)
	}
	return r.edit(ctx, resp)
}

func (r *responder) respond(ctx context.Context, resp gateway.Response) error {
	return r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: interactionData(resp),
	}, discordgo.WithContext(ctx))
}

func (r *responder) edit(ctx context.Context, resp gateway.Response) error {
	_, err := r.s.InteractionResponseEdit(r.i, webhookEdit(resp), discordgo.WithContext(ctx))
	return err
}
