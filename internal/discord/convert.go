package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/loykin/bedrockd/internal/gateway"
	"github.com/loykin/bedrockd/internal/status"
)

// ArtifactEmbed renders a status artifact as a Discord embed.
func ArtifactEmbed(a status.Artifact) *discordgo.MessageEmbed {
	return Embed(gateway.StatusEmbed(a, ""))
}

// Embed converts a gateway embed.
func Embed(e *gateway.Embed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	me := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		me.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return me
}

// ApplicationCommands builds the slash command definitions.
func ApplicationCommands(specs []gateway.CommandSpec) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, s := range specs {
		cmd := &discordgo.ApplicationCommand{Name: s.Name, Description: s.Description}
		for _, a := range s.Args {
			cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        a.Name,
				Description: a.Description,
				Required:    true,
			})
		}
		out = append(out, cmd)
	}
	return out
}

// Request extracts a gateway request from a slash command interaction. It
// returns false for other interaction types.
func Request(i *discordgo.Interaction) (gateway.Request, bool) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return gateway.Request{}, false
	}
	data := i.ApplicationCommandData()
	req := gateway.Request{Command: data.Name, Args: map[string]string{}}
	switch {
	case i.Member != nil && i.Member.User != nil:
		req.UserID = i.Member.User.ID
	case i.User != nil:
		req.UserID = i.User.ID
	}
	for _, o := range data.Options {
		if o.Type == discordgo.ApplicationCommandOptionString {
			req.Args[o.Name] = o.StringValue()
		}
	}
	return req, true
}

func interactionData(r gateway.Response) *discordgo.InteractionResponseData {
	d := &discordgo.InteractionResponseData{Content: r.Content}
	if e := Embed(r.Embed); e != nil {
		d.Embeds = []*discordgo.MessageEmbed{e}
	}
	if r.Ephemeral {
		d.Flags = discordgo.MessageFlagsEphemeral
	}
	return d
}

func webhookEdit(r gateway.Response) *discordgo.WebhookEdit {
	content := r.Content
	embeds := []*discordgo.MessageEmbed{}
	if e := Embed(r.Embed); e != nil {
		embeds = append(embeds, e)
	}
	return &discordgo.WebhookEdit{Content: &content, Embeds: &embeds}
}
