// Package discord connects the command gateway and the status chat sink to
// a Discord bot session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/loykin/bedrockd/internal/gateway"
)

// DefaultPresence is shown as "Watching <presence>".
const DefaultPresence = "Minecraft Server"

// Handler runs one command request.
type Handler interface {
	Handle(ctx context.Context, req gateway.Request, resp gateway.Responder) error
}

type Config struct {
	Token    string
	GuildID  string
	Presence string
}

// Bot owns the gateway websocket session.
type Bot struct {
	cfg     Config
	session *discordgo.Session
	channel *Channel
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	onReady []func()
	ctx     context.Context
	closing bool // no new dispatches once set
	wg      sync.WaitGroup
}

func New(cfg Config, h Handler, logger *slog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if cfg.Presence == "" {
		cfg.Presence = DefaultPresence
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	return &Bot{
		cfg:     cfg,
		session: s,
		channel: NewChannel(s),
		handler: h,
		logger:  logger.With("component", "discord"),
		ctx:     context.Background(),
	}, nil
}

// Channel returns the status channel client bound to this session.
func (b *Bot) Channel() *Channel { return b.channel }

// OnReady registers fn to run each time the session becomes ready.
func (b *Bot) OnReady(fn func()) {
	b.mu.Lock()
	b.onReady = append(b.onReady, fn)
	b.mu.Unlock()
}

// Run connects and serves interactions until ctx is cancelled. In-flight
// commands are waited for before the session closes.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	removeReady := b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.ready(s, r)
	})
	removeInteraction := b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.dispatch(b.context(), s, i.Interaction)
	})
	defer removeReady()
	defer removeInteraction()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	b.logger.Info("discord session opened")
	<-ctx.Done()
	b.drain()
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	b.logger.Info("discord session closed")
	return nil
}

func (b *Bot) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bot) ready(s *discordgo.Session, r *discordgo.Ready) {
	b.channel.SetSelfID(r.User.ID)
	b.logger.Info("discord bot ready", "user", r.User.Username)

	if err := s.UpdateWatchStatus(0, b.cfg.Presence); err != nil {
		b.logger.Warn("set presence failed", "error", err)
	}
	cmds := ApplicationCommands(gateway.Commands())
	if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.cfg.GuildID, cmds); err != nil {
		b.logger.Error("registering slash commands failed", "error", err)
	} else {
		b.logger.Info("slash commands registered", "count", len(cmds), "guild", b.cfg.GuildID)
	}

	b.mu.Lock()
	fns := append([]func(){}, b.onReady...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// dispatch runs the handler on its own goroutine; lifecycle commands can take
// minutes.
func (b *Bot) dispatch(ctx context.Context, s Session, i *discordgo.Interaction) {
	req, ok := Request(i)
	if !ok {
		return
	}
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		b.logger.Debug("interaction dropped during shutdown", "command", req.Command)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		_ = b.handler.Handle(ctx, req, &responder{s: s, i: i})
	}()
}

// drain stops accepting interactions and waits for in-flight commands.
func (b *Bot) drain() {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()
	b.wg.Wait()
}
