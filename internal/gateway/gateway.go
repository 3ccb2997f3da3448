// Package gateway authorizes operator commands and routes them to the
// supervisor and its collaborators. It is transport-agnostic; the Discord
// adapter feeds it requests and renders its responses.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/bedrockd/internal/backup"
	"github.com/loykin/bedrockd/internal/metrics"
	"github.com/loykin/bedrockd/internal/status"
	"github.com/loykin/bedrockd/internal/supervisor"
)

var (
	// ErrUnauthorized is returned when a non-operator issues a privileged command.
	ErrUnauthorized = errors.New("caller is not an operator")
	// ErrUnknownCommand is returned for commands the gateway does not route.
	ErrUnknownCommand = errors.New("unknown command")
)

// Command names.
const (
	CmdStart   = "start"
	CmdStop    = "stop"
	CmdRestart = "restart"
	CmdStatus  = "status"
	CmdPlayers = "players"
	CmdSay     = "say"
	CmdBackup  = "backup"
	CmdLogs    = "logs"

	// ArgMessage is the option carrying the say text.
	ArgMessage = "message"
)

// CommandSpec describes a command for registration with a chat platform.
type CommandSpec struct {
	Name        string
	Description string
	Args        []ArgSpec
	Open        bool // usable by anyone
}

// ArgSpec is a required string option.
type ArgSpec struct {
	Name        string
	Description string
}

// Commands lists every routed command in registration order.
func Commands() []CommandSpec {
	return []CommandSpec{
		{Name: CmdStart, Description: "Start the Minecraft server"},
		{Name: CmdStop, Description: "Stop the Minecraft server"},
		{Name: CmdRestart, Description: "Restart the Minecraft server"},
		{Name: CmdStatus, Description: "Check server status", Open: true},
		{Name: CmdPlayers, Description: "List online players", Open: true},
		{Name: CmdSay, Description: "Send a message to the server", Args: []ArgSpec{{Name: ArgMessage, Description: "Message to send"}}},
		{Name: CmdBackup, Description: "Create a server backup"},
		{Name: CmdLogs, Description: "Get recent server logs"},
	}
}

func isOpen(name string) bool {
	for _, c := range Commands() {
		if c.Name == name {
			return c.Open
		}
	}
	return false
}

// Request is one operator command.
type Request struct {
	Command string
	UserID  string
	Args    map[string]string
}

// Embed is rich response content.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []status.Field
	Footer      string
	Timestamp   time.Time
}

// Response is what the transport shows the caller.
type Response struct {
	Content   string
	Embed     *Embed
	Ephemeral bool
}

// Responder delivers responses. Reply is the immediate acknowledgement;
// Followup replaces it once a long operation finishes.
type Responder interface {
	Reply(ctx context.Context, r Response) error
	Followup(ctx context.Context, r Response) error
}

// Controller is the supervisor surface the gateway drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	SendMessage(ctx context.Context, text string) error
	Snapshot() supervisor.Snapshot
}

// Backuper creates world backups.
type Backuper interface {
	Create(ctx context.Context) (backup.Result, error)
}

// LogSource returns trailing log lines.
type LogSource interface {
	Tail(n int) ([]string, error)
}

// Options configures a Gateway.
type Options struct {
	Operators []string
	Backups   Backuper
	Logs      LogSource
	TailLines int
	Logger    *slog.Logger
	// OpTimeout bounds how long a command waits for the supervisor.
	OpTimeout time.Duration
}

// Gateway routes commands.
type Gateway struct {
	ctl       Controller
	operators map[string]struct{}
	backups   Backuper
	logs      LogSource
	tailLines int
	opTimeout time.Duration
	logger    *slog.Logger
}

func New(ctl Controller, opts Options) *Gateway {
	g := &Gateway{
		ctl:       ctl,
		operators: make(map[string]struct{}, len(opts.Operators)),
		backups:   opts.Backups,
		logs:      opts.Logs,
		tailLines: opts.TailLines,
		opTimeout: opts.OpTimeout,
		logger:    opts.Logger,
	}
	for _, id := range opts.Operators {
		if id = strings.TrimSpace(id); id != "" {
			g.operators[id] = struct{}{}
		}
	}
	if g.tailLines <= 0 {
		g.tailLines = 20
	}
	if g.opTimeout <= 0 {
		g.opTimeout = 5 * time.Minute
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "gateway")
	return g
}

// IsOperator reports whether id may run privileged commands.
func (g *Gateway) IsOperator(id string) bool {
	_, ok := g.operators[id]
	return ok
}

// Handle authorizes and runs req, answering through resp. The returned error
// is the outcome of the operation, already reported to the caller.
func (g *Gateway) Handle(ctx context.Context, req Request, resp Responder) error {
	log := g.logger.With("command", req.Command, "user", req.UserID)
	if !g.IsOperator(req.UserID) && !isOpen(req.Command) {
		log.Warn("unauthorized command")
		metrics.IncCommand(req.Command, "unauthorized")
		_ = resp.Reply(ctx, Response{Content: "❌ You don't have permission to use this command!", Ephemeral: true})
		return ErrUnauthorized
	}

	var err error
	switch req.Command {
	case CmdStart:
		err = g.lifecycle(ctx, resp, "🚀 Starting Minecraft server...", "✅ Minecraft server started successfully!", "❌ Failed to start server!", g.ctl.Start)
	case CmdStop:
		err = g.lifecycle(ctx, resp, "🛑 Stopping Minecraft server...", "✅ Minecraft server stopped successfully!", "❌ Failed to stop server!", g.ctl.Stop)
	case CmdRestart:
		err = g.lifecycle(ctx, resp, "🔄 Restarting Minecraft server...", "✅ Minecraft server restarted successfully!", "❌ Failed to restart server!", g.ctl.Restart)
	case CmdStatus:
		err = resp.Reply(ctx, Response{Embed: StatusEmbed(status.Render(g.ctl.Snapshot()), "🎮 Minecraft Server Status")})
	case CmdPlayers:
		err = g.players(ctx, resp)
	case CmdSay:
		err = g.say(ctx, req, resp)
	case CmdBackup:
		err = g.backup(ctx, resp)
	case CmdLogs:
		err = g.tail(ctx, resp)
	default:
		_ = resp.Reply(ctx, Response{Content: "❌ Unknown command!", Ephemeral: true})
		err = fmt.Errorf("%w: %s", ErrUnknownCommand, req.Command)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.Info("command failed", "error", err)
	} else {
		log.Info("command handled")
	}
	metrics.IncCommand(req.Command, outcome)
	return err
}

func (g *Gateway) lifecycle(ctx context.Context, resp Responder, ack, okMsg, failMsg string, op func(context.Context) error) error {
	if err := resp.Reply(ctx, Response{Content: ack}); err != nil {
		g.logger.Warn("acknowledge failed", "error", err)
	}
	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	err := op(opCtx)
	var msg string
	switch {
	case err == nil:
		msg = okMsg
	case errors.Is(err, supervisor.ErrAlreadyInState):
		if g.ctl.Snapshot().State == supervisor.StateOffline {
			msg = "⚠️ Server is already stopped!"
		} else {
			msg = "⚠️ Server is already running!"
		}
	case errors.Is(err, supervisor.ErrBusy):
		msg = "⏳ Server is busy with another operation, try again shortly."
	default:
		msg = failMsg + " " + err.Error()
	}
	if ferr := resp.Followup(ctx, Response{Content: msg}); ferr != nil {
		g.logger.Warn("follow-up failed", "error", ferr)
	}
	return err
}

func (g *Gateway) players(ctx context.Context, resp Responder) error {
	snap := g.ctl.Snapshot()
	if !snap.Online() {
		return resp.Reply(ctx, Response{Content: "❌ Server is offline!"})
	}
	desc := fmt.Sprintf("**%d** players online", snap.PlayerCount)
	if len(snap.Players) > 0 {
		desc += "\n" + strings.Join(snap.Players, ", ")
	}
	return resp.Reply(ctx, Response{Embed: &Embed{
		Title:       "👥 Online Players",
		Description: desc,
		Color:       status.ColorOnline,
		Timestamp:   snap.TakenAt,
	}})
}

func (g *Gateway) say(ctx context.Context, req Request, resp Responder) error {
	text := strings.TrimSpace(req.Args[ArgMessage])
	if text == "" {
		return resp.Reply(ctx, Response{Content: "❌ Message is required!", Ephemeral: true})
	}
	if err := g.ctl.SendMessage(ctx, text); err != nil {
		if errors.Is(err, supervisor.ErrOffline) {
			_ = resp.Reply(ctx, Response{Content: "❌ Server is offline!"})
		} else {
			_ = resp.Reply(ctx, Response{Content: "❌ Failed to send message!"})
		}
		return err
	}
	return resp.Reply(ctx, Response{Content: fmt.Sprintf("📢 Message sent: %q", text)})
}

func (g *Gateway) backup(ctx context.Context, resp Responder) error {
	if g.backups == nil {
		return resp.Reply(ctx, Response{Content: "❌ Backups are not configured!", Ephemeral: true})
	}
	_ = resp.Reply(ctx, Response{Content: "💾 Creating backup..."})
	res, err := g.backups.Create(ctx)
	msg := fmt.Sprintf("✅ Backup created: %s (%s)", res.Name, res.HumanSize())
	switch {
	case errors.Is(err, backup.ErrBackupInProgress):
		msg = "⏳ A backup is already running!"
	case err != nil:
		msg = "❌ Backup failed!"
	}
	if ferr := resp.Followup(ctx, Response{Content: msg}); ferr != nil {
		g.logger.Warn("follow-up failed", "error", ferr)
	}
	return err
}

func (g *Gateway) tail(ctx context.Context, resp Responder) error {
	if g.logs == nil {
		return resp.Reply(ctx, Response{Content: "❌ Could not retrieve logs!"})
	}
	lines, err := g.logs.Tail(g.tailLines)
	if err != nil {
		_ = resp.Reply(ctx, Response{Content: "❌ Could not retrieve logs!"})
		return err
	}
	return resp.Reply(ctx, Response{Embed: &Embed{
		Title:       "📋 Recent Server Logs",
		Description: codeBlock(lines),
		Color:       0x0099ff,
		Timestamp:   time.Now(),
	}})
}

// maxDescription is Discord's embed description limit.
const maxDescription = 4096

func codeBlock(lines []string) string {
	const fence = "```\n"
	body := strings.Join(lines, "\n")
	room := maxDescription - 2*len(fence)
	if len(body) > room {
		body = body[len(body)-room:]
		if i := strings.IndexByte(body, '\n'); i >= 0 {
			body = body[i+1:]
		}
	}
	return fence + body + "\n```"
}

// StatusEmbed converts a rendered artifact into an embed.
func StatusEmbed(a status.Artifact, title string) *Embed {
	if title == "" {
		title = a.Title
	}
	return &Embed{
		Title:     title,
		Color:     a.Color,
		Fields:    a.Fields(),
		Footer:    a.Footer,
		Timestamp: a.Timestamp,
	}
}
