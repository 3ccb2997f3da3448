// Package status renders supervisor snapshots into status artifacts and keeps
// every configured sink showing the latest one.
package status

import (
	"fmt"
	"time"

	"github.com/loykin/bedrockd/internal/supervisor"
)

// Embed colors.
const (
	ColorOnline     = 0x00ff00
	ColorOffline    = 0xff0000
	ColorTransition = 0xffcc00
)

const (
	DefaultTitle      = "🎮 Minecraft Bedrock Server"
	DefaultServerName = "Bedrock Server"
	NotRunning        = "Not running"
	footerText        = "Last updated"
)

// Field is one named value of an artifact, in display order.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Artifact is the rendered, sink-independent status.
type Artifact struct {
	Title     string
	Online    bool
	Color     int
	Status    string
	Players   string
	Uptime    string
	Connect   string
	Footer    string
	Timestamp time.Time
}

// Fields returns the artifact's fields in display order.
func (a Artifact) Fields() []Field {
	return []Field{
		{Name: "📊 Status", Value: a.Status, Inline: true},
		{Name: "👥 Players", Value: a.Players, Inline: true},
		{Name: "⏰ Uptime", Value: a.Uptime, Inline: true},
		{Name: "🌐 Connect", Value: a.Connect, Inline: false},
	}
}

// Render turns a snapshot into an artifact. The timestamp is the snapshot
// instant.
func Render(snap supervisor.Snapshot) Artifact {
	a := Artifact{
		Title:     DefaultTitle,
		Online:    snap.Online(),
		Players:   fmt.Sprintf("%d/%d", snap.PlayerCount, snap.MaxPlayers),
		Uptime:    FormatUptime(snap),
		Connect:   snap.ServerName,
		Footer:    footerText,
		Timestamp: snap.TakenAt,
	}
	if a.Connect == "" {
		a.Connect = DefaultServerName
	}
	switch snap.State {
	case supervisor.StateOnline:
		a.Status, a.Color = "🟢 Online", ColorOnline
	case supervisor.StateStarting:
		a.Status, a.Color = "🟡 Starting", ColorTransition
	case supervisor.StateStopping:
		a.Status, a.Color = "🟡 Stopping", ColorTransition
	default:
		a.Status, a.Color = "🔴 Offline", ColorOffline
	}
	return a
}

// FormatUptime renders "<h>h <m>m", or "Not running" without a start time.
func FormatUptime(snap supervisor.Snapshot) string {
	if snap.StartTime.IsZero() {
		return NotRunning
	}
	d := snap.Uptime()
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}

// View is the JSON body of the HTTP status endpoint.
type View struct {
	Status     string `json:"status"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Uptime     string `json:"uptime"`
}

// NewView renders the HTTP representation of snap.
func NewView(snap supervisor.Snapshot) View {
	return View{
		Status:     snap.State.String(),
		Players:    snap.PlayerCount,
		MaxPlayers: snap.MaxPlayers,
		Uptime:     FormatUptime(snap),
	}
}
