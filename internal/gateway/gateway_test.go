package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/bedrockd/internal/backup"
	"github.com/loykin/bedrockd/internal/supervisor"
)

type fakeController struct {
	mu       sync.Mutex
	snap     supervisor.Snapshot
	calls    []string
	startErr error
	stopErr  error
	sayErr   error
	said     []string
}

func (f *fakeController) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeController) Start(context.Context) error {
	f.record("start")
	if f.startErr == nil {
		f.snap.State = supervisor.StateOnline
	}
	return f.startErr
}

func (f *fakeController) Stop(context.Context) error {
	f.record("stop")
	if f.stopErr == nil {
		f.snap.State = supervisor.StateOffline
	}
	return f.stopErr
}

func (f *fakeController) Restart(context.Context) error {
	f.record("restart")
	return nil
}

func (f *fakeController) SendMessage(_ context.Context, text string) error {
	f.record("say")
	if f.sayErr != nil {
		return f.sayErr
	}
	f.said = append(f.said, text)
	return nil
}

func (f *fakeController) Snapshot() supervisor.Snapshot { return f.snap }

type recorder struct {
	replies   []Response
	followups []Response
}

func (r *recorder) Reply(_ context.Context, resp Response) error {
	r.replies = append(r.replies, resp)
	return nil
}

func (r *recorder) Followup(_ context.Context, resp Response) error {
	r.followups = append(r.followups, resp)
	return nil
}

type fakeBackups struct {
	res backup.Result
	err error
}

func (f fakeBackups) Create(context.Context) (backup.Result, error) { return f.res, f.err }

type fakeLogs struct {
	lines []string
	err   error
	asked int
}

func (f *fakeLogs) Tail(n int) ([]string, error) {
	f.asked = n
	return f.lines, f.err
}

func newGateway(ctl *fakeController, opts Options) *Gateway {
	if opts.Operators == nil {
		opts.Operators = []string{"op-1", " op-2 "}
	}
	return New(ctl, opts)
}

func TestUnauthorizedStopLeavesServerUntouched(t *testing.T) {
	ctl := &fakeController{snap: supervisor.Snapshot{State: supervisor.StateOnline, PlayerCount: 2, MaxPlayers: 10}}
	g := newGateway(ctl, Options{})
	before := ctl.Snapshot()

	for _, cmd := range []string{CmdStart, CmdStop, CmdRestart, CmdSay, CmdBackup, CmdLogs} {
		resp := &recorder{}
		err := g.Handle(context.Background(), Request{Command: cmd, UserID: "stranger"}, resp)
		assert.ErrorIs(t, err, ErrUnauthorized, cmd)
		require.Len(t, resp.replies, 1)
		assert.True(t, resp.replies[0].Ephemeral)
		assert.Contains(t, resp.replies[0].Content, "permission")
	}
	assert.Empty(t, ctl.calls)
	assert.Equal(t, before, ctl.Snapshot())
}

func TestOpenCommandsForEveryone(t *testing.T) {
	ctl := &fakeController{snap: supervisor.Snapshot{
		State: supervisor.StateOnline, PlayerCount: 2, MaxPlayers: 10,
		Players: []string{"Alice", "Bob"}, StartTime: time.Now().Add(-time.Hour), TakenAt: time.Now(),
	}}
	g := newGateway(ctl, Options{})

	resp := &recorder{}
	require.NoError(t, g.Handle(context.Background(), Request{Command: CmdStatus, UserID: "stranger"}, resp))
	require.Len(t, resp.replies, 1)
	emb := resp.replies[0].Embed
	require.NotNil(t, emb)
	assert.Equal(t, "🎮 Minecraft Server Status", emb.Title)
	assert.Equal(t, "🟢 Online", emb.Fields[0].Value)
	assert.Equal(t, "2/10", emb.Fields[1].Value)

	resp = &recorder{}
	require.NoError(t, g.Handle(context.Background(), Request{Command: CmdPlayers, UserID: "stranger"}, resp))
	require.NotNil(t, resp.replies[0].Embed)
	assert.Contains(t, resp.replies[0].Embed.Description, "**2** players online")
	assert.Contains(t, resp.replies[0].Embed.Description, "Alice, Bob")
}

func TestPlayersWhileOffline(t *testing.T) {
	g := newGateway(&fakeController{snap: supervisor.Snapshot{State: supervisor.StateOffline}}, Options{})
	resp := &recorder{}
	require.NoError(t, g.Handle(context.Background(), Request{Command: CmdPlayers}, resp))
	assert.Equal(t, "❌ Server is offline!", resp.replies[0].Content)
}

func TestStartAcknowledgesThenFollowsUp(t *testing.T) {
	ctl := &fakeController{}
	g := newGateway(ctl, Options{})
	resp := &recorder{}
	require.NoError(t, g.Handle(context.Background(), Request{Command: CmdStart, UserID: "op-1"}, resp))
	require.Len(t, resp.replies, 1)
	assert.Equal(t, "🚀 Starting Minecraft server...", resp.replies[0].Content)
	require.Len(t, resp.followups, 1)
	assert.Equal(t, "✅ Minecraft server started successfully!", resp.followups[0].Content)
	assert.Equal(t, []string{"start"}, ctl.calls)
}

func TestLifecycleErrorsMapped(t *testing.T) {
	cases := []struct {
		name string
		ctl  *fakeController
		cmd  string
		want string
	}{
		{"already running", &fakeController{snap: supervisor.Snapshot{State: supervisor.StateOnline}, startErr: fmt.Errorf("start: %w", supervisor.ErrAlreadyInState)}, CmdStart, "⚠️ Server is already running!"},
		{"already stopped", &fakeController{stopErr: fmt.Errorf("stop: %w", supervisor.ErrAlreadyInState)}, CmdStop, "⚠️ Server is already stopped!"},
		{"busy", &fakeController{snap: supervisor.Snapshot{State: supervisor.StateStopping}, startErr: supervisor.ErrBusy}, CmdStart, "busy"},
		{"spawn", &fakeController{startErr: fmt.Errorf("%w: no such file", supervisor.ErrSpawn)}, CmdStart, "❌ Failed to start server!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := &recorder{}
			err := newGateway(tc.ctl, Options{}).Handle(context.Background(), Request{Command: tc.cmd, UserID: "op-2"}, resp)
			assert.Error(t, err)
			require.Len(t, resp.followups, 1)
			assert.Contains(t, resp.followups[0].Content, tc.want)
		})
	}
}

func TestSay(t *testing.T) {
	ctl := &fakeController{}
	g := newGateway(ctl, Options{})

	resp := &recorder{}
	require.NoError(t, g.Handle(context.Background(), Request{Command: CmdSay, UserID: "op-1", Args: map[string]string{ArgMessage: "restart in 5"}}, resp))
	assert.Equal(t, []string{"restart in 5"}, ctl.said)
	assert.Equal(t, `📢 Message sent: "restart in 5"`, resp.replies[0].Content)

	ctl.sayErr = supervisor.ErrOffline
	resp = &recorder{}
	err := g.Handle(context.Background(), Request{Command: CmdSay, UserID: "op-1", Args: map[string]string{ArgMessage: "hi"}}, resp)
	assert.ErrorIs(t, err, supervisor.ErrOffline)
	assert.Equal(t, "❌ Server is offline!", resp.replies[0].Content)

	resp = &recorder{}
	require.NoError(t, g.Handle(context.Background(), Request{Command: CmdSay, UserID: "op-1"}, resp))
	assert.True(t, resp.replies[0].Ephemeral)
}

func TestBackup(t *testing.T) {
	g := newGateway(&fakeController{}, Options{Backups: fakeBackups{res: backup.Result{Name: "backup_2024-05-01_09-03-07.zip", Size: 2048}}})
	resp := &recorder{}
	require.NoError(t, g.Handle(context.Background(), Request{Command: CmdBackup, UserID: "op-1"}, resp))
	assert.Equal(t, "💾 Creating backup...", resp.replies[0].Content)
	assert.Contains(t, resp.followups[0].Content, "backup_2024-05-01_09-03-07.zip")

	g = newGateway(&fakeController{}, Options{Backups: fakeBackups{err: backup.ErrBackupInProgress}})
	resp = &recorder{}
	assert.ErrorIs(t, g.Handle(context.Background(), Request{Command: CmdBackup, UserID: "op-1"}, resp), backup.ErrBackupInProgress)
	assert.Contains(t, resp.followups[0].Content, "already running")

	g = newGateway(&fakeController{}, Options{Backups: fakeBackups{err: errors.New("disk full")}})
	resp = &recorder{}
	assert.Error(t, g.Handle(context.Background(), Request{Command: CmdBackup, UserID: "op-1"}, resp))
	assert.Equal(t, "❌ Backup failed!", resp.followups[0].Content)
}

func TestLogs(t *testing.T) {
	logs := &fakeLogs{lines: []string{"line a", "line b"}}
	g := newGateway(&fakeController{}, Options{Logs: logs})
	resp := &recorder{}
	require.NoError(t, g.Handle(context.Background(), Request{Command: CmdLogs, UserID: "op-1"}, resp))
	assert.Equal(t, 20, logs.asked)
	require.NotNil(t, resp.replies[0].Embed)
	assert.Equal(t, "```\nline a\nline b\n```", resp.replies[0].Embed.Description)

	logs.err = errors.New("permission denied")
	resp = &recorder{}
	assert.Error(t, g.Handle(context.Background(), Request{Command: CmdLogs, UserID: "op-1"}, resp))
	assert.Equal(t, "❌ Could not retrieve logs!", resp.replies[0].Content)
}

func TestCodeBlockTruncatesOldestLines(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf("%03d %s", i, strings.Repeat("x", 40)))
	}
	out := codeBlock(lines)
	assert.LessOrEqual(t, len(out), maxDescription)
	assert.True(t, strings.HasSuffix(out, "199 "+strings.Repeat("x", 40)+"\n```"))
	assert.False(t, strings.Contains(out, "000 "))
}

func TestUnknownCommand(t *testing.T) {
	g := newGateway(&fakeController{}, Options{})
	err := g.Handle(context.Background(), Request{Command: "teleport", UserID: "op-1"}, &recorder{})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCommandsRegistry(t *testing.T) {
	var names []string
	for _, c := range Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"start", "stop", "restart", "status", "players", "say", "backup", "logs"}, names)
	assert.True(t, isOpen(CmdStatus))
	assert.True(t, isOpen(CmdPlayers))
	assert.False(t, isOpen(CmdStop))
}
