package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/bedrockd/internal/config"
	"github.com/loykin/bedrockd/pkg/client"
)

func TestRootHasCommands(t *testing.T) {
	root := buildRoot()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "status", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestVersionCommand(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "bedrockd dev\n", out.String())
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "online: 3/10 players, up 2 hours",
		formatStatus(client.Status{Status: "online", Players: 3, MaxPlayers: 10, Uptime: "2h 5m"}))
	assert.Equal(t, "offline: 0/10 players",
		formatStatus(client.Status{Status: "offline", MaxPlayers: 10, Uptime: "Not running"}))
	assert.Equal(t, "starting: 0/10 players",
		formatStatus(client.Status{Status: "starting", MaxPlayers: 10, Uptime: "0h 0m"}))
}

func TestRunStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"online","players":1,"maxPlayers":10,"uptime":"0h 30m"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runStatusCommand(context.Background(), &out, &StatusFlags{URL: srv.URL, Timeout: time.Second}))
	assert.Equal(t, "online: 1/10 players, up 30 minutes\n", out.String())

	out.Reset()
	require.NoError(t, runStatusCommand(context.Background(), &out, &StatusFlags{URL: srv.URL, Timeout: time.Second, JSON: true}))
	var st client.Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	assert.Equal(t, 1, st.Players)

	err := runStatusCommand(context.Background(), io.Discard, &StatusFlags{URL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestDaemonArgs(t *testing.T) {
	in := []string{"serve", "--daemonize", "--pidfile", "/run/b.pid", "--logfile=/tmp/b.log", "--autostart", "--config", "c.toml"}
	assert.Equal(t, []string{"serve", "--autostart", "--config", "c.toml"}, daemonArgs(in))
}

func TestWritePidFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bedrockd.pid")
	require.NoError(t, writePidFile(p, 4242))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(4242), string(b))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServeEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like shell")
	}
	if testing.Short() {
		t.Skip("spawns a child process and an HTTP server")
	}
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Command = `sh -c 'echo "Server started."; while read l; do [ "$l" = stop ] && exit 0; done'`
	cfg.Server.WorkDir = dir
	cfg.Server.GracePeriod = 2 * time.Second
	cfg.Server.KillWait = 2 * time.Second
	cfg.Schedule.Restart = ""
	cfg.HTTP.Listen = freeAddr(t)
	cfg.Log.Dir = filepath.Join(dir, "logs")
	cfg.Log.Color = false
	cfg.Backup.Source = filepath.Join(dir, "worlds")
	cfg.Backup.Dir = filepath.Join(dir, "backups")
	cfg.History.DSN = "sqlite://" + filepath.Join(dir, "history.db")
	cfg.Metrics.SampleInterval = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, true, io.Discard) }()

	c := client.New(client.Config{BaseURL: "http://" + cfg.HTTP.Listen, Timeout: time.Second})
	require.Eventually(t, func() bool {
		st, err := c.Status(context.Background())
		return err == nil && st.Online()
	}, 10*time.Second, 50*time.Millisecond)

	resp, err := http.Get("http://" + cfg.HTTP.Listen + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "bedrockd_server_starts_total"))

	// a second instance must refuse the lock
	second := *cfg
	second.HTTP.Listen = freeAddr(t)
	err = serve(context.Background(), &second, false, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	lines, err := os.ReadFile(filepath.Join(cfg.Log.Dir, "server.log"))
	require.NoError(t, err)
	assert.Contains(t, string(lines), "Server started.")
}
