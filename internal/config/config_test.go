package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Bedrock Server", c.Server.Name)
	assert.Equal(t, "./bedrock_server", c.Server.Command)
	assert.Equal(t, 10, c.Server.MaxPlayers)
	assert.Equal(t, "Server started.", c.Server.ReadyMarker)
	assert.Equal(t, "stop", c.Server.StopCommand)
	assert.Equal(t, 5*time.Second, c.Server.GracePeriod)
	assert.Equal(t, 10*time.Second, c.Server.KillWait)
	assert.Equal(t, 2*time.Minute, c.Server.ReadyTimeout)
	assert.Equal(t, "0 */6 * * *", c.Schedule.Restart)
	assert.Equal(t, ":3000", c.HTTP.Listen)
	assert.Equal(t, "gin", c.HTTP.Framework)
	assert.Equal(t, 10, c.Discord.HistoryLimit)
	assert.Equal(t, filepath.Join("logs", "server.log"), filepath.Clean(c.Log.Path()))
	assert.Equal(t, "./backups", c.Backup.Dir)
	assert.Equal(t, time.Minute, c.Status.RefreshInterval)
	assert.True(t, c.Metrics.Enabled)
	assert.False(t, c.Discord.Enabled())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "bedrockd.toml", `
[server]
name = "Friends SMP"
command = "./bedrock_server --nogui"
work_dir = "/srv/bedrock"
max_players = 20
grace_period = "15s"
env = ["LD_LIBRARY_PATH=."]

[schedule]
restart = ""

[discord]
token = "abc"
guild_id = "g1"
status_channel_id = "c1"
operators = ["111", "222"]

[http]
listen = "127.0.0.1:8080"
framework = "echo"

[log]
dir = "/var/log/bedrockd"
max_backups = 9
compress = true

[history]
dsn = "sqlite:///var/lib/bedrockd/history.db"
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Friends SMP", c.Server.Name)
	assert.Equal(t, 20, c.Server.MaxPlayers)
	assert.Equal(t, 15*time.Second, c.Server.GracePeriod)
	assert.Equal(t, []string{"LD_LIBRARY_PATH=."}, c.Server.Env)
	assert.Equal(t, "", c.Schedule.Restart)
	assert.True(t, c.Discord.Enabled())
	assert.Equal(t, []string{"111", "222"}, c.Discord.Operators)
	assert.Equal(t, "echo", c.HTTP.Framework)
	assert.Equal(t, 9, c.Log.MaxBackups)
	assert.True(t, c.Log.Compress)
	assert.Equal(t, "sqlite:///var/lib/bedrockd/history.db", c.History.DSN)

	sc := c.Server.Supervisor()
	assert.Equal(t, "Friends SMP", sc.Name)
	assert.Equal(t, "/srv/bedrock", sc.Process.WorkDir)
	assert.Equal(t, 20, sc.MaxPlayers)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "bedrockd.toml", `
[server]
name = "From File"
max_players = 5
`)
	t.Setenv("SERVER_NAME", "From Env")
	t.Setenv("MAX_PLAYERS", "30")
	t.Setenv("ADMIN_IDS", "123, 456,,789")
	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("GUILD_ID", "guild")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "From Env", c.Server.Name)
	assert.Equal(t, 30, c.Server.MaxPlayers)
	assert.Equal(t, []string{"123", "456", "789"}, c.Discord.Operators)
	assert.Equal(t, "tok", c.Discord.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"zero players", "[server]\nmax_players = 0\n", "max_players"},
		{"bad cron", "[schedule]\nrestart = \"every six hours\"\n", "schedule.restart"},
		{"bad framework", "[http]\nframework = \"fiber\"\n", "http.framework"},
		{"negative grace", "[server]\ngrace_period = \"-1s\"\n", "grace_period"},
		{"token without guild", "[discord]\ntoken = \"x\"\n", "guild_id"},
		{"bad timezone", "[schedule]\ntimezone = \"Mars/Olympus\"\n", "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.toml", tt.toml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "# bot settings\nBEDROCKD_TEST_A=1\nexport BEDROCKD_TEST_B=\"two words\"\nBEDROCKD_TEST_C=file\n")
	t.Setenv("BEDROCKD_TEST_C", "preset")
	t.Cleanup(func() {
		_ = os.Unsetenv("BEDROCKD_TEST_A")
		_ = os.Unsetenv("BEDROCKD_TEST_B")
	})

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "1", os.Getenv("BEDROCKD_TEST_A"))
	assert.Equal(t, "two words", os.Getenv("BEDROCKD_TEST_B"))
	assert.Equal(t, "preset", os.Getenv("BEDROCKD_TEST_C"), "existing env wins")

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "none.env")))
}
