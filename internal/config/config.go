package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/loykin/bedrockd/internal/backup"
	"github.com/loykin/bedrockd/internal/logger"
	"github.com/loykin/bedrockd/internal/process"
	"github.com/loykin/bedrockd/internal/supervisor"
)

// Config is the complete daemon configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Schedule ScheduleConfig `toml:"schedule" mapstructure:"schedule"`
	Discord  DiscordConfig  `toml:"discord" mapstructure:"discord"`
	HTTP     HTTPConfig     `toml:"http" mapstructure:"http"`
	Log      logger.Config  `toml:"log" mapstructure:"log"`
	Backup   backup.Config  `toml:"backup" mapstructure:"backup"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Status   StatusConfig   `toml:"status" mapstructure:"status"`
}

type ServerConfig struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Command      string        `toml:"command" mapstructure:"command"`
	WorkDir      string        `toml:"work_dir" mapstructure:"work_dir"`
	Env          []string      `toml:"env" mapstructure:"env"`
	MaxPlayers   int           `toml:"max_players" mapstructure:"max_players"`
	ReadyMarker  string        `toml:"ready_marker" mapstructure:"ready_marker"`
	StopCommand  string        `toml:"stop_command" mapstructure:"stop_command"`
	GracePeriod  time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	KillWait     time.Duration `toml:"kill_wait" mapstructure:"kill_wait"`
	ReadyTimeout time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
}

// Supervisor converts the server section into a supervisor configuration.
func (s ServerConfig) Supervisor() supervisor.Config {
	return supervisor.Config{
		Name: s.Name,
		Process: process.Spec{
			Name:    "bedrock_server",
			Command: s.Command,
			WorkDir: s.WorkDir,
			Env:     s.Env,
		},
		MaxPlayers:   s.MaxPlayers,
		ReadyMarker:  s.ReadyMarker,
		StopCommand:  s.StopCommand,
		GracePeriod:  s.GracePeriod,
		KillWait:     s.KillWait,
		ReadyTimeout: s.ReadyTimeout,
	}
}

type ScheduleConfig struct {
	// Restart is a five-field cron spec; empty disables scheduled restarts.
	Restart  string `toml:"restart" mapstructure:"restart"`
	Timezone string `toml:"timezone" mapstructure:"timezone"`
}

type DiscordConfig struct {
	Token           string   `toml:"token" mapstructure:"token"`
	GuildID         string   `toml:"guild_id" mapstructure:"guild_id"`
	StatusChannelID string   `toml:"status_channel_id" mapstructure:"status_channel_id"`
	Operators       []string `toml:"operators" mapstructure:"operators"`
	HistoryLimit    int      `toml:"history_limit" mapstructure:"history_limit"`
}

// Enabled reports whether the bot should connect.
func (d DiscordConfig) Enabled() bool { return d.Token != "" }

type HTTPConfig struct {
	Listen    string `toml:"listen" mapstructure:"listen"`
	Framework string `toml:"framework" mapstructure:"framework"`
	BasePath  string `toml:"base_path" mapstructure:"base_path"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled        bool          `toml:"enabled" mapstructure:"enabled"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

type StatusConfig struct {
	RefreshInterval time.Duration `toml:"refresh_interval" mapstructure:"refresh_interval"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"server.name":               "SERVER_NAME",
	"server.command":            "SERVER_COMMAND",
	"server.work_dir":           "SERVER_DIR",
	"server.max_players":        "MAX_PLAYERS",
	"schedule.restart":          "RESTART_SCHEDULE",
	"discord.token":             "DISCORD_TOKEN",
	"discord.guild_id":          "GUILD_ID",
	"discord.status_channel_id": "STATUS_CHANNEL_ID",
	"discord.operators":         "ADMIN_IDS",
	"http.listen":               "HTTP_LISTEN",
	"history.dsn":               "HISTORY_DSN",
	"log.level":                 "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "Bedrock Server")
	v.SetDefault("server.command", "./bedrock_server")
	v.SetDefault("server.work_dir", "./minecraft-server")
	v.SetDefault("server.max_players", 10)
	v.SetDefault("server.ready_marker", "Server started.")
	v.SetDefault("server.stop_command", "stop")
	v.SetDefault("server.grace_period", "5s")
	v.SetDefault("server.kill_wait", "10s")
	v.SetDefault("server.ready_timeout", "2m")

	v.SetDefault("schedule.restart", "0 */6 * * *")

	v.SetDefault("discord.history_limit", 10)

	v.SetDefault("http.listen", ":3000")
	v.SetDefault("http.framework", "gin")

	v.SetDefault("log.dir", logger.DefaultDir)
	v.SetDefault("log.file", logger.DefaultFile)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", true)

	v.SetDefault("backup.source", backup.DefaultSource)
	v.SetDefault("backup.dir", backup.DefaultDir)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.sample_interval", "15s")

	v.SetDefault("status.refresh_interval", "1m")
}

// Load builds the configuration from defaults, the optional TOML file at path
// and the environment, in increasing priority, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Discord.Operators = splitIDs(c.Discord.Operators)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// splitIDs flattens comma separated entries and drops blanks.
func splitIDs(in []string) []string {
	var out []string
	for _, s := range in {
		for _, id := range strings.Split(s, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Command) == "" {
		errs = append(errs, errors.New("server.command is required"))
	}
	if c.Server.MaxPlayers <= 0 {
		errs = append(errs, fmt.Errorf("server.max_players must be positive, got %d", c.Server.MaxPlayers))
	}
	for name, d := range map[string]time.Duration{
		"server.grace_period":     c.Server.GracePeriod,
		"server.kill_wait":        c.Server.KillWait,
		"metrics.sample_interval": c.Metrics.SampleInterval,
		"status.refresh_interval": c.Status.RefreshInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Server.ReadyTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.ready_timeout must not be negative, got %s", c.Server.ReadyTimeout))
	}
	if c.Schedule.Restart != "" {
		if _, err := cron.ParseStandard(c.Schedule.Restart); err != nil {
			errs = append(errs, fmt.Errorf("schedule.restart %q: %w", c.Schedule.Restart, err))
		}
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err))
		}
	}
	switch c.HTTP.Framework {
	case "gin", "echo":
	default:
		errs = append(errs, fmt.Errorf("http.framework must be gin or echo, got %q", c.HTTP.Framework))
	}
	if c.Discord.Enabled() && c.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required when a bot token is set"))
	}
	return errors.Join(errs...)
}

// LoadDotEnv exports KEY=VALUE pairs from a .env file into the process
// environment. Variables that are already set win. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	m, err := loadEnvFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for k, v := range m {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines. Lines starting
// with # are ignored and one pair of surrounding quotes is stripped.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if n := len(v); n >= 2 && (v[0] == '"' && v[n-1] == '"' || v[0] == '\'' && v[n-1] == '\'') {
				v = v[1 : n-1]
			}
			m[k] = v
		}
	}
	return m, nil
}
