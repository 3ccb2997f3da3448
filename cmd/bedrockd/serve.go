package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/bedrockd/internal/backup"
	"github.com/loykin/bedrockd/internal/config"
	"github.com/loykin/bedrockd/internal/discord"
	"github.com/loykin/bedrockd/internal/gateway"
	"github.com/loykin/bedrockd/internal/history"
	"github.com/loykin/bedrockd/internal/history/factory"
	"github.com/loykin/bedrockd/internal/lockfile"
	"github.com/loykin/bedrockd/internal/logger"
	"github.com/loykin/bedrockd/internal/metrics"
	"github.com/loykin/bedrockd/internal/schedule"
	"github.com/loykin/bedrockd/internal/server"
	"github.com/loykin/bedrockd/internal/status"
	"github.com/loykin/bedrockd/internal/supervisor"
)

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	EnvFile    string
	Autostart  bool
	Daemonize  bool
	PidFile    string
	LogFile    string
}

const lockName = "bedrockd.lock"

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor, status reconciler, scheduler, HTTP endpoint and bot",
		Long: `Run bedrockd in the foreground. Configuration comes from defaults, the
optional TOML file and environment variables, in increasing priority. A .env
file is read first when present.

Examples:
  bedrockd serve
  bedrockd serve bedrockd.toml --autostart
  bedrockd serve --daemonize --pidfile /run/bedrockd.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runServeCommand(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().BoolVar(&flags.Autostart, "autostart", false, "start the game server immediately")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

func runServeCommand(parent context.Context, flags *ServeFlags) error {
	if err := config.LoadDotEnv(flags.EnvFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, flags.Autostart, os.Stderr)
}

// serve wires every component from cfg and runs them until ctx is done.
func serve(ctx context.Context, cfg *config.Config, autostart bool, console io.Writer) error {
	log, err := logger.New(cfg.Log, console)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = log.Close() }()
	slog.SetDefault(log.Logger)

	lock := lockfile.New(filepath.Join(cfg.Log.Dir, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another bedrockd is already running (lock %s)", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if err := metrics.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		gatherer = reg
	}

	supOpts := []supervisor.Option{supervisor.WithLogger(log.Logger)}
	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		if c, ok := sink.(io.Closer); ok {
			defer func() { _ = c.Close() }()
		}
		rec := history.NewRecorder(log.Logger, sink)
		defer rec.Close()
		supOpts = append(supOpts, supervisor.WithHistory(rec))
	}

	sup, err := supervisor.New(cfg.Server.Supervisor(), supOpts...)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	gw := gateway.New(sup, gateway.Options{
		Operators: cfg.Discord.Operators,
		Backups:   backup.New(cfg.Backup, log.Logger),
		Logs:      log,
		Logger:    log.Logger,
	})

	var sinks []status.Sink
	var bot *discord.Bot
	if cfg.Discord.Enabled() {
		bot, err = discord.New(discord.Config{Token: cfg.Discord.Token, GuildID: cfg.Discord.GuildID}, gw, log.Logger)
		if err != nil {
			return err
		}
		if cfg.Discord.StatusChannelID != "" {
			sinks = append(sinks, status.NewChatSink(bot.Channel(), cfg.Discord.StatusChannelID, cfg.Discord.HistoryLimit))
		}
	} else {
		log.Warn("discord token not set, bot disabled")
	}
	reconciler := status.NewReconciler(sup, cfg.Status.RefreshInterval, log.Logger, sinks...)

	sched, err := schedule.New(sup, schedule.Options{
		Spec:     cfg.Schedule.Restart,
		Timezone: cfg.Schedule.Timezone,
		Logger:   log.Logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewRouter(sup, cfg.HTTP.BasePath, gatherer).HandlerFor(cfg.HTTP.Framework)
	if err != nil {
		return err
	}
	srv := server.NewServer(cfg.HTTP.Listen, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx, srv, log.Logger) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if bot != nil {
		bot.OnReady(func() {
			if err := reconciler.ReconcileOnce(gctx); err != nil {
				log.Warn("initial status publish failed", "error", err)
			}
		})
		g.Go(func() error { return bot.Run(gctx) })
	}
	if cfg.Metrics.Enabled {
		sampler := metrics.Sampler{Interval: cfg.Metrics.SampleInterval, PID: sup.PID, Logger: log.Logger}
		g.Go(func() error { return sampler.Run(gctx) })
	}
	if autostart {
		g.Go(func() error {
			if err := sup.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("autostart failed", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		wait := cfg.Server.GracePeriod + cfg.Server.KillWait + 5*time.Second
		closeCtx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		if err := sup.Close(closeCtx); err != nil {
			log.Error("server shutdown incomplete", "error", err)
			return err
		}
		return nil
	})

	log.Info("bedrockd started", "version", version, "server", cfg.Server.Name, "http", cfg.HTTP.Listen)
	err = g.Wait()
	log.Info("bedrockd stopped")
	return err
}
