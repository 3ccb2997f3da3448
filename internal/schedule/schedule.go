// Package schedule fires periodic restarts of the game server from a cron
// expression.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/bedrockd/internal/metrics"
)

// Target is restarted on every tick. It must skip the restart itself when
// the server is not online.
type Target interface {
	RestartIfOnline(ctx context.Context) (bool, error)
}

// DefaultTimeout bounds a single scheduled restart.
const DefaultTimeout = 5 * time.Minute

type Options struct {
	// Spec is a five-field cron expression. Empty disables the scheduler.
	Spec     string
	Timezone string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Scheduler runs RestartIfOnline on a cron schedule. Overlapping ticks are
// skipped while a restart is still in progress.
type Scheduler struct {
	mu      sync.Mutex
	opts    Options
	target  Target
	logger  *slog.Logger
	cron    *cron.Cron
	entryID cron.EntryID
	started bool
}

// New validates the schedule and prepares the cron runner.
func New(target Target, opts Options) (*Scheduler, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	loc := time.Local
	if opts.Timezone != "" {
		l, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("schedule timezone %q: %w", opts.Timezone, err)
		}
		loc = l
	}
	s := &Scheduler{opts: opts, target: target, logger: opts.Logger}
	if opts.Spec == "" {
		return s, nil
	}

	cl := cronLogger{l: opts.Logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := s.cron.AddFunc(opts.Spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", opts.Spec, err)
	}
	s.entryID = id
	return s, nil
}

// Enabled reports whether a schedule is configured.
func (s *Scheduler) Enabled() bool { return s.cron != nil }

// Start begins firing in the background. It is a no-op when disabled or
// already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil || s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.publishNext()
	s.logger.Info("restart schedule active", "schedule", s.opts.Spec, "next", s.Next())
}

// Stop halts the scheduler and returns a context that is done once a restart
// in progress has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil || !s.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.started = false
	return s.cron.Stop()
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// an in-flight restart to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	<-s.Stop().Done()
	return nil
}

// Next returns the next fire time, or the zero time when idle.
func (s *Scheduler) Next() time.Time {
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// RunNow triggers a restart check immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	restarted, err := s.target.RestartIfOnline(ctx)
	switch {
	case err != nil:
		metrics.IncScheduleRun("error")
		s.logger.Error("scheduled restart failed", "error", err)
	case restarted:
		metrics.IncScheduleRun("restarted")
		s.logger.Info("scheduled restart completed")
	default:
		metrics.IncScheduleRun("skipped")
		s.logger.Info("scheduled restart skipped, server not online")
	}
	return restarted, err
}

func (s *Scheduler) tick() {
	_, _ = s.RunNow(context.Background())
	s.mu.Lock()
	s.publishNext()
	s.mu.Unlock()
}

func (s *Scheduler) publishNext() {
	if next := s.Next(); !next.IsZero() {
		metrics.SetScheduleNext(float64(next.Unix()))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
