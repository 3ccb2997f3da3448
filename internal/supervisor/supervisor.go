// Package supervisor owns the game server process and its lifecycle state
// machine:
//
//	Offline -> Starting -> Online -> Stopping -> Offline
//
// All state lives in a single goroutine fed by two channels: operator commands
// and child events (output chunks, exit, timers). Commands that need to wait
// for the child park their reply as the pending transition so the loop keeps
// consuming events. Readers only see published snapshots.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/bedrockd/internal/history"
	"github.com/loykin/bedrockd/internal/metrics"
	"github.com/loykin/bedrockd/internal/parser"
	"github.com/loykin/bedrockd/internal/process"
)

// Defaults applied by New when a Config field is zero.
const (
	DefaultMaxPlayers  = 10
	DefaultStopCommand = "stop"
	DefaultGracePeriod = 5 * time.Second
	DefaultKillWait    = 10 * time.Second
)

// Config describes the supervised server.
type Config struct {
	Name        string       // display name
	Process     process.Spec // how to spawn the server
	MaxPlayers  int
	ReadyMarker string // console text that signals readiness; empty means ready on spawn
	StopCommand string // graceful shutdown line written to stdin
	GracePeriod time.Duration
	KillWait    time.Duration // wait for exit after a forced kill
	// ReadyTimeout bounds Starting; zero waits forever.
	ReadyTimeout time.Duration
	// Classifier overrides console line classification. When nil the Bedrock
	// markers are used together with ReadyMarker.
	Classifier parser.Classifier
}

// child is a running server process. *process.Handle implements it.
type child interface {
	PID() int
	StartedAt() time.Time
	Output() io.Reader
	WriteLine(line string) error
	Kill() error
	Wait() error
}

func spawnProcess(spec process.Spec) (child, error) {
	h, err := process.Spawn(spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// EventRecorder receives lifecycle events. history.Recorder implements it.
type EventRecorder interface {
	Record(e history.Event) error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Console lines are logged under component=server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHistory exports start, stop and crash events.
func WithHistory(r EventRecorder) Option {
	return func(s *Supervisor) { s.history = r }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

type opKind int

const (
	opStart opKind = iota
	opStop
	opRestart
	opRestartIfOnline
	opWrite
	opShutdown
)

func (o opKind) String() string {
	switch o {
	case opStart:
		return "start"
	case opStop:
		return "stop"
	case opRestart:
		return "restart"
	case opRestartIfOnline:
		return "scheduled restart"
	case opWrite:
		return "write"
	case opShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type result struct {
	err error
	ran bool
}

type command struct {
	op    opKind
	line  string
	reply chan result
}

type eventKind int

const (
	evChunk eventKind = iota
	evExited
	evReadyTimeout
	evGraceExpired
	evKillExpired
)

type event struct {
	kind  eventKind
	runID string
	chunk string
	err   error
}

type phase int

const (
	phaseStarting phase = iota
	phaseStopping
)

// transition is a command waiting for the child. Restarts move from
// phaseStopping to phaseStarting once Offline is confirmed.
type transition struct {
	op      opKind
	phase   phase
	reply   chan result
	failure error // reported instead of ErrSpawn when the run ends
}

func (t *transition) finish(err error) {
	if t == nil || t.reply == nil {
		return
	}
	t.reply <- result{err: err, ran: true}
}

// Supervisor runs one server process at a time.
type Supervisor struct {
	cfg       Config
	waitReady bool
	logger    *slog.Logger
	console   *slog.Logger
	history   EventRecorder
	now       func() time.Time
	spawn     func(process.Spec) (child, error)

	cmds   chan command
	events chan event
	done   chan struct{}

	mu   sync.RWMutex
	snap Snapshot

	subMu sync.Mutex
	subs  map[int]chan struct{}
	subID int

	// owned by the loop goroutine
	state         State
	handle        child
	runID         string
	spawnedAt     time.Time
	startTime     time.Time
	players       int
	roster        []string
	parser        *parser.Parser
	pending       *transition
	stopRequested bool
	shutdown      chan result
	abandoned     bool
	timers        []*time.Timer
}

// New validates cfg and starts the supervisor loop. The server starts Offline.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	if err := cfg.Process.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server process: %w", err)
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = DefaultMaxPlayers
	}
	if cfg.StopCommand == "" {
		cfg.StopCommand = DefaultStopCommand
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = DefaultKillWait
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Process.Name
	}
	classifier := cfg.Classifier
	if classifier == nil {
		c := parser.DefaultClassifier()
		c.ReadyMarker = cfg.ReadyMarker
		classifier = c
	}

	s := &Supervisor{
		cfg:       cfg,
		waitReady: cfg.ReadyMarker != "",
		logger:    slog.Default(),
		now:       time.Now,
		spawn:     spawnProcess,
		cmds:      make(chan command, 16),
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		subs:      make(map[int]chan struct{}),
		state:     StateOffline,
		parser:    parser.New(classifier),
	}
	for _, o := range opts {
		o(s)
	}
	s.console = s.logger.With("component", "server")
	s.logger = s.logger.With("component", "supervisor", "server", cfg.Name)
	s.publish()
	for _, st := range allStates {
		metrics.SetCurrentState(cfg.Name, st.String(), st == StateOffline)
	}

	go s.run()
	return s, nil
}

// Name returns the configured display name.
func (s *Supervisor) Name() string { return s.cfg.Name }

// Start spawns the server and waits until it reports ready. ctx bounds only
// how long the caller waits; the transition continues regardless.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.do(ctx, command{op: opStart}).err
}

// Stop asks the server to shut down gracefully and kills it after the grace
// period. It returns once the process has exited.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.do(ctx, command{op: opStop}).err
}

// Restart stops the server (unless offline), waits for the exit and starts it
// again.
func (s *Supervisor) Restart(ctx context.Context) error {
	return s.do(ctx, command{op: opRestart}).err
}

// RestartIfOnline restarts only when the server is online, as evaluated on
// the supervisor loop. It reports whether a restart was attempted.
func (s *Supervisor) RestartIfOnline(ctx context.Context) (bool, error) {
	r := s.do(ctx, command{op: opRestartIfOnline})
	return r.ran, r.err
}

// SendMessage broadcasts text to players with the console say command.
func (s *Supervisor) SendMessage(ctx context.Context, text string) error {
	return s.SendCommand(ctx, "say "+text)
}

// SendCommand writes one console line to the server.
func (s *Supervisor) SendCommand(ctx context.Context, line string) error {
	line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
	return s.do(ctx, command{op: opWrite, line: line}).err
}

// Close stops the server if needed and terminates the loop. Later calls on
// the supervisor return ErrClosed.
func (s *Supervisor) Close(ctx context.Context) error {
	r := s.do(ctx, command{op: opShutdown})
	if errors.Is(r.err, ErrClosed) {
		return nil
	}
	return r.err
}

// Done is closed when the supervisor loop has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Snapshot returns the current published state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	snap.TakenAt = s.now()
	return snap
}

// PID returns the pid of the running server, or 0.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.PID
}

// Subscribe returns a channel that receives a value after every state or
// player change. Notifications coalesce: a slow reader sees at most one
// pending value. Call cancel to unsubscribe.
func (s *Supervisor) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	id := s.subID
	s.subID++
	s.subs[id] = ch
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Supervisor) do(ctx context.Context, cmd command) result {
	cmd.reply = make(chan result, 1)
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-s.done:
		return result{err: ErrClosed}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-s.done:
		select {
		case r := <-cmd.reply:
			return r
		default:
			return result{err: ErrClosed}
		}
	}
}

// post delivers an event to the loop unless it has exited.
func (s *Supervisor) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case ev := <-s.events:
			s.handleEvent(ev)
		}
		if s.abandoned {
			s.logger.Warn("supervisor stopped, server process abandoned")
			return
		}
		if s.shutdown != nil && s.state == StateOffline {
			s.shutdown <- result{ran: true}
			s.logger.Info("supervisor stopped")
			return
		}
	}
}

func (s *Supervisor) handleCommand(cmd command) {
	if s.shutdown != nil && cmd.op != opShutdown {
		cmd.reply <- result{err: ErrClosed}
		return
	}
	switch cmd.op {
	case opStart:
		switch s.state {
		case StateOffline:
			s.startRun(&transition{op: opStart, reply: cmd.reply})
		case StateStarting, StateOnline:
			cmd.reply <- result{err: fmt.Errorf("start: %w (%s)", ErrAlreadyInState, s.state)}
		default:
			cmd.reply <- result{err: fmt.Errorf("start: %w (%s)", ErrBusy, s.state)}
		}

	case opStop:
		switch s.state {
		case StateOffline:
			cmd.reply <- result{err: fmt.Errorf("stop: %w (%s)", ErrAlreadyInState, s.state)}
		case StateStopping:
			cmd.reply <- result{err: fmt.Errorf("stop: %w (%s)", ErrBusy, s.state)}
		default:
			s.beginStop(&transition{op: opStop, phase: phaseStopping, reply: cmd.reply})
		}

	case opRestart:
		switch s.state {
		case StateOffline:
			s.startRun(&transition{op: opRestart, reply: cmd.reply})
		case StateStopping:
			cmd.reply <- result{err: fmt.Errorf("restart: %w (%s)", ErrBusy, s.state)}
		default:
			s.beginStop(&transition{op: opRestart, phase: phaseStopping, reply: cmd.reply})
		}

	case opRestartIfOnline:
		if s.state != StateOnline {
			s.logger.Info("scheduled restart skipped", "state", s.state.String())
			cmd.reply <- result{}
			return
		}
		s.logger.Info("scheduled restart")
		s.beginStop(&transition{op: opRestartIfOnline, phase: phaseStopping, reply: cmd.reply})

	case opWrite:
		if s.state != StateOnline || s.handle == nil {
			cmd.reply <- result{err: ErrOffline}
			return
		}
		if err := s.handle.WriteLine(cmd.line); err != nil {
			cmd.reply <- result{err: fmt.Errorf("console write: %w", err)}
			return
		}
		s.logger.Debug("console command", "line", cmd.line)
		cmd.reply <- result{ran: true}

	case opShutdown:
		if s.shutdown != nil {
			cmd.reply <- result{err: fmt.Errorf("shutdown: %w", ErrBusy)}
			return
		}
		s.shutdown = cmd.reply
		switch s.state {
		case StateStarting, StateOnline:
			s.beginStop(&transition{op: opShutdown, phase: phaseStopping})
		case StateStopping:
			// a restart in flight must not start again
			if s.pending != nil && s.pending.op != opStop {
				s.pending.failure = ErrClosed
			}
			if s.pending == nil {
				s.kill()
			}
		}
	}
}

func (s *Supervisor) handleEvent(ev event) {
	if ev.runID != s.runID {
		// stale event from a previous run
		return
	}
	switch ev.kind {
	case evChunk:
		s.handleChunk(ev.chunk)
	case evExited:
		s.handleExit(ev.err)
	case evReadyTimeout:
		if s.state != StateStarting || s.pending == nil {
			return
		}
		s.logger.Warn("server did not report ready, killing", "timeout", s.cfg.ReadyTimeout)
		s.pending.failure = ErrReadyTimeout
		s.kill()
	case evGraceExpired:
		if s.state != StateStopping {
			return
		}
		s.logger.Warn("server ignored stop command, killing", "grace_period", s.cfg.GracePeriod)
		metrics.IncForcedKill(s.cfg.Name)
		s.kill()
	case evKillExpired:
		if s.state != StateStopping && s.state != StateStarting {
			return
		}
		s.logger.Error("server did not exit after kill", "kill_wait", s.cfg.KillWait)
		if s.pending != nil {
			s.pending.finish(fmt.Errorf("%s: %w", s.pending.op, ErrShutdownTimeout))
			s.pending = nil
		}
		if s.shutdown != nil {
			s.shutdown <- result{err: fmt.Errorf("shutdown: %w", ErrShutdownTimeout), ran: true}
			s.shutdown = nil
			s.abandoned = true
			s.setOffline()
		}
	}
}

// startRun spawns a new run. t is replied once the server is ready or the
// run fails.
func (s *Supervisor) startRun(t *transition) {
	t.phase = phaseStarting
	s.setState(StateStarting)

	h, err := s.spawn(s.cfg.Process)
	if err != nil {
		s.logger.Error("spawn failed", "error", err)
		s.setState(StateOffline)
		t.finish(fmt.Errorf("%w: %v", ErrSpawn, err))
		return
	}

	s.handle = h
	s.runID = uuid.NewString()
	s.spawnedAt = s.now()
	s.stopRequested = false
	s.parser.Reset()
	s.logger.Info("server spawned", "pid", h.PID(), "run_id", s.runID)
	go s.pump(s.runID, h)

	if !s.waitReady {
		s.goOnline()
		t.finish(nil)
		return
	}
	s.pending = t
	if s.cfg.ReadyTimeout > 0 {
		s.arm(s.cfg.ReadyTimeout, evReadyTimeout)
	}
	s.publish()
}

// pump forwards output chunks and finally the exit status to the loop. The
// exit is posted once the child itself has exited, after the chunks it wrote.
func (s *Supervisor) pump(runID string, h child) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		buf := make([]byte, 4096)
		out := h.Output()
		for {
			n, err := out.Read(buf)
			if n > 0 {
				s.post(event{kind: evChunk, runID: runID, chunk: string(buf[:n])})
			}
			if err != nil {
				return
			}
		}
	}()
	err := h.Wait()
	<-drained
	s.post(event{kind: evExited, runID: runID, err: err})
}

func (s *Supervisor) goOnline() {
	s.startTime = s.now()
	s.setState(StateOnline)
	metrics.IncStart(s.cfg.Name)
	metrics.ObserveStartDuration(s.cfg.Name, s.startTime.Sub(s.spawnedAt).Seconds())
	s.logger.Info("server online", "pid", s.handle.PID())
	s.record(history.EventStart, nil)
}

// beginStop writes the stop command and arms the grace timer. A start that is
// still waiting for readiness is answered first.
func (s *Supervisor) beginStop(t *transition) {
	if s.pending != nil {
		s.pending.finish(fmt.Errorf("%s: %w: stop requested before ready", s.pending.op, ErrSpawn))
	}
	s.pending = t
	s.stopRequested = true
	s.setState(StateStopping)
	if err := s.handle.WriteLine(s.cfg.StopCommand); err != nil {
		s.logger.Warn("stop command not delivered, killing", "error", err)
		metrics.IncForcedKill(s.cfg.Name)
		s.kill()
		return
	}
	s.logger.Info("stop command sent", "grace_period", s.cfg.GracePeriod)
	s.arm(s.cfg.GracePeriod, evGraceExpired)
}

// kill force-terminates the current run and arms the kill-wait timer.
func (s *Supervisor) kill() {
	if s.handle != nil {
		if err := s.handle.Kill(); err != nil {
			s.logger.Debug("kill", "error", err)
		}
	}
	s.arm(s.cfg.KillWait, evKillExpired)
}

func (s *Supervisor) handleChunk(chunk string) {
	lines := s.parser.Feed(chunk)
	if len(lines) == 0 {
		return
	}
	s.applyLines(lines)
	s.publish()
}

func (s *Supervisor) applyLines(lines []parser.Line) {
	for _, l := range lines {
		s.console.Info(l.Text, "class", l.Class.String())
		switch l.Class {
		case parser.PlayerConnected:
			s.players++
			s.addPlayer(l.Player)
		case parser.PlayerDisconnected:
			if s.players > 0 {
				s.players--
			}
			s.removePlayer(l.Player)
		case parser.ServerReady:
			if s.state == StateStarting && s.pending != nil && s.pending.phase == phaseStarting {
				t := s.pending
				s.pending = nil
				s.goOnline()
				t.finish(nil)
			}
		}
	}
	metrics.SetPlayers(s.cfg.Name, s.players)
}

func (s *Supervisor) addPlayer(name string) {
	if name == "" {
		return
	}
	for _, p := range s.roster {
		if p == name {
			return
		}
	}
	s.roster = append(s.roster, name)
}

func (s *Supervisor) removePlayer(name string) {
	for i, p := range s.roster {
		if p == name {
			s.roster = append(s.roster[:i:i], s.roster[i+1:]...)
			return
		}
	}
}

func (s *Supervisor) handleExit(exitErr error) {
	if lines := s.parser.Flush(); len(lines) > 0 {
		s.applyLines(lines)
	}

	expected := s.stopRequested
	evType := history.EventStop
	if expected {
		metrics.IncStop(s.cfg.Name)
		s.logger.Info("server stopped", "error", exitErr)
	} else {
		evType = history.EventCrash
		metrics.IncCrash(s.cfg.Name)
		s.logger.Warn("server exited unexpectedly", "state", s.state.String(), "error", exitErr)
	}
	s.record(evType, exitErr)
	s.setOffline()

	t := s.pending
	s.pending = nil
	if t == nil {
		return
	}
	switch {
	case t.phase == phaseStopping && (t.op == opRestart || t.op == opRestartIfOnline) && t.failure == nil:
		s.startRun(t)
	case t.phase == phaseStopping:
		t.finish(t.failure)
	case t.failure != nil:
		t.finish(fmt.Errorf("%s: %w", t.op, t.failure))
	default:
		t.finish(fmt.Errorf("%s: %w: exited before ready: %v", t.op, ErrSpawn, exitErr))
	}
}

// setOffline clears everything tied to the finished run. The player count is
// left alone: only console lines move it.
func (s *Supervisor) setOffline() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.handle = nil
	s.runID = ""
	s.startTime = time.Time{}
	s.stopRequested = false
	s.parser.Reset()
	s.setState(StateOffline)
}

func (s *Supervisor) arm(d time.Duration, kind eventKind) {
	runID := s.runID
	s.timers = append(s.timers, time.AfterFunc(d, func() {
		s.post(event{kind: kind, runID: runID})
	}))
}

func (s *Supervisor) setState(to State) {
	from := s.state
	s.state = to
	if from != to {
		metrics.RecordStateTransition(s.cfg.Name, from.String(), to.String())
		metrics.SetCurrentState(s.cfg.Name, from.String(), false)
		metrics.SetCurrentState(s.cfg.Name, to.String(), true)
		s.logger.Debug("state transition", "from", from.String(), "to", to.String())
	}
	s.publish()
}

// publish stores a new snapshot and notifies subscribers.
func (s *Supervisor) publish() {
	snap := Snapshot{
		ServerName:  s.cfg.Name,
		State:       s.state,
		PlayerCount: s.players,
		MaxPlayers:  s.cfg.MaxPlayers,
		Players:     append([]string(nil), s.roster...),
		RunID:       s.runID,
	}
	if s.state == StateOnline || s.state == StateStopping {
		snap.StartTime = s.startTime
	}
	if s.handle != nil {
		snap.PID = s.handle.PID()
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subMu.Unlock()
}

func (s *Supervisor) record(t history.EventType, exitErr error) {
	if s.history == nil || s.handle == nil {
		return
	}
	rec := history.Record{
		Server:    s.cfg.Name,
		RunID:     s.runID,
		PID:       s.handle.PID(),
		StartedAt: s.handle.StartedAt(),
		Players:   s.players,
	}
	if t != history.EventStart {
		stopped := s.now()
		rec.StoppedAt = &stopped
		if exitErr != nil {
			rec.ExitErr = exitErr.Error()
		}
	}
	if err := s.history.Record(history.Event{Type: t, OccurredAt: s.now(), Record: rec}); err != nil {
		s.logger.Debug("history record", "error", err)
	}
}
