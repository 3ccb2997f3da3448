// Package history exports server lifecycle events to append-only audit sinks.
// Nothing is ever read back from a sink to restore supervisor state.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventCrash EventType = "crash"
)

// Record describes one run of the server process.
type Record struct {
	Server    string     `json:"server"`
	RunID     string     `json:"run_id"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	ExitErr   string     `json:"exit_err,omitempty"`
	Players   int        `json:"players"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// ErrRecorderClosed is returned by Record after Close.
var ErrRecorderClosed = errors.New("history recorder closed")

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 5 * time.Second
)

// Recorder delivers events to its sinks off the caller's goroutine. Events
// are dropped with a warning when the queue is full so a slow database can
// never stall the supervisor.
type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a Recorder. With no sinks every event is discarded.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:   sinks,
		logger:  logger.With("component", "history"),
		timeout: defaultSendTimeout,
		queue:   make(chan Event, defaultQueueSize),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Record enqueues e for every sink.
func (r *Recorder) Record(e Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if len(r.sinks) == 0 {
		return nil
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("history queue full, dropping event", "type", e.Type, "run_id", e.Record.RunID)
	}
	return nil
}

// Close drains queued events and stops the delivery goroutine.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				r.logger.Warn("history sink send failed", "type", e.Type, "error", err)
			}
			cancel()
		}
	}
}

// NullableTime returns t or nil for SQL parameters.
func NullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// NullableString returns s or nil when empty.
func NullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
