package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/bedrockd/internal/metrics"
	"github.com/loykin/bedrockd/internal/supervisor"
)

// ErrSinkUnavailable wraps every sink publish failure.
var ErrSinkUnavailable = errors.New("status sink unavailable")

const (
	DefaultRefreshInterval = time.Minute
	defaultPublishTimeout  = 10 * time.Second
)

// Source provides snapshots and change notifications. *supervisor.Supervisor
// implements it.
type Source interface {
	Snapshot() supervisor.Snapshot
	Subscribe() (<-chan struct{}, func())
}

// Sink shows an artifact somewhere outside the process. Publishing the same
// artifact twice must leave a single visible artifact.
type Sink interface {
	Name() string
	Publish(ctx context.Context, a Artifact) error
}

// Reconciler republishes the current status to all sinks whenever the source
// changes and on a periodic refresh.
type Reconciler struct {
	src     Source
	sinks   []Sink
	refresh time.Duration
	timeout time.Duration
	logger  *slog.Logger

	mu sync.Mutex // one reconciliation at a time
}

// NewReconciler builds a Reconciler. refresh <= 0 uses DefaultRefreshInterval.
func NewReconciler(src Source, refresh time.Duration, logger *slog.Logger, sinks ...Sink) *Reconciler {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		src:     src,
		sinks:   sinks,
		refresh: refresh,
		timeout: defaultPublishTimeout,
		logger:  logger.With("component", "status"),
	}
}

// ReconcileOnce renders the current snapshot and publishes it to every sink.
// A failing sink does not prevent the others from being updated; the joined
// errors are returned.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := Render(r.src.Snapshot())
	var errs []error
	for _, s := range r.sinks {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Publish(pctx, a)
		cancel()
		metrics.IncSinkPublish(s.Name(), err == nil)
		if err != nil {
			r.logger.Warn("status publish failed", "sink", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Run reconciles once, then on every change notification and refresh tick
// until ctx is cancelled. Notifications that arrive during a publish coalesce
// into one follow-up reconciliation.
func (r *Reconciler) Run(ctx context.Context) error {
	changes, cancel := r.src.Subscribe()
	defer cancel()

	t := time.NewTicker(r.refresh)
	defer t.Stop()

	_ = r.ReconcileOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		case <-t.C:
		}
		_ = r.ReconcileOnce(ctx)
	}
}
