package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of times the server reached the online state.",
		}, []string{"name"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of operator initiated stops.",
		}, []string{"name"},
	)
	serverCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Number of unexpected server process exits.",
		}, []string{"name"},
	)
	forcedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "server",
			Name:      "forced_kills_total",
			Help:      "Number of stops that exceeded the grace period and were killed.",
		}, []string{"name"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bedrockd",
			Subsystem: "server",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn until the server reported readiness.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "server",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between server states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bedrockd",
			Subsystem: "server",
			Name:      "current_state",
			Help:      "Current state of the server (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	players = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bedrockd",
			Subsystem: "server",
			Name:      "players_online",
			Help:      "Players currently connected according to the console log.",
		}, []string{"name"},
	)
	sinkPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "status",
			Name:      "publishes_total",
			Help:      "Status publish attempts per sink and result.",
		}, []string{"sink", "result"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "gateway",
			Name:      "commands_total",
			Help:      "Operator commands per command name and outcome.",
		}, []string{"command", "outcome"},
	)
	scheduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "schedule",
			Name:      "runs_total",
			Help:      "Scheduled restart triggers per result (restarted, skipped, error).",
		}, []string{"result"},
	)
	scheduleNext = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bedrockd",
			Subsystem: "schedule",
			Name:      "next_run_timestamp_seconds",
			Help:      "Unix time of the next scheduled restart.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverStops, serverCrashes, forcedKills, startDuration,
		stateTransitions, currentStates, players, sinkPublishes, commands,
		scheduleRuns, scheduleNext,
		childCPUPercent, childMemoryBytes, childThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serverStops.WithLabelValues(name).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		serverCrashes.WithLabelValues(name).Inc()
	}
}

func IncForcedKill(name string) {
	if regOK.Load() {
		forcedKills.WithLabelValues(name).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(name).Observe(seconds)
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func SetPlayers(name string, n int) {
	if regOK.Load() {
		players.WithLabelValues(name).Set(float64(n))
	}
}

func IncSinkPublish(sink string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		sinkPublishes.WithLabelValues(sink, result).Inc()
	}
}

func IncCommand(command, outcome string) {
	if regOK.Load() {
		commands.WithLabelValues(command, outcome).Inc()
	}
}

func IncScheduleRun(result string) {
	if regOK.Load() {
		scheduleRuns.WithLabelValues(result).Inc()
	}
}

func SetScheduleNext(unix float64) {
	if regOK.Load() {
		scheduleNext.Set(unix)
	}
}
