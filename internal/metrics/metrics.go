package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viewport"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Player launch attempts by tile and result (ok, failed).",
		}, []string{"tile", "result"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Player terminations by tile and reason.",
		}, []string{"tile", "reason"},
	)
	rogues = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rogue_total",
			Help:      "Distinct rogue player processes observed.",
		},
	)
	quarantined = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quarantined",
			Help:      "1 while a tile is quarantined after repeated launch failures.",
		}, []string{"tile"},
	)
	tileState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tile_state",
			Help:      "Current reconciliation state per tile (1 = active state).",
		}, []string{"tile", "state"},
	)
	probeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_results_total",
			Help:      "Liveness probe outcomes.",
		}, []string{"result"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one reconciliation cycle.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	cycleOverruns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_overruns_total",
			Help:      "Cycles that took longer than the poll interval.",
		},
	)
	sinkDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_dropped_total",
			Help:      "Events dropped because the sink queue was full.",
		},
	)
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed writes per sink.",
		}, []string{"sink"},
	)
)

// TileStates lists every value of the tile_state label.
var TileStates = []string{"missing", "healthy", "unhealthy", "duplicate", "quarantined", "idle"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		launches, terminations, rogues, quarantined, tileState,
		probeResults, cycleDuration, cycleOverruns, sinkDropped, sinkErrors,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(tile string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "failed"
		}
		launches.WithLabelValues(tile, result).Inc()
	}
}

func IncTermination(tile, reason string) {
	if regOK.Load() {
		terminations.WithLabelValues(tile, reason).Inc()
	}
}

func IncRogue() {
	if regOK.Load() {
		rogues.Inc()
	}
}

func SetQuarantined(tile string, on bool) {
	if regOK.Load() {
		v := 0.0
		if on {
			v = 1
		}
		quarantined.WithLabelValues(tile).Set(v)
	}
}

// SetTileState marks state as the active state for tile and clears the others.
func SetTileState(tile, state string) {
	if regOK.Load() {
		for _, s := range TileStates {
			v := 0.0
			if s == state {
				v = 1
			}
			tileState.WithLabelValues(tile, s).Set(v)
		}
	}
}

// ForgetTile drops per-tile series for a tile that left the layout.
func ForgetTile(tile string) {
	if regOK.Load() {
		quarantined.DeleteLabelValues(tile)
		for _, s := range TileStates {
			tileState.DeleteLabelValues(tile, s)
		}
	}
}

func IncProbe(result string) {
	if regOK.Load() {
		probeResults.WithLabelValues(result).Inc()
	}
}

func ObserveCycle(seconds float64, overrun bool) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
		if overrun {
			cycleOverruns.Inc()
		}
	}
}

func IncSinkDropped() {
	if regOK.Load() {
		sinkDropped.Inc()
	}
}

func IncSinkError(sink string) {
	if regOK.Load() {
		sinkErrors.WithLabelValues(sink).Inc()
	}
}
