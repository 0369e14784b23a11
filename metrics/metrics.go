// Package metrics exports Prometheus counters and histograms for the
// pipeline: turn throughput/latency and per-component execution state.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "dialogrt"

var (
	// turnsTotal counts completed turns by outcome.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns run by the pipeline",
		},
		[]string{"status"}, // success, error
	)

	// turnDuration is a histogram of run_turn wall-clock duration.
	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Histogram of run_turn duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// componentStateTotal counts how a pipeline component resolved a turn.
	componentStateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_state_total",
			Help:      "Total number of component runs by dotted path and resulting state",
		},
		[]string{"path", "state"},
	)

	// allMetrics is registered wholesale by Register.
	allMetrics = []prometheus.Collector{
		turnsTotal,
		turnDuration,
		componentStateTotal,
	}
)

// Register adds every metric collector to reg. Call once at process
// startup; reg is typically prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) error {
	for _, c := range allMetrics {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordTurn records one run_turn completion.
func RecordTurn(status string, durationSeconds float64) {
	turnsTotal.WithLabelValues(status).Inc()
	turnDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordComponentState records the terminal state of one component run.
func RecordComponentState(path, state string) {
	componentStateTotal.WithLabelValues(path, state).Inc()
}
