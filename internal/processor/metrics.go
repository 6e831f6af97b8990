package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pushqueue"

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "cycles_total",
			Help:      "Processing cycles run, by result",
		},
		[]string{"result"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "items_total",
			Help:      "Queue items processed, by final outcome of the cycle",
		},
		[]string{"outcome"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one processing cycle",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	requeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "requeued_total",
			Help:      "Failed items returned to pending by the retry sweep",
		},
	)
)

func recordCycle(result string, duration time.Duration) {
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDuration.Observe(duration.Seconds())
}

func recordItems(outcome string, count int) {
	if count > 0 {
		itemsTotal.WithLabelValues(outcome).Add(float64(count))
	}
}

func recordRequeued(count int) {
	if count > 0 {
		requeuedTotal.Add(float64(count))
	}
}
