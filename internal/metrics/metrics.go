package metrics

import (
	"time"

	"github.com/berfenger/shelly2mqtt/pkg/shelly"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const NAMESPACE = "shelly2mqtt"

const (
	POLL_RESULT_OK = "ok"
)

var (
	PollResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAMESPACE,
		Name:      "poll_results_total",
		Help:      "Poll cycles by outcome (ok or error kind).",
	}, []string{"result"})

	PollSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: NAMESPACE,
		Name:      "poll_skipped_total",
		Help:      "Poll ticks skipped because the previous cycle was still running.",
	})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: NAMESPACE,
		Name:      "meter_fetch_duration_seconds",
		Help:      "Duration of meter status requests.",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"call"})

	ActivePower = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE,
		Name:      "active_power_watts",
		Help:      "Last published active power, positive when importing.",
	})

	LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful poll cycle.",
	})
)

// MeterInstrument feeds meter client timings into FetchDuration.
func MeterInstrument() *shelly.Instrument {
	return &shelly.Instrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			FetchDuration.WithLabelValues(fnName).Observe(readTime.Seconds())
		},
	}
}
