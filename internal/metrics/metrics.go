package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	DataPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandialert_datapoints_total",
			Help: "Total number of data points submitted to the rule engine",
		},
		[]string{"subject_kind", "source"},
	)

	// Engine metrics
	RuleFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandialert_rule_firings_total",
			Help: "Total number of accepted rule firings",
		},
		[]string{"subject_kind"},
	)

	CooldownSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mandialert_cooldown_suppressed_total",
			Help: "Total number of firings suppressed by rule cooldown",
		},
	)

	EvaluationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mandialert_evaluation_errors_total",
			Help: "Total number of rules skipped due to evaluation errors",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mandialert_evaluation_duration_seconds",
			Help:    "Duration of one data point evaluation pass",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Dispatch metrics
	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandialert_delivery_attempts_total",
			Help: "Total number of channel delivery attempts",
		},
		[]string{"channel", "status"}, // status: sent, failed, retried
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mandialert_delivery_duration_seconds",
			Help:    "Time taken for one channel delivery attempt",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	InFlightDispatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mandialert_dispatches_in_flight",
			Help: "Number of fired events currently being dispatched",
		},
	)
)
