package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	negotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_negotiations_total",
		Help: "Total gate negotiations by terminal result",
	}, []string{"result"})

	negotiationStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_negotiation_steps_total",
		Help: "Negotiation steps executed by step and outcome",
	}, []string{"step", "outcome"})

	negotiationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gate_negotiation_duration_seconds",
		Help:    "Duration of full gate negotiations",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)
