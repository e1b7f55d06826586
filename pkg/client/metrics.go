package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for gated requests.
var (
	gatedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gated_requests_total",
		Help: "Total gated requests by origin and status",
	}, []string{"origin", "status"})

	gatedRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gated_request_duration_seconds",
		Help:    "Gated request duration in seconds by origin",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"origin"})

	gatedTransportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gated_transport_errors_total",
		Help: "Total transport failures by class",
	}, []string{"class"})
)
