package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	collectorPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_pages_total",
		Help: "Total collected pages by result",
	}, []string{"result"}) // "ok", "failed", "cancelled"

	collectorCollectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_collections_total",
		Help: "Total collections by result",
	}, []string{"result"}) // "complete", "partial", "empty", "error"
)
