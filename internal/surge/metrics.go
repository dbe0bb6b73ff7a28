package surge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surge_snapshots_ingested_total",
		Help: "Supply/demand snapshots folded into surge windows",
	})

	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surge_lookups_total",
		Help: "Surge factor lookups by resolution source",
	}, []string{"source"})

	surgeFactorGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "surge_factor",
		Help: "Last computed surge factor per region",
	}, []string{"region"})
)
