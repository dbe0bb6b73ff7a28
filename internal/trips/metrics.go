package trips

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tripsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trips_started_total",
		Help: "Trips started",
	}, []string{"region"})

	tripsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trips_completed_total",
		Help: "Trips completed",
	}, []string{"region"})

	fareAmounts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trips_fare_amount",
		Help:    "Final fare amounts",
		Buckets: []float64{5, 10, 15, 25, 40, 60, 100, 200},
	})
)
