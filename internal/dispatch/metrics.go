package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ridesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_rides_created_total",
		Help: "Total ride requests accepted for dispatch",
	}, []string{"tenant", "region"})

	ridesRejectedKillSwitch = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_rides_rejected_kill_switch_total",
		Help: "Ride requests rejected because the dispatch kill switch was on",
	}, []string{"tenant"})

	offersSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_offers_sent_total",
		Help: "Driver offers sent",
	}, []string{"region"})

	offersClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_offers_closed_total",
		Help: "Driver offers closed, by response",
	}, []string{"response"})

	noDriverFoundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_no_driver_found_total",
		Help: "Rides that exhausted dispatch without an accepting driver",
	}, []string{"region"})

	dispatchAttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_attempt_duration_seconds",
		Help:    "Wall time of one dispatch loop pass",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	candidatesConsidered = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_candidates_considered",
		Help:    "Candidates surviving the filter per dispatch attempt",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})
)
