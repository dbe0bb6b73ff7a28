package payments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Payments created from trip completion events",
	}, []string{"tenant"})

	paymentsCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_captured_total",
		Help: "Payments successfully captured at the provider",
	})

	paymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Payments that failed to capture",
	}, []string{"stage"})

	chargeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payments_charge_duration_seconds",
		Help:    "Wall time of a charge attempt including retries",
		Buckets: prometheus.DefBuckets,
	})

	outboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_outbox_published_total",
		Help: "Outbox entries delivered to the broker",
	})

	outboxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_outbox_retries_total",
		Help: "Outbox publish attempts that failed and will be retried",
	})

	reconcileSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_reconcile_sweeps_total",
		Help: "Reconciler sweep runs by kind",
	}, []string{"kind"})
)
