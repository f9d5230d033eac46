// Package metrics defines the Prometheus instrumentation exposed on
// /metrics: counters and histograms for checkout/webhook outcomes, batcher
// batch size and flush latency, and DB gate queue depth, registered against
// the default registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckoutTotal counts checkout attempts by outcome
	// (ok, sold_out, bad_request, error).
	CheckoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tigerfans_checkout_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})

	// WebhookTotal counts webhook deliveries by outcome
	// (paid, paid_unfulfilled, failed, canceled, idempotent, bad_request, not_found, error).
	WebhookTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tigerfans_webhook_total",
		Help: "Webhook deliveries by outcome.",
	}, []string{"outcome"})

	// BatcherBatchSize observes how many items were coalesced into each
	// ledger batch RPC.
	BatcherBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tigerfans_batcher_batch_size",
		Help:    "Number of transfer items per batched ledger RPC.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})

	// BatcherFlushSeconds observes the latency of one batch RPC round trip.
	BatcherFlushSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tigerfans_batcher_flush_seconds",
		Help:    "Latency of a single batched ledger RPC.",
		Buckets: prometheus.DefBuckets,
	})

	// DBGateQueueDepth gauges how many callers are currently waiting to
	// acquire the DB gate semaphore.
	DBGateQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tigerfans_db_gate_queue_depth",
		Help: "Number of callers currently waiting on the DB gate.",
	})
)
