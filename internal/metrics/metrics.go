// Package metrics defines the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatcher metrics
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "news_dispatch_passes_total",
			Help: "Total reconciliation passes",
		},
		[]string{"source", "result"}, // "ok", "empty", "fetch_error", "cas_lost", "store_error"
	)

	ItemsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "news_dispatch_items_total",
			Help: "Total news items dispatched",
		},
		[]string{"source", "result"}, // "delivered", "filtered"
	)

	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "news_dispatch_pass_duration_seconds",
			Help:    "Reconciliation pass duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"source"},
	)

	// Delivery metrics
	FanoutSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "news_dispatch_fanout_sends_total",
			Help: "Total per-recipient sends",
		},
		[]string{"channel", "result"}, // "ok" or "error"
	)

	// Webhook metrics
	WebhookUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "news_dispatch_webhook_updates_total",
			Help: "Total inbound webhook updates",
		},
		[]string{"result"}, // "queued", "duplicate", "dropped", "invalid", "processed", "failed"
	)

	WebhookQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "news_dispatch_webhook_queue_depth",
			Help: "Updates waiting in the webhook work queue",
		},
	)

	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "news_dispatch_commands_total",
			Help: "Total commands handled",
		},
		[]string{"channel", "command"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "news_dispatch_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
