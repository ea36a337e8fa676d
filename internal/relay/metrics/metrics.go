// Package metrics defines the relay's Prometheus metrics. Labels are drawn
// from small closed sets; ids, senders and channels never appear as labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route label values for MessagesTotal.
const (
	RouteResolve     = "resolve"
	RouteNormalize   = "normalize"
	RouteRateLimited = "rate_limited"
	RouteDuplicate   = "duplicate"
)

var (
	// MessagesTotal counts inbound chat messages by the path they took.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Inbound chat messages, by route (resolve, normalize, rate_limited, duplicate).",
	}, []string{"route"})

	// IntentsTotal counts normalised intents by type. Fallbacks are counted
	// as "fallback", not as chat.
	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_intents_total",
		Help: "Normalized model replies, by intent type.",
	}, []string{"type"})

	// NormalizeErrorsTotal counts rejected model outputs by pipeline stage.
	NormalizeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_normalize_errors_total",
		Help: "Model outputs rejected by the normalizer, by stage.",
	}, []string{"stage"})

	// ModelErrorsTotal counts failed model calls.
	ModelErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_model_errors_total",
		Help: "Failed model calls, by reason (transport, rate_limit, empty, timeout).",
	}, []string{"reason"})

	// ModelLatency observes model round-trip time.
	ModelLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_model_latency_seconds",
		Help:    "Model completion latency.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
	})

	// PublishTotal counts bus publishes by origin and result.
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_publish_total",
		Help: "Commands published to the bus, by origin (direct, confirmed) and result (ok, error).",
	}, []string{"origin", "result"})

	// ConfirmationsTotal counts confirm/cancel resolutions by outcome.
	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_confirmations_total",
		Help: "Confirmation replies, by outcome (confirmed, cancelled, not_found).",
	}, []string{"outcome"})

	// PendingConfirmations is the current registry size.
	PendingConfirmations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pending_confirmations",
		Help: "Actions currently awaiting confirmation.",
	})

	// ExpiredConfirmationsTotal counts entries removed by the sweeper.
	ExpiredConfirmationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_expired_confirmations_total",
		Help: "Pending actions dropped after their TTL elapsed.",
	})

	// AgentCommandsTotal counts commands handled by an executor agent.
	AgentCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_agent_commands_total",
		Help: "Commands executed by the agent, by kind and result.",
	}, []string{"kind", "result"})
)
