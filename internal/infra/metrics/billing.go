package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		providerCallsTotal,
		providerCallDuration,
		lifecycleTotal,
		profileWriteFailuresTotal,
	)
}

var (
	// op: create_checkout|get|cancel|resume
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_provider_calls_total",
			Help: "Payment provider API calls by provider, operation and result.",
		},
		[]string{"provider", "op", "result"},
	)

	providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_provider_call_duration_seconds",
			Help:    "Payment provider API call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"provider", "op"},
	)

	// outcome: ok|unauthenticated|invalid|denied|locked|unsupported|rate_limited|error
	lifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_lifecycle_total",
			Help: "Subscription lifecycle operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// op: save|create|clear_subscription
	profileWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_store_write_failures_total",
			Help: "Failed writes to the profiles table by operation.",
		},
		[]string{"op"},
	)
)

func ObserveProviderCall(provider, op string, d time.Duration, err error) {
	providerCallsTotal.WithLabelValues(norm(provider), norm(op), resultLabel(err)).Inc()
	providerCallDuration.WithLabelValues(norm(provider), norm(op)).Observe(d.Seconds())
}

func IncLifecycle(op, outcome string) {
	lifecycleTotal.WithLabelValues(norm(op), norm(outcome)).Inc()
}

func IncProfileWriteFailure(op string) {
	profileWriteFailuresTotal.WithLabelValues(norm(op)).Inc()
}
