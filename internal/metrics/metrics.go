// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent counts outbound messages per worker.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vusion_messages_sent_total",
		Help: "Outbound messages published, per worker.",
	}, []string{"worker"})

	// MessagesReceived counts inbound messages per worker.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vusion_messages_received_total",
		Help: "Inbound messages consumed, per worker.",
	}, []string{"worker"})

	// SchedulesExpired counts schedules discarded past the lateness cutoff.
	SchedulesExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vusion_schedules_expired_total",
		Help: "Schedules discarded as expired instead of sent, per worker.",
	}, []string{"worker"})

	// SchedulesStale counts schedules discarded for a stale session id.
	SchedulesStale = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vusion_schedules_stale_total",
		Help: "Schedules discarded because the participant session changed, per worker.",
	}, []string{"worker"})

	// CreditsConsumed counts credit units consumed, per worker and direction.
	CreditsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vusion_credits_consumed_total",
		Help: "Message credit units consumed, per worker and direction.",
	}, []string{"worker", "direction"})

	// SendsSuppressed counts sends suppressed by the credit limit.
	SendsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vusion_sends_suppressed_total",
		Help: "Outbound messages suppressed by the credit limit, per worker.",
	}, []string{"worker"})

	// ActiveWorkers tracks the number of running tenant workers.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vusion_active_workers",
		Help: "Tenant workers currently running.",
	})
)

// Handler returns the HTTP handler exposing the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
