package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsApplied counts feed events applied to local state.
	EventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_applied_total",
		Help: "Feed events applied to the local projection.",
	})

	// Reconnects counts subscription reconnects after connection loss.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnects_total",
		Help: "Subscription reconnects after connection loss.",
	})

	// MessagesSent counts accepted outbound messages.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_messages_sent_total",
		Help: "Outbound messages accepted for dispatch.",
	})

	// SendFailures counts sends that ended in the failed delivery state.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_send_failures_total",
		Help: "Outbound messages that transitioned to failed.",
	})

	// AssistantFallbacks counts assistant turns resolved by the local
	// fallback generator.
	AssistantFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_assistant_fallbacks_total",
		Help: "Assistant turns resolved with the local fallback.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
