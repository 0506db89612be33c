// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatrelay",
		Name:      "online_users",
		Help:      "Number of users with a presence entry.",
	})

	PresenceBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "presence_broadcasts_total",
		Help:      "Full presence snapshots broadcast to connected users.",
	})

	SessionsSuperseded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "sessions_superseded_total",
		Help:      "Presence entries replaced by a newer connection of the same user.",
	})

	ReaperEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "reaper_evictions_total",
		Help:      "Presence entries evicted for inactivity.",
	})

	// Dispatches counts live pushes by outcome: delivered or offline.
	Dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "dispatches_total",
		Help:      "Events pushed to users, by outcome.",
	}, []string{"outcome"})

	// StatusTransitions counts recipient status changes by target state.
	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "status_transitions_total",
		Help:      "Recipient status transitions that changed stored state.",
	}, []string{"state"})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "messages_sent_total",
		Help:      "Messages persisted through the send path.",
	})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "inbound_events_total",
		Help:      "Realtime events received, by type and result.",
	}, []string{"type", "result"})
)

func init() {
	prometheus.MustRegister(
		OnlineUsers,
		PresenceBroadcasts,
		SessionsSuperseded,
		ReaperEvictions,
		Dispatches,
		StatusTransitions,
		MessagesSent,
		InboundEvents,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
