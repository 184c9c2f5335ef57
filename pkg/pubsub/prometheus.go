package pubsub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	eventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of events broadcasted to subscribers",
			Name:      "events_published_total",
			Namespace: "nexasim",
		},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of events dropped because of no subscribers",
			Name:      "events_dropped_total",
			Namespace: "nexasim",
		},
	)
	eventsMissed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of events lost by lagging subscribers",
			Name:      "events_missed_total",
			Namespace: "nexasim",
		},
	)
	subscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of active event subscriptions",
			Name:      "event_subscribers",
			Namespace: "nexasim",
		},
	)
)

func init() {
	prometheus.MustRegister(
		eventsPublished,
		eventsDropped,
		eventsMissed,
		subscribersGauge,
	)
}
