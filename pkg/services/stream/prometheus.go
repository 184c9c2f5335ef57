package stream

import "github.com/prometheus/client_golang/prometheus"

// Metrics used in monitoring service.
var eventsDelivered = prometheus.NewCounter(
	prometheus.CounterOpts{
		Help:      "Number of events written to websocket clients",
		Name:      "events_delivered_total",
		Namespace: "nexasim",
	},
)

func init() {
	prometheus.MustRegister(eventsDelivered)
}
