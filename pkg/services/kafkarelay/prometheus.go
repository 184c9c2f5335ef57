package kafkarelay

import "github.com/prometheus/client_golang/prometheus"

// Metrics used in monitoring service.
var (
	relayedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of events written to Kafka",
			Name:      "kafka_relayed_events_total",
			Namespace: "nexasim",
		},
	)
	relayFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of events Kafka writer failed to deliver",
			Name:      "kafka_relay_failures_total",
			Namespace: "nexasim",
		},
	)
)

func init() {
	prometheus.MustRegister(relayedEvents, relayFailures)
}
