package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	reqCounter = map[string]prometheus.Counter{}
	reqTimes   = map[string]prometheus.Histogram{}

	blockCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of blocks served from the encoded block cache",
			Name:      "query_block_cache_hits_total",
			Namespace: "nexasim",
		},
	)
)

func addReqTimeMetric(name string, t time.Duration) {
	hist, ok := reqTimes[name]
	if ok {
		hist.Observe(t.Seconds())
	}
	ctr, ok := reqCounter[name]
	if ok {
		ctr.Inc()
	}
}

func regCounter(name string) {
	ctr := prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of " + name + " queries",
			Name:      "query_" + name + "_called",
			Namespace: "nexasim",
		},
	)
	prometheus.MustRegister(ctr)
	reqCounter[name] = ctr
	reqTimes[name] = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Help:      "Query " + name + " handling time",
			Name:      "query_" + name + "_time",
			Namespace: "nexasim",
		},
	)
	prometheus.MustRegister(reqTimes[name])
}

func init() {
	for _, rt := range routes {
		regCounter(rt.name)
	}
	prometheus.MustRegister(blockCacheHits)
}
