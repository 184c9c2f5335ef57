package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for monitoring service.
var (
	//blockHeight prometheus metric.
	blockHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Current index of the chain tail",
			Name:      "current_block_height",
			Namespace: "nexasim",
		},
	)
	//txCount prometheus metric.
	txCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of transactions in the chain",
			Name:      "transactions_total",
			Namespace: "nexasim",
		},
	)
	//hashAttempts prometheus metric.
	hashAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of hashes calculated by the miner",
			Name:      "hash_attempts_total",
			Namespace: "nexasim",
		},
	)
	//miningTime prometheus metric.
	miningTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Help:      "Nonce search time",
			Name:      "mining_time_seconds",
			Namespace: "nexasim",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		blockHeight,
		txCount,
		hashAttempts,
		miningTime,
	)
}

func updateLedgerMetrics(blocks int, txs int) {
	blockHeight.Set(float64(blocks - 1))
	txCount.Set(float64(txs))
}

func addHashAttempts(n uint64) {
	hashAttempts.Add(float64(n))
}

func observeMiningTime(d time.Duration) {
	miningTime.Observe(d.Seconds())
}
