// Package metrics exposes prometheus counters/histograms for transfer
// outcomes, mirroring the way aistore instruments xaction completion
// (teacher's prometheus/client_golang dependency).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	XfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phobosd",
		Name:      "xfers_total",
		Help:      "Total transfers processed, by operation and result.",
	}, []string{"op", "result"})

	XferDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "phobosd",
		Name:      "xfer_duration_seconds",
		Help:      "Per-transfer duration in seconds, by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	HashVerifyFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "phobosd",
		Name:      "hash_verify_failures_total",
		Help:      "Read-time hash verification failures (spec §8 'Hash detection').",
	})

	LocateRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "phobosd",
		Name:      "locate_retries_total",
		Help:      "Locate calls that failed with retry-later (spec §4.2 step 5).",
	})
)

func init() {
	prometheus.MustRegister(XfersTotal, XferDuration, HashVerifyFailuresTotal, LocateRetriesTotal)
}
