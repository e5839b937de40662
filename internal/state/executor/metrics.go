package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	commits   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	discarded prometheus.Counter
	duration  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "mutations_committed_total",
			Help:      "Optimistic mutations confirmed by the backend.",
		}, []string{"op"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "mutations_rolled_back_total",
			Help:      "Optimistic mutations undone after a backend failure.",
		}, []string{"op", "severity"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "mutations_discarded_total",
			Help:      "Queued mutations dropped because their create failed.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tasksync",
			Name:      "persist_duration_seconds",
			Help:      "Latency of backend calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.commits, m.rollbacks, m.discarded, m.duration)
	}
	return m
}
