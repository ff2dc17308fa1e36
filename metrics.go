package gatelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects admission telemetry for registry-driven policies.
type Metrics struct {
	decisions *prometheus.CounterVec
	queueWait *prometheus.HistogramVec
}

// NewMetrics builds the admission collectors and registers them on
// the given registerer. Pass prometheus.DefaultRegisterer to expose
// them on the default handler.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	out := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions partitioned by policy and outcome.",
		}, []string{"policy", "outcome"}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatelimit",
			Name:      "queue_wait_seconds",
			Help:      "Time spent queued before a permit became available.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"policy"}),
	}

	registerer.MustRegister(out.decisions, out.queueWait)
	return out
}

func (m *Metrics) observeDecision(policy string, decision Decision) {
	m.decisions.WithLabelValues(policy, decision.Outcome.String()).Inc()
}

// ObserveQueueWait records how long a queued request waited before
// its decision settled. Callers measure the wait around Decision.Wait.
func (m *Metrics) ObserveQueueWait(policy string, waited time.Duration) {
	m.queueWait.WithLabelValues(policy).Observe(waited.Seconds())
}
