package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors (spec's ambient
// observability stack). An Engine always carries one; registering them is
// left to the caller (see Collectors), so a process embedding several
// engines can register each with its own prometheus.Registerer before
// exposing /metrics.
type Metrics struct {
	phasesDecided       prometheus.Counter
	commitsTotal        prometheus.Counter
	commitLatency       prometheus.Histogram
	syncRestores        prometheus.Counter
	unsupportedProtocol prometheus.Counter
	lastCommitAt        time.Time
}

func newMetrics() *Metrics {
	return &Metrics{
		phasesDecided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rabia",
			Name:      "phases_decided_total",
			Help:      "Number of phases this node has decided, locally or via an inbound Decision.",
		}),
		commitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rabia",
			Name:      "commits_total",
			Help:      "Number of non-empty batches committed to the state machine.",
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rabia",
			Name:      "commit_interval_seconds",
			Help:      "Wall-clock time between consecutive commits.",
			Buckets:   prometheus.DefBuckets,
		}),
		syncRestores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rabia",
			Name:      "sync_restores_total",
			Help:      "Number of times this node restored from a SavedState after a quorum gap.",
		}),
		unsupportedProtocol: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rabia",
			Name:      "unsupported_protocol_envelopes_total",
			Help:      "Number of inbound envelopes dropped for carrying an unsupported protocol version.",
		}),
	}
}

// Collectors returns every collector so a caller can register them with a
// prometheus.Registerer of its choosing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.phasesDecided, m.commitsTotal, m.commitLatency, m.syncRestores, m.unsupportedProtocol}
}

func (m *Metrics) observeCommit() {
	m.commitsTotal.Inc()
	now := time.Now()
	if !m.lastCommitAt.IsZero() {
		m.commitLatency.Observe(now.Sub(m.lastCommitAt).Seconds())
	}
	m.lastCommitAt = now
}

func (m *Metrics) observeDecision() {
	m.phasesDecided.Inc()
}

func (m *Metrics) observeSyncRestore() {
	m.syncRestores.Inc()
}

func (m *Metrics) observeUnsupportedProtocol() {
	m.unsupportedProtocol.Inc()
}
