package nbtls

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors both the crypto and pool packages update.
// It is never registered against prometheus.DefaultRegisterer implicitly —
// callers call Register themselves, the same explicit-registration
// discipline the teacher's modules/metrics package follows.
type Metrics struct {
	PoolSize      *prometheus.GaugeVec
	PoolAvailable *prometheus.GaugeVec
	PoolPending   *prometheus.GaugeVec
	PoolQueued    *prometheus.GaugeVec

	HandshakeTotal    *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram
}

// NewMetrics constructs an unregistered Metrics bundle.
func NewMetrics() *Metrics {
	return &Metrics{
		PoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nbtls",
			Subsystem: "pool",
			Name:      "sockets",
			Help:      "Number of pooled sockets per authority, available or in use.",
		}, []string{"authority"}),
		PoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nbtls",
			Subsystem: "pool",
			Name:      "available",
			Help:      "Number of idle, available pooled sockets per authority.",
		}, []string{"authority"}),
		PoolPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nbtls",
			Subsystem: "pool",
			Name:      "pending",
			Help:      "Number of in-flight connects per authority not yet in the pool.",
		}, []string{"authority"}),
		PoolQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nbtls",
			Subsystem: "pool",
			Name:      "queued",
			Help:      "Number of checkout requests queued on capacity per authority.",
		}, []string{"authority"}),
		HandshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nbtls",
			Subsystem: "crypto",
			Name:      "handshakes_total",
			Help:      "Total handshake attempts by outcome.",
		}, []string{"op", "outcome"}),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nbtls",
			Subsystem: "crypto",
			Name:      "handshake_duration_seconds",
			Help:      "Time from handshake start to settlement.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Register adds every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.PoolSize, m.PoolAvailable, m.PoolPending, m.PoolQueued,
		m.HandshakeTotal, m.HandshakeDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
