package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SequencerMetrics instruments the target command sequencer (spec §4.4):
// how far out of order arrivals land, and whether drains are handled
// inline or handed to the async task.
type SequencerMetrics struct {
	orderDistance prometheus.Histogram
	drains        *prometheus.CounterVec
	drainedCount  prometheus.Histogram
}

func NewSequencerMetrics() *SequencerMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &SequencerMetrics{
		orderDistance: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "order_distance",
			Help:      "Ring distance between an arrival's CommandSN and the current head, when nonzero.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		drains: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "drains_total",
			Help:      "Sequencer drains, by mode (spec §4.4: inline vs async task).",
		}, []string{"mode"}), // "inline", "async"
		drainedCount: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "drained_commands",
			Help:      "Number of commands released per drain.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}),
	}
}

func (m *SequencerMetrics) ObserveOrderDistance(d uint32) {
	if m == nil || d == 0 {
		return
	}
	m.orderDistance.Observe(float64(d))
}

func (m *SequencerMetrics) Drain(mode string, drained int) {
	if m == nil {
		return
	}
	m.drains.WithLabelValues(mode).Inc()
	if drained > 0 {
		m.drainedCount.Observe(float64(drained))
	}
}
