package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SlotTableMetrics instruments both the initiator and target slot tables
// (spec §4.2, §4.3): occupancy, resize activity, and the classification
// of every target-side reservation attempt (new/retry/false-retry/
// misordered/invalid).
type SlotTableMetrics struct {
	inUse        *prometheus.GaugeVec
	capacity     *prometheus.GaugeVec
	resizes      *prometheus.CounterVec
	reservations *prometheus.CounterVec
	evictions    prometheus.Counter
}

func NewSlotTableMetrics() *SlotTableMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &SlotTableMetrics{
		inUse: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "slot_table",
			Name:      "in_use",
			Help:      "Slots currently reserved, by side.",
		}, []string{"side"}), // "initiator", "target"
		capacity: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "slot_table",
			Name:      "capacity",
			Help:      "Current slot table size, by side.",
		}, []string{"side"}),
		resizes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slot_table",
			Name:      "resizes_total",
			Help:      "Slot table resize operations, by side and direction.",
		}, []string{"side", "direction"}), // direction: "grow", "shrink"
		reservations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slot_table",
			Name:      "reservations_total",
			Help:      "Target-side reservation attempts by outcome (spec §4.3).",
		}, []string{"outcome"}), // "new", "retry", "false_retry", "misordered", "id_invalid", "max_invalid"
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slot_table",
			Name:      "evictions_total",
			Help:      "Cached responses evicted by the next command over the same slot.",
		}),
	}
}

func (m *SlotTableMetrics) SetInUse(side string, n int) {
	if m == nil {
		return
	}
	m.inUse.WithLabelValues(side).Set(float64(n))
}

func (m *SlotTableMetrics) SetCapacity(side string, n uint32) {
	if m == nil {
		return
	}
	m.capacity.WithLabelValues(side).Set(float64(n))
}

func (m *SlotTableMetrics) Resize(side, direction string) {
	if m == nil {
		return
	}
	m.resizes.WithLabelValues(side, direction).Inc()
}

func (m *SlotTableMetrics) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *SlotTableMetrics) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}
