package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChannelMetrics instruments the initiator and target channels (spec
// §4.5, §4.7): submit latency, retry/abort volume, and async task queue
// depth, split by the four target task categories.
type ChannelMetrics struct {
	submitDuration *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	aborts         *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	transportsUp   *prometheus.GaugeVec
}

func NewChannelMetrics() *ChannelMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &ChannelMetrics{
		submitDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "submit_duration_seconds",
			Help:      "Time from Submit() call to command completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}), // "fore", "back"
		retries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "retries_total",
			Help:      "Commands re-sent after a transport reset.",
		}, []string{"kind"}),
		aborts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "aborts_total",
			Help:      "TaskMgmt abort outcomes.",
		}, []string{"status"}), // AbortedBeforeStart, AbortedAfterStart, AlreadyCompleted, AbortedSlotFailure
		queueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "task_queue_depth",
			Help:      "Depth of the target channel's async task queues, by category.",
		}, []string{"category"}), // retry, abort, error, restart
		transportsUp: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "transports_attached",
			Help:      "Transports currently attached to the channel.",
		}, []string{"kind"}),
	}
}

func (m *ChannelMetrics) ObserveSubmit(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.submitDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *ChannelMetrics) Retry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *ChannelMetrics) Abort(status string) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(status).Inc()
}

func (m *ChannelMetrics) SetQueueDepth(category string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(category).Set(float64(n))
}

func (m *ChannelMetrics) SetTransportsAttached(kind string, n int) {
	if m == nil {
		return
	}
	m.transportsUp.WithLabelValues(kind).Set(float64(n))
}
