package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionMetrics instruments the Session FSM and Nexus composition (spec
// §4.10, §4.11): lifecycle transitions, reinstatement, and keepalive
// timer activity. Grounded on the teacher's session_metrics.go pattern
// of one struct of promauto collectors per component, with a nil
// receiver acting as a no-op so every call site can instrument
// unconditionally.
type SessionMetrics struct {
	transitions     *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	reinstatements  prometheus.Counter
	continuations   *prometheus.CounterVec
	keepaliveExpiry prometheus.Counter
	loginDuration   *prometheus.HistogramVec
}

// NewSessionMetrics builds a SessionMetrics instance, or returns nil if
// metrics are not enabled.
func NewSessionMetrics() *SessionMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &SessionMetrics{
		transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session FSM transitions by from/to state.",
		}, []string{"from", "to"}),
		activeSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently outside Free and Zombie.",
		}),
		reinstatements: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reinstatements_total",
			Help:      "Predecessor sessions replaced by a new leading login for the same client terminus.",
		}),
		continuations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "continuations_total",
			Help:      "Outcomes of a continuation attempt from the Failed state.",
		}, []string{"outcome"}), // "succeeded", "failed"
		keepaliveExpiry: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "keepalive_expiry_total",
			Help:      "Sessions forced from Failed to Zombie by keepalive timer expiry.",
		}),
		loginDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "login_duration_seconds",
			Help:      "Duration of the leading login sequence.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

func (m *SessionMetrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *SessionMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *SessionMetrics) Reinstated() {
	if m == nil {
		return
	}
	m.reinstatements.Inc()
}

func (m *SessionMetrics) Continuation(succeeded bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	m.continuations.WithLabelValues(outcome).Inc()
}

func (m *SessionMetrics) KeepaliveExpired() {
	if m == nil {
		return
	}
	m.keepaliveExpiry.Inc()
}

func (m *SessionMetrics) ObserveLogin(seconds float64, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	m.loginDuration.WithLabelValues(outcome).Observe(seconds)
}
