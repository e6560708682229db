// Package metrics provides Prometheus instrumentation for the session
// data plane: per-nexus, per-slot-table, per-sequencer and per-channel
// counters, gauges and histograms, registered against an injected
// *prometheus.Registry so a host application controls exposition.
//
// Metrics are optional: every constructor returns nil when the package
// has not been enabled via InitRegistry, and every collector method is a
// nil-receiver no-op, so instrumentation can be wired unconditionally
// into the protocol packages without a runtime enabled-check at each
// call site.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  atomic.Bool
)

// InitRegistry enables metrics collection against reg. Passing nil
// creates a fresh, private registry (as opposed to prometheus.DefaultRegisterer,
// which the host application may not want polluted with DSP's metric
// names).
func InitRegistry(reg *prometheus.Registry) *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	registry = reg
	enabled.Store(true)
	return reg
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// Reset disables metrics and clears the registry; intended for tests that
// need a clean collector namespace between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
	enabled.Store(false)
}

const namespace = "dsp"
