package channel

import (
	"sync/atomic"

	"github.com/nexusdsp/dsp/pkg/wire"
)

// Transport is the minimal view a channel needs of an attached transport:
// enough to pick one for the next send (spec §4.8) and to hand it a
// frame to carry.
type Transport interface {
	ID() string
	QueueDepth() int
	Send(f wire.Frame) error
}

// Scheduler selects one transport from an attached set for the next
// send. Implementations must be lock-free in the common case and break
// ties deterministically.
type Scheduler interface {
	Next(attached []Transport) (Transport, bool)
}

// RoundRobin cycles through the attached set in order, independent of
// load. It is the default scheduler.
type RoundRobin struct {
	counter atomic.Uint64
}

// Next returns the next transport in round-robin order, or false if
// attached is empty.
func (r *RoundRobin) Next(attached []Transport) (Transport, bool) {
	if len(attached) == 0 {
		return nil, false
	}
	i := r.counter.Add(1) - 1
	return attached[i%uint64(len(attached))], true
}

// LeastQueue picks the attached transport with the smallest outbound
// queue depth, breaking ties by lowest index for determinism.
type LeastQueue struct{}

// Next returns the least-loaded transport, or false if attached is empty.
func (LeastQueue) Next(attached []Transport) (Transport, bool) {
	if len(attached) == 0 {
		return nil, false
	}
	best := attached[0]
	bestDepth := best.QueueDepth()
	for _, t := range attached[1:] {
		if d := t.QueueDepth(); d < bestDepth {
			best, bestDepth = t, d
		}
	}
	return best, true
}
