// Package sequencer implements the target-side command sequencer (spec
// §4.4): a fixed-size ring buffer that restores strict CommandSN ordering
// before application dispatch even though commands can arrive out of
// order across multiple transports.
package sequencer

import (
	"fmt"
	"sync"

	"github.com/nexusdsp/dsp/pkg/serial"
)

// AsyncDrainThreshold is the pending-queue depth above which a drain is
// submitted to the async task rather than run inline (spec §4.4).
const AsyncDrainThreshold = 4

// Command is the minimal view the sequencer needs of a target command:
// enough to order it and hand it back to the caller on drain.
type Command struct {
	CommandSN serial.Number
	Ref       any
}

// Sequencer orders commands by CommandSN before releasing them for
// dispatch. It never resizes its ring at runtime (spec §9): a position
// collision on `Enter` is a fatal protocol violation, not something to
// recover from by growing the ring.
type Sequencer struct {
	mu sync.Mutex

	depth uint32
	ring  []*Command
	head  serial.Number // next expected CommandSN

	pending []*Command // drained, ready-to-dispatch, in CommandSN order

	draining bool
}

// New builds a Sequencer with a ring sized to depth (the channel's queue
// depth) and head set to the first expected CommandSN.
func New(depth uint32, head serial.Number) *Sequencer {
	if depth == 0 {
		panic("sequencer: depth must be > 0")
	}
	return &Sequencer{
		depth: depth,
		ring:  make([]*Command, depth),
		head:  head,
	}
}

// Enter admits cmd into the ring. If cmd lands exactly on head it (and
// any run of contiguously-occupied positions following it) is drained
// into pending and the count of drained commands is returned so the
// caller can advance its ExpectedCommandSN by that amount. Otherwise cmd
// is stashed, its OrderDistance recorded, and 0 is returned.
//
// A position already occupied signals the ring has wrapped onto its own
// tail: this is a ProtocolViolation, reported via panic since it can
// only happen if the caller already let more than `depth` commands run
// ahead of head, which the slot table's capacity bound should prevent.
func (s *Sequencer) Enter(cmd *Command) (drained int, orderDistance uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := uint32(cmd.CommandSN) % s.depth
	if s.ring[pos] != nil {
		panic(fmt.Sprintf("sequencer: ring position %d already occupied (protocol violation)", pos))
	}
	s.ring[pos] = cmd

	if cmd.CommandSN != s.head {
		return 0, serial.Distance(s.head, cmd.CommandSN) % s.depth
	}

	drained = s.drainFromHead()
	return drained, 0
}

// drainFromHead walks the ring starting at head's position and collects
// every contiguously-occupied slot into pending, advancing head past
// them. Caller must hold s.mu.
func (s *Sequencer) drainFromHead() int {
	n := 0
	for n < int(s.depth) {
		pos := uint32(s.head) % s.depth
		cmd := s.ring[pos]
		if cmd == nil {
			break
		}
		s.pending = append(s.pending, cmd)
		s.ring[pos] = nil
		s.head = s.head.Next(1)
		n++
	}
	return n
}

// ShouldDeferDrain reports whether the accumulated pending queue is deep
// enough (or an async drainer is already running) that the caller should
// hand dispatch off to the async task rather than process inline.
func (s *Sequencer) ShouldDeferDrain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > AsyncDrainThreshold || s.draining
}

// TakePending removes and returns everything currently queued for
// dispatch, in CommandSN order.
func (s *Sequencer) TakePending() []*Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// SetDraining marks whether an async drain task is currently active, so
// concurrent Enter callers know to defer rather than race a second
// drainer.
func (s *Sequencer) SetDraining(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = v
}

// Head returns the next CommandSN the sequencer expects.
func (s *Sequencer) Head() serial.Number {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Depth returns the ring's fixed size.
func (s *Sequencer) Depth() uint32 {
	return s.depth
}
