// Package slot implements the initiator and target slot tables (spec
// §4.2, §4.3): the bounded pool of sequencing slots that turns an
// unbounded stream of commands into the NFSv4.1-style exactly-once
// request/reply machinery DSP borrows its shape from.
package slot

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/nexusdsp/dsp/pkg/serial"
)

// MinSlots and DefaultMaxSlots bound every slot table, initiator and
// target alike: a table always has at least one slot, and never grows
// past the configured ceiling regardless of what a peer requests.
const (
	MinSlots        = 1
	DefaultMaxSlots = 4096
)

// CommandRef identifies the command currently occupying a slot, by the
// stable IDs the rest of the package resolves through a registry rather
// than holding a direct reference (spec §9, cyclic-reference note).
type CommandRef struct {
	ExchangeID uint64
}

// InitiatorSlot is one entry of the initiator's slot table.
type InitiatorSlot struct {
	SlotID          uint32
	SlotSN          serial.Number
	LastConfirmedSN serial.Number
	Command         *CommandRef
}

// Confirmed reports whether the slot's last submission has been
// acknowledged by the peer.
func (s *InitiatorSlot) Confirmed() bool { return s.SlotSN == s.LastConfirmedSN }

// InitiatorTable is the initiator-side slot table: it hands out slots to
// commands being submitted and releases them once the peer confirms.
type InitiatorTable struct {
	mu        sync.Mutex
	slots     []InitiatorSlot
	reserved  []uint64 // bitmap, 64 slots per word
	currentMax uint32  // len(slots)
	target     uint32  // desired size during controlled resize
}

// NewInitiatorTable builds a table of n slots, clamped to
// [MinSlots, DefaultMaxSlots].
func NewInitiatorTable(n uint32) *InitiatorTable {
	n = clamp(n)
	t := &InitiatorTable{
		slots:    make([]InitiatorSlot, n),
		reserved: make([]uint64, (n+63)/64),
	}
	for i := range t.slots {
		t.slots[i].SlotID = uint32(i)
	}
	t.currentMax = n
	t.target = n
	return t
}

func clamp(n uint32) uint32 {
	if n < MinSlots {
		return MinSlots
	}
	if n > DefaultMaxSlots {
		return DefaultMaxSlots
	}
	return n
}

// Capacity returns the number of slots currently allocated.
func (t *InitiatorTable) Capacity() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentMax
}

// Reserve finds the least-significant clear bit at or below target,
// advances that slot's SlotSN, and attaches cmd to it. Returns an error
// if no free slot within target is available.
func (t *InitiatorTable) Reserve(cmd CommandRef) (*InitiatorSlot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.firstClearBit()
	if !ok {
		return nil, fmt.Errorf("slot: no free slot at or below target %d", t.target)
	}
	t.setBit(id)

	s := &t.slots[id]
	s.SlotSN = s.LastConfirmedSN + 1
	ref := cmd
	s.Command = &ref
	return s, nil
}

// firstClearBit returns the lowest slot ID <= target whose bit is clear.
func (t *InitiatorTable) firstClearBit() (uint32, bool) {
	for id := uint32(0); id <= t.target && id < t.currentMax; id++ {
		word, off := id/64, id%64
		if t.reserved[word]&(1<<off) == 0 {
			return id, true
		}
	}
	return 0, false
}

func (t *InitiatorTable) setBit(id uint32)   { t.reserved[id/64] |= 1 << (id % 64) }
func (t *InitiatorTable) clearBit(id uint32) { t.reserved[id/64] &^= 1 << (id % 64) }
func (t *InitiatorTable) bitSet(id uint32) bool {
	return t.reserved[id/64]&(1<<(id%64)) != 0
}

// Release returns a confirmed slot to the free pool and attempts a lazy
// shrink if the released ID is above target.
func (t *InitiatorTable) Release(slotID uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slotID >= t.currentMax {
		return fmt.Errorf("slot: release of out-of-range slot %d", slotID)
	}
	s := &t.slots[slotID]
	if !s.Confirmed() {
		return fmt.Errorf("slot: release of unconfirmed slot %d (slotSN=%d, lastConfirmedSN=%d)", slotID, s.SlotSN, s.LastConfirmedSN)
	}
	t.clearBit(slotID)
	s.Command = nil

	if slotID > t.target {
		t.shrink()
	}
	return nil
}

// shrink truncates the table to target+1 slots, but only if no bit above
// target remains set.
func (t *InitiatorTable) shrink() {
	for id := t.target + 1; id < t.currentMax; id++ {
		if t.bitSet(id) {
			return
		}
	}
	newLen := t.target + 1
	if newLen >= t.currentMax {
		return
	}
	t.slots = t.slots[:newLen]
	t.reserved = t.reserved[:(newLen+63)/64]
	t.currentMax = newLen
}

// Resize applies a resize the peer communicated via CurrentMax/Target in
// a response. Growth is immediate. A shrink sets the new target and
// truncates at once if no slot above it is reserved; otherwise the
// truncation waits for a later Release above the target.
func (t *InitiatorTable) Resize(newTarget uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newTarget = clamp(newTarget)
	if newTarget+1 > t.currentMax {
		grown := make([]InitiatorSlot, newTarget+1)
		copy(grown, t.slots)
		for i := t.currentMax; i < newTarget+1; i++ {
			grown[i].SlotID = i
		}
		t.slots = grown
		words := (newTarget + 1 + 63) / 64
		grownBits := make([]uint64, words)
		copy(grownBits, t.reserved)
		t.reserved = grownBits
		t.currentMax = newTarget + 1
		t.target = newTarget
		return
	}
	t.target = newTarget
	t.shrink()
}

// Confirm marks the slot's in-flight SlotSN as acknowledged by the peer.
func (t *InitiatorTable) Confirm(slotID uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slotID >= t.currentMax {
		return fmt.Errorf("slot: confirm of out-of-range slot %d", slotID)
	}
	t.slots[slotID].LastConfirmedSN = t.slots[slotID].SlotSN
	return nil
}

// Rollback reverses an advance on slot failure, so that once the slot is
// released the next submission over it reuses the same SlotSN (spec §4.5,
// Completion). It does not release the slot itself.
func (t *InitiatorTable) Rollback(slotID uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slotID >= t.currentMax {
		return fmt.Errorf("slot: rollback of out-of-range slot %d", slotID)
	}
	s := &t.slots[slotID]
	s.SlotSN = s.LastConfirmedSN
	return nil
}

// Snapshot returns a defensive copy of slot slotID's current state.
func (t *InitiatorTable) Snapshot(slotID uint32) (InitiatorSlot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slotID >= t.currentMax {
		return InitiatorSlot{}, fmt.Errorf("slot: out-of-range slot %d", slotID)
	}
	return t.slots[slotID], nil
}

// InUseCount returns the number of reserved slots, used by stats
// reporting.
func (t *InitiatorTable) InUseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.reserved {
		n += bits.OnesCount64(w)
	}
	return n
}

// HighestInUse returns the highest reserved slot ID, stamped on outgoing
// CommandRequests as MaxSlotIDInUse so the target can drive its downsize
// protocol (spec §4.3).
func (t *InitiatorTable) HighestInUse() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := t.currentMax; id > 0; id-- {
		if t.bitSet(id - 1) {
			return id - 1
		}
	}
	return 0
}
