package slot

import (
	"sync"

	"github.com/nexusdsp/dsp/pkg/dsperr"
	"github.com/nexusdsp/dsp/pkg/serial"
)

// Result classifies the outcome of a target Reserve call.
type Result int

const (
	// ResultNew is a fresh command, never seen before on this slot.
	ResultNew Result = iota
	// ResultRetry is the same logical command arriving again (same
	// ExchangeID as the one currently cached over this slot).
	ResultRetry
)

// TargetSlot is one entry of the target's slot table.
type TargetSlot struct {
	SlotID uint32
	SlotSN serial.Number // last SlotSN accepted from the peer; the next expected is SlotSN+1
	Active *CommandRef   // currently executing
	Cached *CommandRef   // completed, retained for retry response
}

// TargetTable is the target-side slot table: it enforces strict SlotSN
// monotonicity per slot and distinguishes genuine retries from stale or
// misordered traffic.
type TargetTable struct {
	mu sync.Mutex

	slots      []TargetSlot
	currentMax uint32
	target     uint32 // during downsize, target < currentMax

	downsizing  bool
	announced   []bool // bit k set once a response has been sent over slot k while downsizing
}

// NewTargetTable builds a table of n slots, clamped to
// [MinSlots, DefaultMaxSlots].
func NewTargetTable(n uint32) *TargetTable {
	n = clamp(n)
	t := &TargetTable{
		slots:      make([]TargetSlot, n),
		currentMax: n,
		target:     n,
	}
	for i := range t.slots {
		t.slots[i].SlotID = uint32(i)
	}
	return t
}

// Capacity returns the number of slots currently allocated.
func (t *TargetTable) Capacity() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentMax
}

// Reserve validates and installs an incoming command over slotID,
// implementing the normal / false-retry / misordered rules of spec §4.3.
// On success it also returns the command that was evicted from the
// cache, if any, so the caller can submit it for finalization.
func (t *TargetTable) Reserve(slotID uint32, maxSlotIDInUse uint32, commandSlotSN serial.Number, exchangeID uint64) (Result, *CommandRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slotID >= t.currentMax {
		return 0, nil, dsperr.Slot(dsperr.SlotIDInvalid, "slot ID exceeds currentMax")
	}
	if maxSlotIDInUse >= t.currentMax {
		return 0, nil, dsperr.Slot(dsperr.SlotMaxInvalid, "maxSlotIDInUse exceeds currentMax")
	}

	s := &t.slots[slotID]
	expected := s.SlotSN + 1

	switch {
	case commandSlotSN == expected:
		evicted := s.Cached
		if s.Active != nil {
			evicted = s.Active
		}
		s.Cached = nil
		ref := CommandRef{ExchangeID: exchangeID}
		s.Active = &ref
		s.SlotSN = commandSlotSN
		return ResultNew, evicted, nil

	case commandSlotSN == s.SlotSN:
		cachedID := uint64(0)
		hasCached := false
		if s.Cached != nil {
			cachedID, hasCached = s.Cached.ExchangeID, true
		} else if s.Active != nil {
			cachedID, hasCached = s.Active.ExchangeID, true
		}
		if hasCached && cachedID == exchangeID {
			return ResultRetry, nil, nil
		}
		return 0, nil, dsperr.Slot(dsperr.SlotFalseRetry, "slot SN matches but ExchangeID differs")

	default:
		return 0, nil, dsperr.Slot(dsperr.SlotSeqMisordered, "slot SN is neither current nor expected")
	}
}

// Complete moves the slot's active command into the cache, so a
// subsequent retry of the same ExchangeID can be answered without
// re-executing the command.
func (t *TargetTable) Complete(slotID uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slotID >= t.currentMax {
		return dsperr.Slot(dsperr.SlotIDInvalid, "complete of out-of-range slot")
	}
	s := &t.slots[slotID]
	s.Cached = s.Active
	s.Active = nil
	if t.downsizing {
		t.announced[slotID] = true
	}
	return nil
}

// BeginDownsize records the intent to shrink to newTarget and allocates a
// fresh announcement bitmap. Per the open-question resolution, any
// downsize already in progress is discarded: the bitmap always starts
// clean against the newly requested target.
func (t *TargetTable) BeginDownsize(newTarget uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	newTarget = clamp(newTarget)
	if newTarget >= t.currentMax {
		return
	}
	t.target = newTarget
	t.downsizing = true
	t.announced = make([]bool, t.currentMax)
}

// Upsize grows the table immediately; per spec §4.2/§4.3 upsize never
// waits for an announcement round-trip.
func (t *TargetTable) Upsize(newMax uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	newMax = clamp(newMax)
	if newMax <= t.currentMax {
		return
	}
	grown := make([]TargetSlot, newMax)
	copy(grown, t.slots)
	for i := t.currentMax; i < newMax; i++ {
		grown[i].SlotID = i
	}
	t.slots = grown
	t.currentMax = newMax
	t.target = newMax
	t.downsizing = false
	t.announced = nil
}

// ObserveRequest is called when a new request arrives over slotID,
// carrying the peer's reported maxSlotIDInUse. If the downsize is
// complete per spec §4.3 (the peer's maxSlotIDInUse already respects the
// new target, and it has seen a response confirming the new target on
// this slot), the table truncates.
func (t *TargetTable) ObserveRequest(slotID uint32, peerMaxSlotIDInUse uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.downsizing || slotID >= uint32(len(t.announced)) {
		return
	}
	if peerMaxSlotIDInUse < t.target && t.announced[slotID] {
		t.truncate()
	}
}

func (t *TargetTable) truncate() {
	newLen := t.target + 1
	if newLen > t.currentMax {
		return
	}
	t.slots = t.slots[:newLen]
	t.currentMax = newLen
	t.downsizing = false
	t.announced = nil
}

// MaxSlotIDInUse returns the highest currently-reserved slot ID, used to
// stamp the MaxSlotIDInUse field of a response.
func (t *TargetTable) MaxSlotIDInUse() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := t.currentMax; id > 0; id-- {
		s := &t.slots[id-1]
		if s.Active != nil || s.Cached != nil {
			return id - 1
		}
	}
	return 0
}

// Snapshot returns a defensive copy of slot slotID's current state.
func (t *TargetTable) Snapshot(slotID uint32) (TargetSlot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slotID >= t.currentMax {
		return TargetSlot{}, false
	}
	return t.slots[slotID], true
}
