// Package channel implements the initiator and target Channel components
// (spec §4.5, §4.7): the per-direction command plane that assigns
// CommandSN, routes frames across the attached transport set, and
// reconciles responses back to waiting callers.
package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nexusdsp/dsp/pkg/command"
	"github.com/nexusdsp/dsp/pkg/dsperr"
	"github.com/nexusdsp/dsp/pkg/serial"
	"github.com/nexusdsp/dsp/pkg/slot"
	"github.com/nexusdsp/dsp/pkg/wire"
)

// inflight tracks one submitted command awaiting completion.
type inflight struct {
	cmd         *command.Initiator
	slotID      uint32
	slotSN      uint32
	exchangeID  uint64
	transportID string
	done        chan Result
}

// abortWait tracks one outstanding TaskMgmt exchange awaiting its
// TaskMgmtResponse (spec §4.5, "Abort (task-management)").
type abortWait struct {
	targetExchangeID uint64
	done             chan dsperr.TaskMgmtStatus
}

// Result is the outcome delivered to a Submit caller on completion.
type Result struct {
	Payload []byte
	Err     error
}

// Initiator is the initiator-side channel: it owns the slot table,
// assigns CommandSN, and fans sends out across the attached transport
// set via the pluggable Scheduler.
type Initiator struct {
	mu sync.Mutex

	slots     *slot.InitiatorTable
	scheduler Scheduler
	attached  map[string]Transport

	nextExchangeID atomic.Uint64

	commandSN         serial.Number
	expectedCommandSN serial.Number
	currentMaxSlotID  uint32
	targetMaxSlotID   uint32

	byExchange map[uint64]*inflight

	byTaskMgmt map[uint64]*abortWait

	admission chan struct{} // buffered; governs optional bandwidth admission
	slotFree  *sync.Cond
}

// NewInitiator builds an initiator channel with a slot table of the
// given capacity.
func NewInitiator(capacity uint32, sched Scheduler) *Initiator {
	ic := &Initiator{
		slots:      slot.NewInitiatorTable(capacity),
		scheduler:  sched,
		attached:   make(map[string]Transport),
		byExchange: make(map[uint64]*inflight),
		byTaskMgmt: make(map[uint64]*abortWait),
	}
	ic.slotFree = sync.NewCond(&ic.mu)
	return ic
}

// Attach adds t to the set of transports this channel may send over.
func (ic *Initiator) Attach(t Transport) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.attached[t.ID()] = t
	ic.slotFree.Broadcast()
}

// Detach removes a transport, e.g. after it resets.
func (ic *Initiator) Detach(id string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.attached, id)
}

// attachedList returns a snapshot of currently attached transports.
// Caller must hold ic.mu.
func (ic *Initiator) attachedList() []Transport {
	out := make([]Transport, 0, len(ic.attached))
	for _, t := range ic.attached {
		out = append(out, t)
	}
	return out
}

// Submit reserves a slot (blocking if the pool is exhausted), assigns a
// CommandSN, and sends the command over a scheduler-chosen transport
// (spec §4.5).
func (ic *Initiator) Submit(ctx context.Context, payload []byte) (*Result, error) {
	cmd := command.NewInitiator()

	ic.mu.Lock()
	var s *slot.InitiatorSlot
	exchangeID := ic.nextExchangeID.Add(1)
	for {
		var err error
		s, err = ic.slots.Reserve(slot.CommandRef{ExchangeID: exchangeID})
		if err == nil {
			break
		}
		// No free slot: block (the "pending" sub-state) until one is
		// released or the context is cancelled.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				ic.mu.Lock()
				ic.slotFree.Broadcast()
				ic.mu.Unlock()
			case <-done:
			}
		}()
		ic.slotFree.Wait()
		close(done)
		if ctx.Err() != nil {
			ic.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	commandSN := ic.commandSN
	ic.commandSN = ic.commandSN.Next(1)

	cmd.Submit(s.SlotID, uint32(commandSN))

	t, ok := ic.scheduler.Next(ic.attachedList())
	if !ok {
		ic.mu.Unlock()
		return nil, fmt.Errorf("channel: no transport attached")
	}

	fl := &inflight{
		cmd:         cmd,
		slotID:      s.SlotID,
		slotSN:      uint32(s.SlotSN),
		exchangeID:  exchangeID,
		transportID: t.ID(),
		done:        make(chan Result, 1),
	}
	ic.byExchange[exchangeID] = fl
	ic.mu.Unlock()

	frame := wire.Frame{
		Exchange: wire.ExchangeHeader{
			ExchangeID:        exchangeID,
			CommandSN:         uint32(commandSN),
			ExpectedCommandSN: uint32(ic.ExpectedCommandSN()),
		},
		Body: &wire.CommandRequest{
			SlotID:         s.SlotID,
			SlotSN:         uint32(s.SlotSN),
			MaxSlotIDInUse: ic.slots.HighestInUse(),
			Payload:        payload,
		},
	}
	if err := t.Send(frame); err != nil {
		// Transport reset before the command even left: treat as needing
		// a retry rather than failing the submit outright.
		return ic.retry(fl, payload)
	}

	res := <-fl.done
	return &res, res.Err
}

// retry re-sends fl over any other attached transport, carrying the same
// ExchangeID and SlotSN so the target recognizes it as the same logical
// command (spec §4.5, "Retry").
func (ic *Initiator) retry(fl *inflight, payload []byte) (*Result, error) {
	ic.mu.Lock()
	t, ok := ic.scheduler.Next(ic.attachedList())
	ic.mu.Unlock()
	if !ok {
		return nil, dsperr.TransportReset(fmt.Errorf("channel: no transport available for retry"))
	}
	fl.transportID = t.ID()
	expected := uint32(ic.ExpectedCommandSN())
	maxSlotInUse := ic.slots.HighestInUse()
	frame := wire.Frame{
		Exchange: wire.ExchangeHeader{
			ExchangeID:        fl.exchangeID,
			CommandSN:         fl.cmd.CommandSN,
			ExpectedCommandSN: expected,
		},
		Body: &wire.CommandRequest{
			SlotID:         fl.slotID,
			SlotSN:         fl.slotSN,
			MaxSlotIDInUse: maxSlotInUse,
			Payload:        payload,
		},
	}
	if err := t.Send(frame); err != nil {
		return nil, dsperr.TransportReset(err)
	}
	res := <-fl.done
	return &res, res.Err
}

// Receive processes a CommandResponse, refreshing the channel's flow
// control view and completing the matching inflight command.
func (ic *Initiator) Receive(f wire.Frame) error {
	resp, ok := f.Body.(*wire.CommandResponse)
	if !ok {
		return dsperr.Protocol("initiator channel: unexpected frame kind %s", f.Body.Kind())
	}

	ic.mu.Lock()
	ic.expectedCommandSN = serial.Number(f.Exchange.ExpectedCommandSN)
	ic.currentMaxSlotID = resp.CurrentMaxSlotID
	ic.targetMaxSlotID = resp.TargetMaxSlotID
	if resp.TargetMaxSlotID != 0 && resp.TargetMaxSlotID < resp.CurrentMaxSlotID {
		ic.slots.Resize(resp.TargetMaxSlotID)
	} else {
		ic.slots.Resize(resp.CurrentMaxSlotID)
	}

	fl, ok := ic.byExchange[f.Exchange.ExchangeID]
	if !ok {
		ic.mu.Unlock()
		return dsperr.Protocol("initiator channel: response for unknown exchange %d", f.Exchange.ExchangeID)
	}
	delete(ic.byExchange, f.Exchange.ExchangeID)
	ic.mu.Unlock()

	var result Result
	if resp.Status == wire.StatusOK {
		fl.cmd.Complete(false)
		_ = ic.slots.Confirm(fl.slotID)
		result = Result{Payload: resp.Payload}
	} else if resp.Status == uint16(dsperr.CodeServiceException) {
		// The target executed the command and advanced its slot; only the
		// application failed, so the SlotSN is confirmed, not rolled back.
		fl.cmd.Complete(false)
		_ = ic.slots.Confirm(fl.slotID)
		result = Result{Err: dsperr.Service(fmt.Errorf("%s", resp.Message))}
	} else {
		fl.cmd.Complete(false)
		_ = ic.slots.Rollback(fl.slotID)
		result = Result{Err: dsperr.New(dsperr.CodeSlotFailure, resp.Message)}
	}
	_ = ic.slots.Release(fl.slotID)

	ic.mu.Lock()
	ic.slotFree.Broadcast()
	ic.mu.Unlock()

	fl.done <- result
	return nil
}

// ExpectedCommandSN returns the channel's current view of the peer's
// next-expected CommandSN.
func (ic *Initiator) ExpectedCommandSN() serial.Number {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.expectedCommandSN
}

// CurrentMaxSlotID returns the channel's last-known view of the target's
// currentMax slot table size.
func (ic *Initiator) CurrentMaxSlotID() uint32 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.currentMaxSlotID
}

// TargetMaxSlotID returns the channel's last-known view of the target's
// downsize target, if any.
func (ic *Initiator) TargetMaxSlotID() uint32 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.targetMaxSlotID
}

// SlotsInUse returns the number of slots currently reserved.
func (ic *Initiator) SlotsInUse() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.slots.InUseCount()
}

// SlotsCapacity returns the initiator slot table's current size.
func (ic *Initiator) SlotsCapacity() uint32 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.slots.Capacity()
}

// AttachedCount returns the number of transports currently attached.
func (ic *Initiator) AttachedCount() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return len(ic.attached)
}

// PendingExchangeID reports the exchange ID that will be assigned to the
// next Submit call. Lets a caller that intends to Abort a command it is
// about to submit learn the ID up front, since Submit itself blocks until
// the command completes and never hands the ID back early.
func (ic *Initiator) PendingExchangeID() uint64 {
	return ic.nextExchangeID.Load() + 1
}

// Abort requests cancellation of exchangeID (spec §4.5, "Abort"). If the
// command never became wire-visible, it completes locally with no wire
// traffic. Otherwise it issues a TaskMgmt exchange carrying the command's
// (exchangeID, CommandSN, slotID, SlotSN) over any attached transport and
// blocks for the TaskMgmtResponse, translating the returned
// TaskMgmtStatus into the user-visible result.
func (ic *Initiator) Abort(exchangeID uint64) error {
	ic.mu.Lock()
	fl, ok := ic.byExchange[exchangeID]
	ic.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel: abort of unknown exchange %d", exchangeID)
	}

	if !fl.cmd.WireVisible {
		fl.cmd.Abort()
		return nil
	}

	ic.mu.Lock()
	taskMgmtExchangeID := ic.nextExchangeID.Add(1)
	wait := &abortWait{targetExchangeID: exchangeID, done: make(chan dsperr.TaskMgmtStatus, 1)}
	ic.byTaskMgmt[taskMgmtExchangeID] = wait
	t, ok := ic.scheduler.Next(ic.attachedList())
	ic.mu.Unlock()
	if !ok {
		ic.mu.Lock()
		delete(ic.byTaskMgmt, taskMgmtExchangeID)
		ic.mu.Unlock()
		return dsperr.TransportReset(fmt.Errorf("channel: no transport available for abort"))
	}

	frame := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: taskMgmtExchangeID, CommandSN: fl.cmd.CommandSN},
		Body: &wire.TaskMgmtRequest{
			TargetExchangeID: exchangeID,
			TargetCommandSN:  fl.cmd.CommandSN,
			TargetSlotID:     fl.slotID,
			TargetSlotSN:     fl.slotSN,
		},
	}
	if err := t.Send(frame); err != nil {
		ic.mu.Lock()
		delete(ic.byTaskMgmt, taskMgmtExchangeID)
		ic.mu.Unlock()
		return dsperr.TransportReset(err)
	}

	status := <-wait.done

	if status == dsperr.AbortedAfterStart {
		// The target command had already started executing and cannot be
		// preempted (spec §4.6: Active runs to its own InDoubt completion
		// rather than taking the Abort edge); its own CommandResponse will
		// still arrive and resolve the command through the normal path.
		return nil
	}

	ic.mu.Lock()
	_, stillPending := ic.byExchange[exchangeID]
	ic.mu.Unlock()
	if !stillPending {
		// The command's own CommandResponse already arrived and completed
		// it (AlreadyCompleted raced the abort); nothing left to finalize.
		return nil
	}

	fl.cmd.Abort()
	fl.cmd.Complete(true)
	_ = ic.slots.Rollback(fl.slotID)
	_ = ic.slots.Release(fl.slotID)
	ic.mu.Lock()
	delete(ic.byExchange, exchangeID)
	ic.slotFree.Broadcast()
	ic.mu.Unlock()

	fl.done <- Result{Err: dsperr.TaskMgmt(status)}
	return nil
}

// ReceiveTaskMgmt processes a TaskMgmtResponse frame, delivering its
// status to the Abort call awaiting it.
func (ic *Initiator) ReceiveTaskMgmt(f wire.Frame) error {
	resp, ok := f.Body.(*wire.TaskMgmtResponse)
	if !ok {
		return dsperr.Protocol("initiator channel: unexpected frame kind %s", f.Body.Kind())
	}

	ic.mu.Lock()
	ic.expectedCommandSN = serial.Number(f.Exchange.ExpectedCommandSN)
	wait, ok := ic.byTaskMgmt[f.Exchange.ExchangeID]
	delete(ic.byTaskMgmt, f.Exchange.ExchangeID)
	ic.mu.Unlock()
	if !ok {
		return dsperr.Protocol("initiator channel: taskmgmt response for unknown exchange %d", f.Exchange.ExchangeID)
	}

	wait.done <- dsperr.TaskMgmtStatus(resp.Status)
	return nil
}
