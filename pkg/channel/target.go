package channel

import (
	"context"
	"sync"

	"github.com/nexusdsp/dsp/pkg/command"
	"github.com/nexusdsp/dsp/pkg/dsperr"
	"github.com/nexusdsp/dsp/pkg/sequencer"
	"github.com/nexusdsp/dsp/pkg/serial"
	"github.com/nexusdsp/dsp/pkg/slot"
	"github.com/nexusdsp/dsp/pkg/wire"
)

// Dispatcher executes one command's payload and returns the application
// reply. It is supplied by whatever owns the session (spec treats this as
// opaque upper-layer logic).
type Dispatcher func(ctx context.Context, payload []byte) ([]byte, error)

// Responder delivers a frame back out over a specific transport. The
// target channel never holds a Transport directly; it routes completed
// responses through whatever owns the attached set.
type Responder interface {
	SendOn(transportID string, f wire.Frame) error
}

// Target is the target-side channel: it owns the slot table and
// sequencer, dispatches incoming CommandRequest/TaskMgmtRequest/
// PingRequest/LogoutRequest frames (spec §4.7), and drives four
// independent async task queues so a slow application dispatch never
// blocks retry or abort handling.
type Target struct {
	mu sync.Mutex

	slots *slot.TargetTable
	seq   *sequencer.Sequencer

	expectedCommandSN serial.Number

	byExchange map[uint64]*command.Target
	bySlot     map[uint32]*command.Target

	cachedResponse map[uint64]wire.CommandResponse

	attached map[string]struct{}

	dispatcher Dispatcher
	responder  Responder

	restartQueue *taskQueue // sequencer-released commands awaiting dispatch
	retryQueue   *taskQueue // cached-response resends
	abortQueue   *taskQueue // TaskMgmt responses
	errorQueue   *taskQueue // synthesized slot/protocol failure responses

	loggedOut bool

	// OnPing, if set, is called whenever a PingRequest arrives, so the
	// sibling (fore/back) channel can refresh its peer-liveness view.
	OnPing func()
}

// NewTarget builds a target channel with a slot table of the given
// capacity and a sequencer ring sized to match.
func NewTarget(capacity, seqDepth uint32, head serial.Number, dispatcher Dispatcher, responder Responder) *Target {
	return &Target{
		slots:             slot.NewTargetTable(capacity),
		seq:               sequencer.New(seqDepth, head),
		expectedCommandSN: head,
		byExchange:        make(map[uint64]*command.Target),
		bySlot:            make(map[uint32]*command.Target),
		cachedResponse:    make(map[uint64]wire.CommandResponse),
		attached:          make(map[string]struct{}),
		dispatcher:        dispatcher,
		responder:         responder,
		restartQueue:      newTaskQueue(),
		retryQueue:        newTaskQueue(),
		abortQueue:        newTaskQueue(),
		errorQueue:        newTaskQueue(),
	}
}

// Attach records a newly-logged-in transport and, on the first one,
// resumes the async queues (spec §4.7: queues are gated on connectivity).
func (tc *Target) Attach(id string) {
	tc.mu.Lock()
	first := len(tc.attached) == 0
	tc.attached[id] = struct{}{}
	tc.mu.Unlock()
	if first {
		tc.resumeQueues()
	}
}

// Detach removes a transport and, if it was the last one, pauses the
// async queues until a new transport attaches.
func (tc *Target) Detach(id string) {
	tc.mu.Lock()
	delete(tc.attached, id)
	empty := len(tc.attached) == 0
	tc.mu.Unlock()
	if empty {
		tc.pauseQueues()
	}
}

func (tc *Target) resumeQueues() {
	tc.restartQueue.Resume()
	tc.retryQueue.Resume()
	tc.abortQueue.Resume()
	tc.errorQueue.Resume()
}

func (tc *Target) pauseQueues() {
	tc.restartQueue.Pause()
	tc.retryQueue.Pause()
	tc.abortQueue.Pause()
	tc.errorQueue.Pause()
}

// maximumCommandSN is expectedCommandSN + Capacity() - 1: the highest
// CommandSN the target is currently willing to accept. It counts every
// slot of the table, including slots still held by executing commands;
// occupied slots are not subtracted. Caller must hold tc.mu.
func (tc *Target) maximumCommandSN() serial.Number {
	avail := tc.slots.Capacity()
	if avail == 0 {
		return tc.expectedCommandSN
	}
	return tc.expectedCommandSN.Next(avail - 1)
}

// HandleFrame dispatches an incoming frame by kind, per spec §4.7.
func (tc *Target) HandleFrame(f wire.Frame, transportID string) error {
	switch body := f.Body.(type) {
	case *wire.CommandRequest:
		return tc.handleCommandRequest(f, body, transportID)
	case *wire.TaskMgmtRequest:
		return tc.handleTaskMgmt(f, body, transportID)
	case *wire.PingRequest:
		return tc.handlePing(f, transportID)
	case *wire.LogoutRequest:
		return tc.handleLogout(f, transportID)
	default:
		return dsperr.Protocol("target channel: unexpected frame kind %s", f.Body.Kind())
	}
}

func (tc *Target) handleCommandRequest(f wire.Frame, req *wire.CommandRequest, transportID string) error {
	cmdSN := serial.Number(f.Exchange.CommandSN)
	exchangeID := f.Exchange.ExchangeID

	tc.mu.Lock()
	tc.slots.ObserveRequest(req.SlotID, req.MaxSlotIDInUse)

	if serial.After(cmdSN, tc.maximumCommandSN()) {
		tc.mu.Unlock()
		return dsperr.Protocol("target channel: commandSN %d exceeds maximumCommandSN", cmdSN)
	}

	if existing, ok := tc.byExchange[exchangeID]; ok {
		// A live instance of this logical command is already tracked: this
		// is a retry. If the primary already completed (InDoubt), answer
		// from cache right away. Otherwise the primary is still Pending,
		// Active or itself mid-retry: queue this instance's transport so
		// executeOne fans the response out to it too once the primary
		// finishes (spec §4.6's "transport allegiance" note: every live
		// instance of a command gets a response on the transport that
		// carried it).
		switch existing.State {
		case command.TInDoubt:
			existing.RetryArrived()
		case command.TPending, command.TActive, command.TRetry:
			existing.RetryQueue = append(existing.RetryQueue, transportID)
		}
		resp, hasResp := tc.cachedResponse[exchangeID]
		tc.mu.Unlock()
		if hasResp {
			tc.retryQueue.Submit(func() {
				tc.sendResponse(transportID, f.Exchange, resp)
				tc.mu.Lock()
				if existing.State == command.TRetry {
					existing.RetryDrained()
				}
				tc.mu.Unlock()
			})
		}
		return nil
	}

	if serial.Before(cmdSN, tc.expectedCommandSN) {
		tc.mu.Unlock()
		return nil // stale retransmission of an already-evicted command: drop
	}

	result, evicted, err := tc.slots.Reserve(req.SlotID, req.MaxSlotIDInUse, serial.Number(req.SlotSN), exchangeID)
	if err != nil {
		tc.mu.Unlock()
		de, _ := dsperr.AsDSPError(err)
		tc.errorQueue.Submit(func() {
			tc.sendResponse(transportID, f.Exchange, wire.CommandResponse{
				SlotID: req.SlotID, SlotSN: req.SlotSN,
				Status: uint16(de.Code.(dsperr.SlotStatus)), Message: err.Error(),
			})
		})
		return nil
	}
	if evicted != nil {
		if old, ok := tc.byExchange[evicted.ExchangeID]; ok {
			old.Evicted()
			delete(tc.byExchange, evicted.ExchangeID)
			delete(tc.cachedResponse, evicted.ExchangeID)
		}
	}
	_ = result

	tgt := command.NewTarget(req.SlotID, req.SlotSN, uint32(cmdSN), transportID)
	tgt.EnterSequencer()
	tc.byExchange[exchangeID] = tgt
	tc.bySlot[req.SlotID] = tgt

	drained, _ := tc.seq.Enter(&sequencer.Command{CommandSN: cmdSN, Ref: exchangeRef{exchangeID: exchangeID, frame: f, transportID: transportID}})
	if drained > 0 {
		tc.expectedCommandSN = tc.expectedCommandSN.Next(uint32(drained))
	}
	defer_ := tc.seq.ShouldDeferDrain()
	tc.mu.Unlock()

	if drained == 0 {
		return nil
	}
	if defer_ {
		tc.seq.SetDraining(true)
		tc.restartQueue.Submit(tc.drainPending)
	} else {
		tc.drainPending()
	}
	return nil
}

// exchangeRef is what rides the sequencer ring: enough to re-find the
// command and its originating frame once it is released for dispatch.
type exchangeRef struct {
	exchangeID  uint64
	frame       wire.Frame
	transportID string
}

func (tc *Target) drainPending() {
	for _, c := range tc.seq.TakePending() {
		ref := c.Ref.(exchangeRef)
		tc.executeOne(ref)
	}
	tc.seq.SetDraining(false)
}

func (tc *Target) executeOne(ref exchangeRef) {
	tc.mu.Lock()
	tgt, ok := tc.byExchange[ref.exchangeID]
	if !ok || tgt.State != command.TPending {
		tc.mu.Unlock()
		return
	}
	tgt.Dispatch()
	tc.mu.Unlock()

	req := ref.frame.Body.(*wire.CommandRequest)
	payload, appErr := tc.dispatcher(context.Background(), req.Payload)

	resp := wire.CommandResponse{SlotID: req.SlotID, SlotSN: req.SlotSN}
	if appErr != nil {
		resp.Status = uint16(dsperr.CodeServiceException)
		resp.Message = appErr.Error()
	} else {
		resp.Status = wire.StatusOK
		resp.Payload = payload
	}

	tc.mu.Lock()
	_ = tc.slots.Complete(req.SlotID)
	tc.cachedResponse[ref.exchangeID] = resp
	retryTransports := tgt.RetryQueue
	tgt.RetryQueue = nil
	pendingAborts := tgt.PendingAbortResponses
	tgt.PendingAbortResponses = nil
	if tgt.State == command.TActive {
		tgt.Completed()
	}
	tc.mu.Unlock()

	// The primary's own transport gets the response, and so does every
	// retry instance that arrived on a different transport while this
	// command was still executing: each is a live instance owed a reply
	// on the transport that carried it.
	tc.sendResponse(ref.transportID, ref.frame.Exchange, resp)
	for _, transportID := range retryTransports {
		tc.sendResponse(transportID, ref.frame.Exchange, resp)
	}

	// Only now, after the command's own response is on its way out, can
	// any TaskMgmt response queued while it was Active follow it.
	for _, cb := range pendingAborts {
		tc.abortQueue.Submit(cb)
	}
}

func (tc *Target) handleTaskMgmt(f wire.Frame, req *wire.TaskMgmtRequest, transportID string) error {
	targetCommandSN := serial.Number(req.TargetCommandSN)

	tc.mu.Lock()
	if serial.After(targetCommandSN, tc.maximumCommandSN()) {
		tc.mu.Unlock()
		return dsperr.Protocol("target channel: taskmgmt targetCommandSN %d exceeds maximumCommandSN", targetCommandSN)
	}

	if tgt, ok := tc.byExchange[req.TargetExchangeID]; ok {
		if tgt.State == command.TActive {
			// Already executing and cannot be preempted: it runs to its
			// own completion (Active -> InDoubt) instead of taking the
			// Abort edge. executeOne fires this once the command's own
			// response has gone out, so the TaskMgmt acknowledgement
			// never races ahead of it (spec §5 ordering).
			status := statusForAbort(tgt.State)
			tgt.PendingAbortResponses = append(tgt.PendingAbortResponses, func() {
				tc.sendTaskMgmtResponse(transportID, f.Exchange, status)
			})
			tc.mu.Unlock()
			return nil
		}
		tc.mu.Unlock()
		tc.abortQueue.Submit(func() {
			tc.mu.Lock()
			status := statusForAbort(tgt.State)
			switch tgt.State {
			case command.TPending, command.TInDoubt, command.TRetry:
				tgt.TaskMgmtArrived()
				tgt.TaskMgmtResponseSent(int(status))
			case command.TAborted:
				tgt.TaskMgmtRetry()
				tgt.TaskMgmtResponseSent(int(status))
			}
			tc.mu.Unlock()
			tc.sendTaskMgmtResponse(transportID, f.Exchange, status)
		})
		return nil
	}

	if serial.Before(targetCommandSN, tc.expectedCommandSN) {
		tc.mu.Unlock()
		tc.errorQueue.Submit(func() {
			tc.sendTaskMgmtResponse(transportID, f.Exchange, dsperr.AbortedSlotFailure)
		})
		return nil
	}
	tc.mu.Unlock()

	ghost := command.NewGhost(req.TargetSlotID, req.TargetSlotSN, req.TargetCommandSN)
	tc.mu.Lock()
	tc.byExchange[req.TargetExchangeID] = ghost
	tc.mu.Unlock()
	ghost.EnterSequencer()

	tc.abortQueue.Submit(func() {
		ghost.TaskMgmtArrived()
		ghost.TaskMgmtResponseSent(int(dsperr.AbortedBeforeStart))
		tc.sendTaskMgmtResponse(transportID, f.Exchange, dsperr.AbortedBeforeStart)
	})
	return nil
}

func statusForAbort(s command.TargetState) dsperr.TaskMgmtStatus {
	switch s {
	case command.TPending:
		return dsperr.AbortedBeforeStart
	case command.TActive:
		return dsperr.AbortedAfterStart
	case command.TInDoubt, command.TFinal:
		return dsperr.AlreadyCompleted
	default:
		return dsperr.AbortedBeforeStart
	}
}

func (tc *Target) handlePing(f wire.Frame, transportID string) error {
	if tc.OnPing != nil {
		tc.OnPing()
	}
	tc.sendBody(transportID, f.Exchange, &wire.PingResponse{})
	return nil
}

func (tc *Target) handleLogout(f wire.Frame, transportID string) error {
	tc.mu.Lock()
	tc.loggedOut = true
	tc.mu.Unlock()
	tc.sendBody(transportID, f.Exchange, &wire.LogoutResponse{})
	return nil
}

// sendResponse stamps the current flow-control fields onto resp and
// routes it back over transportID via the responder.
func (tc *Target) sendResponse(transportID string, exchange wire.ExchangeHeader, resp wire.CommandResponse) {
	tc.mu.Lock()
	resp.CurrentMaxSlotID = tc.slots.Capacity() - 1
	resp.TargetMaxSlotID = tc.slots.MaxSlotIDInUse()
	exchange.ExpectedCommandSN = uint32(tc.expectedCommandSN)
	tc.mu.Unlock()

	out := resp
	tc.sendBody(transportID, exchange, &out)
}

// sendTaskMgmtResponse stamps ExpectedCommandSN and sends a TaskMgmtResponse
// frame, the dedicated frame kind for abort outcomes (spec §6, §4.7) kept
// distinct from CommandResponse so the initiator can tell an abort
// acknowledgement apart from the original command's own completion.
func (tc *Target) sendTaskMgmtResponse(transportID string, exchange wire.ExchangeHeader, status dsperr.TaskMgmtStatus) {
	tc.mu.Lock()
	exchange.ExpectedCommandSN = uint32(tc.expectedCommandSN)
	tc.mu.Unlock()
	tc.sendBody(transportID, exchange, &wire.TaskMgmtResponse{Status: uint16(status)})
}

func (tc *Target) sendBody(transportID string, exchange wire.ExchangeHeader, body wire.Body) {
	if tc.responder == nil {
		return
	}
	_ = tc.responder.SendOn(transportID, wire.Frame{Exchange: exchange, Body: body})
}

// SlotsInUse returns the number of slots currently in use.
func (tc *Target) SlotsInUse() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.bySlot)
}

// SlotsCapacity returns the target slot table's current size.
func (tc *Target) SlotsCapacity() uint32 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.slots.Capacity()
}

// AttachedCount returns the number of transports currently attached.
func (tc *Target) AttachedCount() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.attached)
}

// ExpectedCommandSN returns the channel's current view of the next
// CommandSN it expects from the peer.
func (tc *Target) ExpectedCommandSN() serial.Number {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.expectedCommandSN
}

// LoggedOut reports whether a LogoutRequest has been processed.
func (tc *Target) LoggedOut() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.loggedOut
}
