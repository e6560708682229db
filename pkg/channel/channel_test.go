package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdsp/dsp/pkg/dsperr"
	"github.com/nexusdsp/dsp/pkg/wire"
)

// spyResponder records every frame handed back for delivery, optionally
// relaying it straight into an Initiator for an end-to-end round trip.
type spyResponder struct {
	mu   sync.Mutex
	sent []wire.Frame

	relay *Initiator
}

func (r *spyResponder) SendOn(transportID string, f wire.Frame) error {
	r.mu.Lock()
	r.sent = append(r.sent, f)
	r.mu.Unlock()
	if r.relay == nil {
		return nil
	}
	switch f.Body.(type) {
	case *wire.TaskMgmtResponse:
		return r.relay.ReceiveTaskMgmt(f)
	default:
		return r.relay.Receive(f)
	}
}

func (r *spyResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *spyResponder) last() wire.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

// loopbackTransport feeds whatever the initiator sends directly into a
// target channel's dispatcher, synchronously, as if over an in-process
// pipe.
type loopbackTransport struct {
	id     string
	target *Target
}

func (t *loopbackTransport) ID() string      { return t.id }
func (t *loopbackTransport) QueueDepth() int { return 0 }
func (t *loopbackTransport) Send(f wire.Frame) error {
	return t.target.HandleFrame(f, t.id)
}

func echoDispatcher(calls *atomic.Int32) Dispatcher {
	return func(_ context.Context, payload []byte) ([]byte, error) {
		calls.Add(1)
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
}

func TestChannel_SingleCommandRoundTrip(t *testing.T) {
	ic := NewInitiator(4, &RoundRobin{})
	responder := &spyResponder{relay: ic}
	var calls atomic.Int32
	tc := NewTarget(4, 4, 0, echoDispatcher(&calls), responder)

	tr := &loopbackTransport{id: "t1", target: tc}
	ic.Attach(tr)
	tc.Attach("t1")

	res, err := ic.Submit(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), res.Payload)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChannel_SequentialCommandsAdvanceCommandSN(t *testing.T) {
	ic := NewInitiator(4, &RoundRobin{})
	responder := &spyResponder{relay: ic}
	var calls atomic.Int32
	tc := NewTarget(4, 4, 0, echoDispatcher(&calls), responder)

	tr := &loopbackTransport{id: "t1", target: tc}
	ic.Attach(tr)
	tc.Attach("t1")

	for i := 0; i < 3; i++ {
		res, err := ic.Submit(context.Background(), []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, res.Payload)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint32(3), uint32(tc.ExpectedCommandSN()))
}

func TestTargetChannel_GenuineRetryUsesCachedResponseWithoutRedispatch(t *testing.T) {
	responder := &spyResponder{}
	var calls atomic.Int32
	tc := NewTarget(4, 4, 0, echoDispatcher(&calls), responder)
	tc.Attach("t1")

	frame := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 42, CommandSN: 0},
		Body:     &wire.CommandRequest{SlotID: 0, SlotSN: 1, Payload: []byte("x")},
	}

	require.NoError(t, tc.HandleFrame(frame, "t1"))
	require.Eventually(t, func() bool { return responder.count() >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	// Same ExchangeID over the same slot/slotSN: a genuine retry, answered
	// from cache rather than re-executed.
	require.NoError(t, tc.HandleFrame(frame, "t1"))
	require.Eventually(t, func() bool { return responder.count() >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "retry must not redispatch to the application")

	first := responder.sent[0].Body.(*wire.CommandResponse)
	second := responder.last().Body.(*wire.CommandResponse)
	assert.Equal(t, first.Payload, second.Payload)
}

func TestTargetChannel_StaleCommandRequestDroppedSilently(t *testing.T) {
	responder := &spyResponder{}
	var calls atomic.Int32
	tc := NewTarget(4, 4, 0, echoDispatcher(&calls), responder)
	tc.Attach("t1")

	first := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 1, CommandSN: 0},
		Body:     &wire.CommandRequest{SlotID: 0, SlotSN: 1, Payload: []byte("a")},
	}
	require.NoError(t, tc.HandleFrame(first, "t1"))
	require.Eventually(t, func() bool { return responder.count() >= 1 }, time.Second, time.Millisecond)

	// A distinct exchange replaying the now-stale CommandSN 0 must be
	// dropped rather than answered or re-executed.
	stale := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 2, CommandSN: 0},
		Body:     &wire.CommandRequest{SlotID: 1, SlotSN: 1, Payload: []byte("b")},
	}
	require.NoError(t, tc.HandleFrame(stale, "t1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, responder.count())
	assert.Equal(t, int32(1), calls.Load())
}

func TestTargetChannel_TaskMgmtGhostAbortsNeverSeenCommand(t *testing.T) {
	responder := &spyResponder{}
	var calls atomic.Int32
	tc := NewTarget(4, 4, 0, echoDispatcher(&calls), responder)
	tc.Attach("t1")

	frame := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 99, CommandSN: 2},
		Body: &wire.TaskMgmtRequest{
			TargetExchangeID: 99,
			TargetCommandSN:  2,
			TargetSlotID:     0,
			TargetSlotSN:     1,
		},
	}
	require.NoError(t, tc.HandleFrame(frame, "t1"))
	require.Eventually(t, func() bool { return responder.count() >= 1 }, time.Second, time.Millisecond)

	resp := responder.last().Body.(*wire.TaskMgmtResponse)
	assert.Equal(t, uint16(1) /* AbortedBeforeStart */, resp.Status)
	assert.Equal(t, int32(0), calls.Load())
}

func TestTargetChannel_TaskMgmtAbortsPendingCommandBeforeDispatch(t *testing.T) {
	responder := &spyResponder{}
	var calls atomic.Int32
	tc := NewTarget(4, 4, 0, echoDispatcher(&calls), responder)
	tc.Attach("t1")

	// CommandSN 1 arrives before CommandSN 0: the sequencer stashes it, so
	// the command sits in Pending without ever reaching the dispatcher.
	stashed := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 7, CommandSN: 1},
		Body:     &wire.CommandRequest{SlotID: 0, SlotSN: 1, Payload: []byte("x")},
	}
	require.NoError(t, tc.HandleFrame(stashed, "t1"))
	assert.Equal(t, int32(0), calls.Load())

	abort := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 100, CommandSN: 1},
		Body: &wire.TaskMgmtRequest{
			TargetExchangeID: 7,
			TargetCommandSN:  1,
			TargetSlotID:     0,
			TargetSlotSN:     1,
		},
	}
	require.NoError(t, tc.HandleFrame(abort, "t1"))
	require.Eventually(t, func() bool { return responder.count() >= 1 }, time.Second, time.Millisecond)
	resp := responder.last().Body.(*wire.TaskMgmtResponse)
	assert.Equal(t, uint16(1) /* AbortedBeforeStart */, resp.Status)

	// Releasing CommandSN 0 now lets the sequencer drain CommandSN 1, but
	// the aborted command must not reach the dispatcher.
	head := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 8, CommandSN: 0},
		Body:     &wire.CommandRequest{SlotID: 1, SlotSN: 1, Payload: []byte("y")},
	}
	require.NoError(t, tc.HandleFrame(head, "t1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "only the non-aborted head command should dispatch")
}

func TestChannel_AbortAfterDispatchStartedCompletesNormally(t *testing.T) {
	ic := NewInitiator(4, &RoundRobin{})
	responder := &spyResponder{relay: ic}

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	dispatcher := func(_ context.Context, payload []byte) ([]byte, error) {
		calls.Add(1)
		close(started)
		<-release
		return payload, nil
	}
	tc := NewTarget(4, 4, 0, dispatcher, responder)

	tr := &loopbackTransport{id: "t1", target: tc}
	ic.Attach(tr)
	tc.Attach("t1")

	type submitOutcome struct {
		res *Result
		err error
	}
	outcome := make(chan submitOutcome, 1)
	go func() {
		res, err := ic.Submit(context.Background(), []byte("payload"))
		outcome <- submitOutcome{res, err}
	}()

	<-started // the target is now Active, executing the dispatcher

	ic.mu.Lock()
	var exchangeID uint64
	for id := range ic.byExchange {
		exchangeID = id
	}
	ic.mu.Unlock()

	// Abort blocks until the TaskMgmt response, which the target sends only
	// after the command's own response, so it runs while release is closed.
	abortErr := make(chan error, 1)
	go func() { abortErr <- ic.Abort(exchangeID) }()

	close(release)
	got := <-outcome
	require.NoError(t, got.err)
	assert.Equal(t, []byte("payload"), got.res.Payload, "an Active command runs to its own completion instead of being preempted")
	require.NoError(t, <-abortErr)
}

func TestTargetChannel_TaskMgmtOnActiveCommandIsOrderedAfterItsOwnResponse(t *testing.T) {
	responder := &spyResponder{}
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	dispatcher := func(_ context.Context, payload []byte) ([]byte, error) {
		calls.Add(1)
		close(started)
		<-release
		return payload, nil
	}
	tc := NewTarget(4, 4, 0, dispatcher, responder)
	tc.Attach("t1")

	frame := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 1, CommandSN: 0},
		Body:     &wire.CommandRequest{SlotID: 0, SlotSN: 1, Payload: []byte("x")},
	}
	// A single in-order command is drained inline, so HandleFrame returns
	// only once the dispatcher does.
	handled := make(chan error, 1)
	go func() { handled <- tc.HandleFrame(frame, "t1") }()
	<-started // the command is now Active and cannot be preempted

	abort := wire.Frame{
		Exchange: wire.ExchangeHeader{ExchangeID: 2, CommandSN: 1},
		Body: &wire.TaskMgmtRequest{
			TargetExchangeID: 1,
			TargetCommandSN:  0,
			TargetSlotID:     0,
			TargetSlotSN:     1,
		},
	}
	require.NoError(t, tc.HandleFrame(abort, "t1"))

	// Give a broken implementation a chance to race the TaskMgmt response
	// ahead of the command's own response while it is still blocked.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, responder.count(), "no response may go out while the Active command is still running")

	close(release)
	require.NoError(t, <-handled)
	require.Eventually(t, func() bool { return responder.count() >= 2 }, time.Second, time.Millisecond)

	assert.IsType(t, &wire.CommandResponse{}, responder.sent[0].Body, "the command's own response must be sent first")
	resp, ok := responder.sent[1].Body.(*wire.TaskMgmtResponse)
	require.True(t, ok, "the TaskMgmt response must follow")
	assert.Equal(t, uint16(dsperr.AbortedAfterStart), resp.Status)
}

func TestTargetChannel_PingRefreshesSiblingAndRepliesImmediately(t *testing.T) {
	responder := &spyResponder{}
	var calls atomic.Int32
	tc := NewTarget(4, 4, 0, echoDispatcher(&calls), responder)
	tc.Attach("t1")

	var pinged atomic.Bool
	tc.OnPing = func() { pinged.Store(true) }

	frame := wire.Frame{Exchange: wire.ExchangeHeader{}, Body: &wire.PingRequest{}}
	require.NoError(t, tc.HandleFrame(frame, "t1"))

	assert.True(t, pinged.Load())
	require.Len(t, responder.sent, 1)
	_, ok := responder.sent[0].Body.(*wire.PingResponse)
	assert.True(t, ok)
}

func TestTargetChannel_LogoutIsIdempotent(t *testing.T) {
	responder := &spyResponder{}
	var calls atomic.Int32
	tc := NewTarget(4, 4, 0, echoDispatcher(&calls), responder)
	tc.Attach("t1")

	frame := wire.Frame{Exchange: wire.ExchangeHeader{}, Body: &wire.LogoutRequest{}}
	require.NoError(t, tc.HandleFrame(frame, "t1"))
	require.NoError(t, tc.HandleFrame(frame, "t1"))

	assert.True(t, tc.LoggedOut())
	assert.Len(t, responder.sent, 2)
}

// flakyTransport forwards every frame to a target channel, except that it
// fails the first Send for one chosen CommandSN (simulating the "transport
// resets mid-flight" of spec seed scenario 3), so a test can inspect what
// Initiator.retry actually re-sent once the submit falls back to it.
type flakyTransport struct {
	id        string
	target    *Target
	failCmdSN uint32

	mu         sync.Mutex
	failedOnce bool
	captured   []wire.Frame
}

func (t *flakyTransport) ID() string      { return t.id }
func (t *flakyTransport) QueueDepth() int { return 0 }

func (t *flakyTransport) Send(f wire.Frame) error {
	t.mu.Lock()
	t.captured = append(t.captured, f)
	shouldFail := f.Exchange.CommandSN == t.failCmdSN && !t.failedOnce
	if shouldFail {
		t.failedOnce = true
	}
	t.mu.Unlock()

	if shouldFail {
		return errors.New("transport reset")
	}
	return t.target.HandleFrame(f, t.id)
}

func (t *flakyTransport) frame(i int) wire.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captured[i]
}

// TestChannel_RetryStampsExpectedCommandSNAndMaxSlotIDInUse drives
// Initiator.retry with a second command still held in flight (so the slot
// table's highest-in-use slot is not the trivially-zero first slot) and a
// prior completed command (so the channel's ExpectedCommandSN view is not
// trivially zero either). A retry that left either field at its zero value
// would pass unnoticed without these non-zero baselines.
func TestChannel_RetryStampsExpectedCommandSNAndMaxSlotIDInUse(t *testing.T) {
	ic := NewInitiator(4, &RoundRobin{})
	responder := &spyResponder{relay: ic}

	var calls atomic.Int32
	held := make(chan struct{})
	release := make(chan struct{})
	dispatcher := func(_ context.Context, payload []byte) ([]byte, error) {
		if string(payload) == "hold" {
			close(held)
			<-release
			return payload, nil
		}
		calls.Add(1)
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	tc := NewTarget(4, 4, 0, dispatcher, responder)

	tr := &flakyTransport{id: "t1", target: tc, failCmdSN: 2}
	ic.Attach(tr)
	tc.Attach("t1")

	// CommandSN 0: a complete round trip so the channel's ExpectedCommandSN
	// view of the opposite side advances off zero.
	_, err := ic.Submit(context.Background(), []byte("warm"))
	require.NoError(t, err)

	// CommandSN 1: held Active in the dispatcher so its slot stays
	// reserved, pushing the slot table's highest-in-use slot above zero.
	type submitOutcome struct {
		res *Result
		err error
	}
	heldOutcome := make(chan submitOutcome, 1)
	go func() {
		res, err := ic.Submit(context.Background(), []byte("hold"))
		heldOutcome <- submitOutcome{res, err}
	}()
	<-held

	// CommandSN 2: fails its first send and falls back to Initiator.retry.
	res, err := ic.Submit(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), res.Payload)
	assert.Equal(t, int32(2), calls.Load(), "warm and hello both reach the dispatcher; hold is still blocked on release")

	close(release)
	require.NoError(t, (<-heldOutcome).err)

	require.Len(t, tr.captured, 4, "warm command, hold command, the failed original hello send, and its retry")

	original := tr.frame(2).Body.(*wire.CommandRequest)
	retried := tr.frame(3).Body.(*wire.CommandRequest)

	require.Equal(t, tr.frame(2).Exchange.ExchangeID, tr.frame(3).Exchange.ExchangeID, "retry must carry the same ExchangeID")
	assert.Equal(t, original.SlotSN, retried.SlotSN, "retry must carry the same SlotSN")
	assert.NotZero(t, retried.MaxSlotIDInUse, "retry must stamp MaxSlotIDInUse, not leave it at zero")
	assert.Equal(t, original.MaxSlotIDInUse, retried.MaxSlotIDInUse, "retry must stamp MaxSlotIDInUse like the original submit")
	assert.NotZero(t, tr.frame(3).Exchange.ExpectedCommandSN, "retry must stamp ExpectedCommandSN, not leave it at zero")
	assert.Equal(t, tr.frame(2).Exchange.ExpectedCommandSN, tr.frame(3).Exchange.ExpectedCommandSN, "retry must stamp ExpectedCommandSN like the original submit")
}
