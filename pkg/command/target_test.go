package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTarget_HappyPath(t *testing.T) {
	c := NewTarget(0, 1, 1, "t1")
	assert.Equal(t, TInitial, c.State)
	c.EnterSequencer()
	assert.Equal(t, TPending, c.State)
	c.Dispatch()
	assert.Equal(t, TActive, c.State)
	c.Completed()
	assert.Equal(t, TInDoubt, c.State)
	c.Evicted()
	assert.Equal(t, TFinal, c.State)
}

func TestTarget_RetryAndRedispatch(t *testing.T) {
	c := NewTarget(0, 1, 1, "t1")
	c.EnterSequencer()
	c.Dispatch()
	c.Completed()
	c.RetryArrived()
	assert.Equal(t, TRetry, c.State)
	c.RetryDrained()
	assert.Equal(t, TInDoubt, c.State)
}

func TestTarget_AbortFromPending(t *testing.T) {
	c := NewTarget(0, 1, 1, "t1")
	c.EnterSequencer()
	c.TaskMgmtArrived()
	assert.Equal(t, TAbort, c.State)
	c.TaskMgmtResponseSent(3)
	assert.Equal(t, TAborted, c.State)
	assert.Equal(t, 3, c.TaskMgmtStatus)
}

func TestTarget_AbortFromInDoubtThenRetryOfAbort(t *testing.T) {
	c := NewTarget(0, 1, 1, "t1")
	c.EnterSequencer()
	c.Dispatch()
	c.Completed()
	c.TaskMgmtArrived()
	assert.Equal(t, TAbort, c.State)
	c.TaskMgmtResponseSent(1)
	assert.Equal(t, TAborted, c.State)
	c.TaskMgmtRetry()
	assert.Equal(t, TAbort, c.State)
	c.TaskMgmtResponseSent(3)
	assert.Equal(t, TAborted, c.State)
	c.Evicted()
	assert.Equal(t, TFinal, c.State)
}

func TestTarget_SlotFailureBeforeDispatch(t *testing.T) {
	c := NewTarget(0, 1, 1, "t1")
	c.EnterSequencer()
	c.Dispatch()
	c.SlotFailure()
	assert.Equal(t, TFinal, c.State)
}

func TestTarget_IllegalTransitionPanics(t *testing.T) {
	c := NewTarget(0, 1, 1, "t1")
	assert.Panics(t, func() { c.Dispatch() }, "Initial -> Active is not legal")
}

func TestGhost_ParticipatesInSequencerLifecycle(t *testing.T) {
	g := NewGhost(2, 5, 10)
	g.EnterSequencer()
	g.TaskMgmtArrived()
	assert.Equal(t, TAbort, g.State)
}
