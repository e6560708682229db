package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu sync.Mutex

	transitions    [][2]State
	reinstatements int
	continuations  []bool
}

func (r *recorder) OnTransition(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]State{from, to})
}

func (r *recorder) OnReinstated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reinstatements++
}

func (r *recorder) OnContinuation(succeeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.continuations = append(r.continuations, succeeded)
}

func (r *recorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.transitions)*2)
	for _, t := range r.transitions {
		out = append(out, t[0], t[1])
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

func TestSessionFSM_HappyPath(t *testing.T) {
	f := NewFSM(0, nil)
	defer f.Close()
	rec := &recorder{}
	f.Subscribe(rec)

	f.BeginLogin()
	f.LoginSucceeded()
	assert.Equal(t, LoggedIn, f.State())

	waitFor(t, func() bool { return len(rec.snapshot()) == 4 })
}

func TestSessionFSM_IllegalTransitionPanics(t *testing.T) {
	f := NewFSM(0, nil)
	defer f.Close()
	assert.Panics(t, func() { f.LoginSucceeded() }) // Free -> LoggedIn is not a direct edge
}

func TestSessionFSM_FailedContinuationSucceeds(t *testing.T) {
	f := NewFSM(time.Hour, nil)
	defer f.Close()
	f.BeginLogin()
	f.LoginSucceeded()
	f.TransportLost()
	assert.Equal(t, Failed, f.State())

	f.BeginContinuation()
	assert.Equal(t, InContinue, f.State())
	f.ContinuationSucceeded()
	assert.Equal(t, LoggedIn, f.State())
}

func TestSessionFSM_KeepaliveExpiryForcesZombie(t *testing.T) {
	f := NewFSM(20*time.Millisecond, nil)
	defer f.Close()
	f.BeginLogin()
	f.LoginSucceeded()
	f.TransportLost()
	assert.Equal(t, Failed, f.State())

	waitFor(t, func() bool { return f.State() == Zombie })
}

func TestSessionFSM_ContinuationCancelsKeepalive(t *testing.T) {
	f := NewFSM(20*time.Millisecond, nil)
	defer f.Close()
	f.BeginLogin()
	f.LoginSucceeded()
	f.TransportLost()
	f.BeginContinuation()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, InContinue, f.State(), "keepalive timer must be cancelled on leaving Failed")
}

func TestSessionFSM_Reinstated(t *testing.T) {
	f := NewFSM(0, nil)
	defer f.Close()
	rec := &recorder{}
	f.Subscribe(rec)

	f.BeginLogin()
	f.Reinstated()
	assert.Equal(t, Zombie, f.State())

	waitFor(t, func() bool { return rec.reinstatements == 1 })
}

func TestSessionFSM_ReinstatedFromZombieIsNoop(t *testing.T) {
	f := NewFSM(0, nil)
	defer f.Close()
	f.BeginLogin()
	f.LoginFailed()
	assert.Equal(t, Zombie, f.State())
	assert.NotPanics(t, f.Reinstated)
}
