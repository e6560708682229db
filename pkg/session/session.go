// Package session implements the Session FSM (spec §4.10) and the Nexus
// composition that sits on top of it (spec §4.11): the long-lived,
// transport-churn-surviving identity that owns a fore and back channel
// and mediates login, failover, continuation, reinstatement and logout.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/nexusdsp/dsp/internal/logger"
	"github.com/nexusdsp/dsp/pkg/metrics"
)

// State enumerates the 6-state session lifecycle shared, isomorphically,
// by initiator and target (spec §4.10): Free -> Active -> LoggedIn ->
// (Failed <-> InContinue) -> Zombie.
type State int

const (
	Free State = iota
	Active
	LoggedIn
	Failed
	InContinue
	Zombie
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Active:
		return "Active"
	case LoggedIn:
		return "LoggedIn"
	case Failed:
		return "Failed"
	case InContinue:
		return "InContinue"
	case Zombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// transitions is the legal-move table. Every edge is labeled with its
// spec §4.10 event name in the comment beside the method that fires it.
var transitions = map[State]map[State]bool{
	Free:       {Active: true},                 // N1
	Active:     {LoggedIn: true, Zombie: true}, // N2, N9
	LoggedIn:   {Failed: true, Zombie: true},   // N5, N3
	Failed:     {InContinue: true, Zombie: true}, // N7, N6/N11
	InContinue: {Failed: true, LoggedIn: true}, // N8, N10
	Zombie:     {},
}

// EventListener receives session state transitions and the notable named
// events (reinstatement, continuation) in the order they occur. Per spec
// §9 ("Event dispatch to listeners must preserve chronological order"),
// the FSM serializes delivery through a single goroutine per session
// rather than calling listeners from whatever goroutine caused the
// transition.
type EventListener interface {
	OnTransition(from, to State)
	OnReinstated()
	OnContinuation(succeeded bool)
}

// FSM is one session's lifecycle state machine, plus the keepalive timer
// that forces Zombie if a Failed session never continues (spec §4.10,
// "Keepalive in Failed").
type FSM struct {
	mu    sync.Mutex
	state State

	minKeepalive time.Duration
	keepaliveTimer *time.Timer

	listeners []EventListener
	events    chan func()
	closeOnce sync.Once
	done      chan struct{}

	zombieOnce sync.Once
	zombieCh   chan struct{}

	metrics *metrics.SessionMetrics
}

// NewFSM builds a session FSM in state Free. minKeepalive is the
// MIN_KEEPALIVE_TIME configuration value (spec §6): the duration a
// Failed session is given to continue before being forced to Zombie.
func NewFSM(minKeepalive time.Duration, m *metrics.SessionMetrics) *FSM {
	f := &FSM{
		state:        Free,
		minKeepalive: minKeepalive,
		events:       make(chan func(), 64),
		done:         make(chan struct{}),
		zombieCh:     make(chan struct{}),
		metrics:      m,
	}
	go f.dispatchLoop()
	return f
}

// dispatchLoop is the single per-session event source serializing
// listener callbacks (spec §9).
func (f *FSM) dispatchLoop() {
	for {
		select {
		case ev := <-f.events:
			ev()
		case <-f.done:
			// Drain anything already queued before a final return, so a
			// transition that raced the Close still reaches listeners.
			for {
				select {
				case ev := <-f.events:
					ev()
				default:
					return
				}
			}
		}
	}
}

// Subscribe registers l to receive future transitions and events.
func (f *FSM) Subscribe(l EventListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// State returns the current lifecycle state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FSM) to(next State) {
	f.mu.Lock()
	if !transitions[f.state][next] {
		f.mu.Unlock()
		panic(fmt.Sprintf("session: illegal transition %s -> %s", f.state, next))
	}
	prev := f.state
	f.state = next

	if prev == Failed && next != Failed {
		f.cancelKeepaliveLocked()
	}
	if next == Failed {
		f.armKeepaliveLocked()
	}
	f.mu.Unlock()
	if next == Zombie {
		f.closeZombie()
	}

	logger.Debug("session state transition", "from", prev.String(), "to", next.String())
	f.metrics.Transition(prev.String(), next.String())
	f.broadcast(func(l EventListener) { l.OnTransition(prev, next) })
}

// closeZombie closes zombieCh exactly once, the first time this FSM
// enters Zombie by any path (graceful close, keepalive expiry, or
// reinstatement).
func (f *FSM) closeZombie() {
	f.zombieOnce.Do(func() { close(f.zombieCh) })
}

// Zombied returns a channel that closes the first time this session
// reaches Zombie. Used by Registry to know when a reinstated predecessor
// has fully quiesced before attaching its successor's transports (spec
// §4.10, "Session reinstatement").
func (f *FSM) Zombied() <-chan struct{} { return f.zombieCh }

// armKeepaliveLocked schedules the Failed-state timeout. Caller must
// hold f.mu.
func (f *FSM) armKeepaliveLocked() {
	if f.minKeepalive <= 0 {
		return
	}
	f.keepaliveTimer = time.AfterFunc(f.minKeepalive, func() {
		f.mu.Lock()
		stillFailed := f.state == Failed
		f.mu.Unlock()
		if stillFailed {
			f.metrics.KeepaliveExpired()
			f.to(Zombie) // N6
		}
	})
}

// cancelKeepaliveLocked cancels a pending keepalive timer. Caller must
// hold f.mu.
func (f *FSM) cancelKeepaliveLocked() {
	if f.keepaliveTimer != nil {
		f.keepaliveTimer.Stop()
		f.keepaliveTimer = nil
	}
}

// broadcast queues a per-listener callback on the serialized event
// source; it never blocks the caller on listener execution.
func (f *FSM) broadcast(call func(EventListener)) {
	f.mu.Lock()
	ls := append([]EventListener(nil), f.listeners...)
	f.mu.Unlock()
	select {
	case f.events <- func() {
		for _, l := range ls {
			call(l)
		}
	}:
	case <-f.done:
	}
}

// BeginLogin fires N1: a leading login is in progress. Free -> Active.
func (f *FSM) BeginLogin() { f.to(Active) }

// LoginSucceeded fires N2: the leading login completed. Active -> LoggedIn.
func (f *FSM) LoginSucceeded() { f.to(LoggedIn) }

// LoginFailed fires N9: the leading login failed. Active -> Zombie.
func (f *FSM) LoginFailed() { f.to(Zombie) }

// GracefulClose fires N3: an orderly logout completed. LoggedIn -> Zombie.
func (f *FSM) GracefulClose() { f.to(Zombie) }

// TransportLost fires N5: the last operational transport was lost.
// LoggedIn -> Failed.
func (f *FSM) TransportLost() { f.to(Failed) }

// BeginContinuation fires N7: a new login is attempting to restore a
// Failed session without state loss. Failed -> InContinue.
func (f *FSM) BeginContinuation() { f.to(InContinue) }

// ContinuationFailed fires N8: the continuation attempt did not
// establish the session. InContinue -> Failed.
func (f *FSM) ContinuationFailed() {
	f.to(Failed)
	f.metrics.Continuation(false)
	f.broadcast(func(l EventListener) { l.OnContinuation(false) })
}

// ContinuationSucceeded fires N10: the session is restored with no state
// loss. InContinue -> LoggedIn.
func (f *FSM) ContinuationSucceeded() {
	f.to(LoggedIn)
	f.metrics.Continuation(true)
	f.broadcast(func(l EventListener) { l.OnContinuation(true) })
}

// Reinstated fires N11: this session is being replaced by a new leading
// login for the same client terminus. Valid from any non-terminal state;
// forces Zombie directly, since a predecessor mid-login or mid-failure
// has no orderly close path available.
func (f *FSM) Reinstated() {
	f.mu.Lock()
	cur := f.state
	f.mu.Unlock()
	if cur == Zombie {
		return
	}
	f.mu.Lock()
	f.state = Zombie
	f.cancelKeepaliveLocked()
	f.mu.Unlock()
	f.closeZombie()
	logger.Debug("session state transition", "from", cur.String(), "to", Zombie.String(), "reason", "reinstated")
	f.metrics.Transition(cur.String(), Zombie.String())
	f.metrics.Reinstated()
	f.broadcast(func(l EventListener) { l.OnTransition(cur, Zombie) })
	f.broadcast(func(l EventListener) { l.OnReinstated() })
}

// Close stops the event dispatch loop. Safe to call multiple times.
func (f *FSM) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
