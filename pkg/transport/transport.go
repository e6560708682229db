// Package transport implements the Transport FSM (spec §4.9): the
// per-byte-stream lifecycle that gates when a transport may carry
// session traffic, and the recoverable-successor replacement protocol
// that lets a session survive the loss of any single underlying
// connection.
package transport

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nexusdsp/dsp/internal/logger"
)

// State enumerates the transport lifecycle. Initiator and target walk
// mirrored but distinct state sets (spec §4.9): the initiator has an
// explicit XptWait state before a connect attempt resolves, while the
// target's analogous state (XptUp) is entered the instant the peer's
// bytes arrive.
type State int

const (
	Free State = iota
	XptWait // initiator only: connect in flight
	XptUp   // target only: accepted, awaiting Login
	InLogin
	LoggedIn
	InLogout
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case XptWait:
		return "XptWait"
	case XptUp:
		return "XptUp"
	case InLogin:
		return "InLogin"
	case LoggedIn:
		return "LoggedIn"
	case InLogout:
		return "InLogout"
	default:
		return "Unknown"
	}
}

// Side distinguishes the initiator and target transitions tables, which
// differ only in the Free successor state ("XptWait" vs "XptUp").
type Side int

const (
	Initiator Side = iota
	Target
)

func transitions(side Side) map[State]map[State]bool {
	connectState := XptWait
	if side == Target {
		connectState = XptUp
	}
	return map[State]map[State]bool{
		Free:         {connectState: true},
		connectState: {InLogin: true, Free: true},
		InLogin:      {LoggedIn: true, Free: true},
		LoggedIn:     {InLogout: true, Free: true},
		InLogout:     {Free: true},
	}
}

// FSM is one transport's lifecycle state machine plus the bookkeeping
// needed to drive recovery after a failure (spec §4.9, "Recoverability").
//
// Only a transport in LoggedIn participates in the data path; HandleFrame
// dispatchers upstream must check State() before routing traffic.
type FSM struct {
	mu sync.Mutex

	id         string
	side       Side
	state      State
	trans      map[State]map[State]bool
	generation int // bumped on each successor replacement

	recoverable    bool
	failedAt       time.Time
	recoveryTries  int
	recoveryConfig RecoveryConfig

	queueDepth int // outbound queue depth, read by the LeastQueue scheduler
}

// RecoveryConfig parameterizes the exponential backoff schedule of spec
// §4.9: delay_i = min(2^(i-1) * interval, timeout).
type RecoveryConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultRecoveryConfig matches the wire format's default connect/recovery
// timeout posture: a 1-second base interval capped at 30 seconds.
var DefaultRecoveryConfig = RecoveryConfig{Interval: time.Second, Timeout: 30 * time.Second}

// New builds a transport FSM in state Free for the given side.
func New(id string, side Side, cfg RecoveryConfig) *FSM {
	return &FSM{
		id:             id,
		side:           side,
		state:          Free,
		trans:          transitions(side),
		recoverable:    true,
		recoveryConfig: cfg,
	}
}

// ID returns the transport's stable identifier.
func (f *FSM) ID() string { return f.id }

// State returns the current lifecycle state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Generation returns how many times this transport identity has been
// replaced by a successor after a recoverable failure.
func (f *FSM) Generation() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

// QueueDepth reports the outbound queue depth, consulted by the
// LeastQueue channel scheduler (spec §4.8).
func (f *FSM) QueueDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queueDepth
}

// SetQueueDepth updates the outbound queue depth; called by whatever owns
// the actual byte-stream send path.
func (f *FSM) SetQueueDepth(n int) {
	f.mu.Lock()
	f.queueDepth = n
	f.mu.Unlock()
}

// To drives an explicit transition, panicking on an illegal one exactly
// as the command FSMs do: a transport lifecycle violation is a
// programming error in the caller, not a runtime condition to recover
// from.
func (f *FSM) To(next State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toLocked(next)
}

func (f *FSM) toLocked(next State) {
	if !f.trans[f.state][next] {
		panic(fmt.Sprintf("transport: illegal transition %s -> %s (side=%v)", f.state, next, f.side))
	}
	prev := f.state
	f.state = next
	logger.Debug("transport state transition",
		"transport_id", f.id, "from", prev.String(), "to", next.String())
}

// BeginConnect moves Free -> XptWait (initiator) or Free -> XptUp
// (target): the peer's bytes have started arriving, or a connect attempt
// has been issued.
func (f *FSM) BeginConnect() {
	connectState := XptWait
	if f.side == Target {
		connectState = XptUp
	}
	f.To(connectState)
}

// BeginLogin moves XptWait/XptUp -> InLogin: the Connect/Authenticate/
// Negotiate phases are underway.
func (f *FSM) BeginLogin() { f.To(InLogin) }

// LoginComplete moves InLogin -> LoggedIn: this transport may now carry
// data-plane frames.
func (f *FSM) LoginComplete() { f.To(LoggedIn) }

// BeginLogout moves LoggedIn -> InLogout, in response to a graceful
// LogoutRequest/Response exchange.
func (f *FSM) BeginLogout() { f.To(InLogout) }

// Close moves the transport to Free from any state (the "shortcut to Free
// on failure from any state" of spec §4.9), and records whether the
// closure is recoverable: a peer response of SERVICE_UNREACHABLE marks it
// unrecoverable, since no successor connecting to the same address could
// do better.
func (f *FSM) Close(recoverable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Free {
		f.state = Free
	}
	f.recoverable = recoverable
	if !recoverable {
		return
	}
	f.failedAt = now()
}

// Recoverable reports whether this transport instance may be replaced by
// a successor.
func (f *FSM) Recoverable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recoverable
}

// NextRecoveryDelay returns the exponential backoff delay for the i-th
// recovery attempt (1-indexed) since the last failure, per spec §4.9:
// delay_i = min(2^(i-1) * interval, timeout).
func (f *FSM) NextRecoveryDelay() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveryTries++
	return recoveryDelay(f.recoveryTries, f.recoveryConfig)
}

func recoveryDelay(attempt int, cfg RecoveryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := math.Pow(2, float64(attempt-1))
	delay := time.Duration(mult) * cfg.Interval
	if delay > cfg.Timeout || delay <= 0 {
		return cfg.Timeout
	}
	return delay
}

// FailedAt returns the timestamp of the last recoverable failure, the
// base from which NextRecoveryDelay is measured.
func (f *FSM) FailedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failedAt
}

// Successor builds a fresh FSM with the same ID and side but a reset
// state and stats, standing in for this instance after a recoverable
// close (spec §4.9: "replaced by a successor with the same address but a
// fresh FSM and stats; the old instance retires").
func (f *FSM) Successor() *FSM {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &FSM{
		id:             f.id,
		side:           f.side,
		state:          Free,
		trans:          f.trans,
		generation:     f.generation + 1,
		recoverable:    true,
		recoveryConfig: f.recoveryConfig,
	}
}

// now is indirected so tests can deterministically control it if needed;
// production code always uses the real wall clock.
var now = time.Now
