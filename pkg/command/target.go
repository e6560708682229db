package command

import "fmt"

// TargetState enumerates the target-side command lifecycle (spec §4.6).
type TargetState int

const (
	TInitial TargetState = iota
	TPending
	TActive
	TInDoubt
	TRetry
	TAbort
	TAborted
	TFinal
)

func (s TargetState) String() string {
	switch s {
	case TInitial:
		return "Initial"
	case TPending:
		return "Pending"
	case TActive:
		return "Active"
	case TInDoubt:
		return "InDoubt"
	case TRetry:
		return "Retry"
	case TAbort:
		return "Abort"
	case TAborted:
		return "Aborted"
	case TFinal:
		return "Final"
	default:
		return "Unknown"
	}
}

// targetTransitions is the exact legal-transition table from spec §4.6.
// Any transition not listed here panics: the spec is explicit that "all
// other transitions must panic".
var targetTransitions = map[TargetState]map[TargetState]bool{
	TInitial: {TPending: true},
	TPending: {TActive: true, TAbort: true},
	TActive:  {TInDoubt: true, TFinal: true},
	TInDoubt: {TRetry: true, TAbort: true, TFinal: true},
	TRetry:   {TInDoubt: true, TAbort: true},
	TAbort:   {TAborted: true},
	TAborted: {TFinal: true, TAbort: true},
}

// Target is the target-side command state machine.
//
// TransportID records the transport that delivered the *instance*
// currently owning the response obligation; per spec §4.6's "transport
// allegiance" note, a specific instance's response must return on the
// transport that delivered it, and a retry is a different instance
// sharing the same primary.
type Target struct {
	State TargetState

	SlotID    uint32
	SlotSN    uint32
	CommandSN uint32

	TransportID string

	// RetryQueue holds instance references (by transport ID) still
	// needing a response once the primary's execution completes.
	RetryQueue []string

	// PendingAbortResponses holds TaskMgmt response callbacks for abort
	// requests that arrived while this command was Active. Active cannot
	// take the Abort edge, so the command runs to its own completion;
	// these callbacks fire only once that response has gone out, so the
	// TaskMgmt acknowledgement is always ordered after it.
	PendingAbortResponses []func()

	TaskMgmtStatus int // set when entering Aborted
}

// NewTarget returns a freshly-arrived command in state Initial.
func NewTarget(slotID uint32, slotSN, commandSN uint32, transportID string) *Target {
	return &Target{SlotID: slotID, SlotSN: slotSN, CommandSN: commandSN, TransportID: transportID}
}

// To transitions the command to next, panicking if the transition is not
// in targetTransitions.
func (c *Target) To(next TargetState) {
	if !targetTransitions[c.State][next] {
		panic(fmt.Sprintf("command: illegal target transition %s -> %s", c.State, next))
	}
	c.State = next
}

// EnterSequencer fires on arrival entering the sequencer: Initial -> Pending.
func (c *Target) EnterSequencer() { c.To(TPending) }

// Dispatch fires when the sequencer releases the command for application
// execution: Pending -> Active.
func (c *Target) Dispatch() { c.To(TActive) }

// Completed fires once the application finishes and the response is
// dispatched: Active -> InDoubt.
func (c *Target) Completed() { c.To(TInDoubt) }

// SlotFailure fires when a slot failure is detected before dispatch:
// Active -> Final.
func (c *Target) SlotFailure() { c.To(TFinal) }

// RetryArrived fires when a duplicate request arrives while InDoubt:
// InDoubt -> Retry.
func (c *Target) RetryArrived() { c.To(TRetry) }

// TaskMgmtArrived fires when a TaskMgmt request arrives while Pending or
// InDoubt: -> Abort.
func (c *Target) TaskMgmtArrived() { c.To(TAbort) }

// RetryDrained fires once the retry queue empties with no pending abort:
// Retry -> InDoubt.
func (c *Target) RetryDrained() { c.To(TInDoubt) }

// Evicted fires when the next command arrives over the same slot,
// reclaiming it: InDoubt or Aborted -> Final.
func (c *Target) Evicted() { c.To(TFinal) }

// TaskMgmtResponseSent fires once the abort response has been queued:
// Abort -> Aborted.
func (c *Target) TaskMgmtResponseSent(status int) {
	c.TaskMgmtStatus = status
	c.To(TAborted)
}

// TaskMgmtRetry fires when a new TaskMgmt request (client retry of the
// abort) arrives while Aborted: Aborted -> Abort.
func (c *Target) TaskMgmtRetry() { c.To(TAbort) }
