package command

// Ghost represents a target command that exists only to keep channel
// state (sequencer head, MaximumCommandSN) advancing correctly when a
// TaskMgmt request arrives for a CommandSN that has not yet been seen as
// a real CommandRequest (spec §4.7, TaskMgmtRequest step 4). It carries
// no application payload, only the slot identity the abort targets.
func NewGhost(slotID uint32, slotSN, commandSN uint32) *Target {
	return NewTarget(slotID, slotSN, commandSN, "")
}
