package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdsp/dsp/pkg/serial"
)

func commandSNs(cmds []*Command) []serial.Number {
	out := make([]serial.Number, len(cmds))
	for i, c := range cmds {
		out[i] = c.CommandSN
	}
	return out
}

func TestSequencer_SingleInOrder(t *testing.T) {
	seq := New(1, 0)
	for i := serial.Number(0); i < 4; i++ {
		drained, dist := seq.Enter(&Command{CommandSN: i})
		assert.Equal(t, 1, drained)
		assert.Equal(t, uint32(0), dist)
		got := seq.TakePending()
		require.Len(t, got, 1)
		assert.Equal(t, i, got[0].CommandSN)
	}
	assert.Equal(t, serial.Number(4), seq.Head())
}

func TestSequencer_OutOfOrderArrival(t *testing.T) {
	seq := New(8, 0)
	order := []serial.Number{2, 0, 1, 3, 5, 4, 6, 7}
	var totalDrained []serial.Number
	nonZeroDistanceCount := 0

	for _, sn := range order {
		drained, dist := seq.Enter(&Command{CommandSN: sn})
		if dist != 0 {
			nonZeroDistanceCount++
		}
		if drained > 0 {
			totalDrained = append(totalDrained, commandSNs(seq.TakePending())...)
		}
	}

	require.Len(t, totalDrained, 8)
	for i, sn := range totalDrained {
		assert.Equal(t, serial.Number(i), sn)
	}
	assert.Equal(t, serial.Number(8), seq.Head())
	// Per the scenario, stashed (non-zero order-distance) entries are 2, 5.
	assert.Equal(t, 2, nonZeroDistanceCount)
}

func TestSequencer_RingCollisionPanics(t *testing.T) {
	seq := New(2, 0)
	_, _ = seq.Enter(&Command{CommandSN: 1}) // stashed at position 1
	assert.Panics(t, func() {
		seq.Enter(&Command{CommandSN: 3}) // also maps to position 1: collision
	})
}

func TestSequencer_AsyncDrainThreshold(t *testing.T) {
	// A handful of in-order arrivals each drain exactly one entry: the
	// pending queue never grows past the threshold.
	seq := New(16, 5)
	for i := serial.Number(5); i < 5+AsyncDrainThreshold; i++ {
		seq.Enter(&Command{CommandSN: i})
	}
	assert.False(t, seq.ShouldDeferDrain())

	// Five out-of-order arrivals stash without draining; the command
	// finally arriving at head then cascades a single drain of all six,
	// which exceeds the threshold.
	seq2 := New(16, 0)
	for i := serial.Number(1); i <= serial.Number(AsyncDrainThreshold+1); i++ {
		drained, _ := seq2.Enter(&Command{CommandSN: i})
		assert.Equal(t, 0, drained)
	}
	drained, _ := seq2.Enter(&Command{CommandSN: 0})
	assert.Equal(t, int(AsyncDrainThreshold)+2, drained)
	assert.True(t, seq2.ShouldDeferDrain())
}
