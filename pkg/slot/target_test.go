package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdsp/dsp/pkg/dsperr"
	"github.com/nexusdsp/dsp/pkg/serial"
)

func TestTargetTable_FirstRequestOnFreshSlot(t *testing.T) {
	tt := NewTargetTable(4)
	result, evicted, err := tt.Reserve(0, 0, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, ResultNew, result)
	assert.Nil(t, evicted)
}

func TestTargetTable_GenuineRetryReturnsCached(t *testing.T) {
	tt := NewTargetTable(4)
	_, _, err := tt.Reserve(0, 0, 1, 100)
	require.NoError(t, err)
	require.NoError(t, tt.Complete(0))

	result, _, err := tt.Reserve(0, 0, serial.Number(1), 100)
	require.NoError(t, err)
	assert.Equal(t, ResultRetry, result)
}

func TestTargetTable_FalseRetryRejected(t *testing.T) {
	tt := NewTargetTable(4)
	_, _, err := tt.Reserve(0, 0, 1, 100)
	require.NoError(t, err)
	require.NoError(t, tt.Complete(0))

	_, _, err = tt.Reserve(0, 0, serial.Number(1), 200)
	require.Error(t, err)
	de, ok := dsperr.AsDSPError(err)
	require.True(t, ok)
	assert.Equal(t, dsperr.SlotFalseRetry, de.Code)
}

func TestTargetTable_MisorderedRejected(t *testing.T) {
	tt := NewTargetTable(4)
	_, _, err := tt.Reserve(0, 0, serial.Number(5), 100)
	require.Error(t, err)
	de, ok := dsperr.AsDSPError(err)
	require.True(t, ok)
	assert.Equal(t, dsperr.SlotSeqMisordered, de.Code)
}

func TestTargetTable_SlotIDAndMaxInvalid(t *testing.T) {
	tt := NewTargetTable(4)
	_, _, err := tt.Reserve(10, 0, 1, 100)
	de, ok := dsperr.AsDSPError(err)
	require.True(t, ok)
	assert.Equal(t, dsperr.SlotIDInvalid, de.Code)

	_, _, err = tt.Reserve(0, 10, 1, 100)
	de, ok = dsperr.AsDSPError(err)
	require.True(t, ok)
	assert.Equal(t, dsperr.SlotMaxInvalid, de.Code)
}

func TestTargetTable_EvictionOfCachedOnNextCommand(t *testing.T) {
	tt := NewTargetTable(4)
	_, _, err := tt.Reserve(0, 0, 1, 100)
	require.NoError(t, err)
	require.NoError(t, tt.Complete(0))

	_, evicted, err := tt.Reserve(0, 0, serial.Number(2), 200)
	require.NoError(t, err)
	require.NotNil(t, evicted)
	assert.Equal(t, uint64(100), evicted.ExchangeID)
}

func TestTargetTable_DownsizeTruncatesOnceAnnounced(t *testing.T) {
	tt := NewTargetTable(4)
	tt.BeginDownsize(1)

	_, _, err := tt.Reserve(0, 0, 1, 100)
	require.NoError(t, err)
	require.NoError(t, tt.Complete(0)) // marks announced[0] = true

	tt.ObserveRequest(0, 1) // peerMaxSlotIDInUse(1) not < target(1): no truncate yet
	assert.Equal(t, uint32(4), tt.Capacity())

	tt.ObserveRequest(0, 0) // peerMaxSlotIDInUse(0) < target(1) and bit 0 announced: truncate
	assert.Equal(t, uint32(2), tt.Capacity())
}

func TestTargetTable_UpsizeIsImmediate(t *testing.T) {
	tt := NewTargetTable(2)
	tt.Upsize(8)
	assert.Equal(t, uint32(8), tt.Capacity())
}
