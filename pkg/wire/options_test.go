package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpecs = []Spec{
	{Name: "queueDepth", Rule: RuleMin},
	{Name: "maxFrame", Rule: RuleMin},
	{Name: "orderedExecution", Rule: RuleAnd},
	{Name: "digestData", Rule: RuleOr},
	{Name: "digest", Rule: RuleStringList},
	{Name: "compress", Rule: RuleStringList},
}

func TestParseEncodeProposal_RoundTrip(t *testing.T) {
	s := "queueDepth=32;orderedExecution=true;digest=CRC32,ADLER32"
	pairs, err := ParseProposal(s)
	require.NoError(t, err)
	assert.Equal(t, s, EncodeProposal(pairs))
}

func TestNegotiate_Min(t *testing.T) {
	result, err := Negotiate(testSpecs, "queueDepth=64", "queueDepth=32")
	require.NoError(t, err)
	assert.Equal(t, "queueDepth=32", EncodeProposal(result))
}

func TestNegotiate_And(t *testing.T) {
	result, err := Negotiate(testSpecs, "orderedExecution=true", "orderedExecution=false")
	require.NoError(t, err)
	assert.Equal(t, "orderedExecution=false", EncodeProposal(result))
}

func TestNegotiate_Or(t *testing.T) {
	result, err := Negotiate(testSpecs, "digestData=false", "digestData=true")
	require.NoError(t, err)
	assert.Equal(t, "digestData=true", EncodeProposal(result))
}

func TestNegotiate_StringListPreservesLocalOrder(t *testing.T) {
	result, err := Negotiate(testSpecs, "digest=CRC32,ADLER32", "digest=ADLER32,CRC32")
	require.NoError(t, err)
	assert.Equal(t, "digest=CRC32,ADLER32", EncodeProposal(result))
}

func TestNegotiate_StringListNoOverlap(t *testing.T) {
	result, err := Negotiate(testSpecs, "compress=LZ4", "compress=GZIP")
	require.NoError(t, err)
	assert.Equal(t, "compress=", EncodeProposal(result))
}

func TestNegotiate_LocalTagPassesThroughUnreconciled(t *testing.T) {
	result, err := Negotiate(testSpecs, "clientAlias.local=initiator-1", "clientAlias.local=target-1")
	require.NoError(t, err)
	assert.Equal(t, "clientAlias.local=initiator-1", EncodeProposal(result))
}

func TestNegotiate_UnknownOptionErrors(t *testing.T) {
	_, err := Negotiate(testSpecs, "bogus=1", "bogus=1")
	assert.Error(t, err)
}

func TestNegotiate_LocalOnlyPropagatesWhenPeerSilent(t *testing.T) {
	result, err := Negotiate(testSpecs, "queueDepth=32", "")
	require.NoError(t, err)
	assert.Equal(t, "queueDepth=32", EncodeProposal(result))
}
