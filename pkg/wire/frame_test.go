package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	encoded, err := Encode(nil, f)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(encoded))
	require.NoError(t, err)
	return decoded
}

func TestEncodeDecode_CommandRequest(t *testing.T) {
	f := Frame{
		Exchange: ExchangeHeader{ExchangeID: 42, CommandSN: 7, ExpectedCommandSN: 3},
		Body: &CommandRequest{
			SlotID:         2,
			SlotSN:         9,
			MaxSlotIDInUse: 5,
			Payload:        []byte("hello world"),
		},
	}
	got := roundTrip(t, f)
	assert.Equal(t, f.Exchange, got.Exchange)
	assert.Equal(t, f.Body, got.Body)
	assert.Equal(t, FrameCommandRequest, got.Body.Kind())
}

func TestEncodeDecode_CommandResponse(t *testing.T) {
	f := Frame{
		Exchange: ExchangeHeader{ExchangeID: 1, CommandSN: 1, ExpectedCommandSN: 2},
		Body: &CommandResponse{
			SlotID:  0,
			SlotSN:  1,
			Status:  StatusOK,
			Payload: []byte{1, 2, 3, 4},
		},
	}
	got := roundTrip(t, f)
	assert.Equal(t, f.Body, got.Body)
}

func TestEncodeDecode_TaskMgmt(t *testing.T) {
	req := Frame{
		Exchange: ExchangeHeader{ExchangeID: 99},
		Body: &TaskMgmtRequest{
			TargetExchangeID: 42,
			TargetCommandSN:  7,
			TargetSlotID:     2,
			TargetSlotSN:     9,
		},
	}
	gotReq := roundTrip(t, req)
	assert.Equal(t, req.Body, gotReq.Body)

	resp := Frame{Body: &TaskMgmtResponse{Status: 3}}
	gotResp := roundTrip(t, resp)
	assert.Equal(t, resp.Body, gotResp.Body)
}

func TestEncodeDecode_PingLogout(t *testing.T) {
	for _, body := range []Body{&PingRequest{}, &PingResponse{}, &LogoutRequest{}, &LogoutResponse{}} {
		got := roundTrip(t, Frame{Body: body})
		assert.Equal(t, body.Kind(), got.Body.Kind())
	}
}

func TestEncodeDecode_LoginConnect(t *testing.T) {
	req := Frame{Body: &LoginConnectRequest{
		TerminusKind: TerminusServiceUUID,
		Alias:        "initiator-1",
		Ephemeral:    true,
		UUID:         [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}}
	got := roundTrip(t, req)
	assert.Equal(t, req.Body, got.Body)

	resp := Frame{Body: &LoginConnectResponse{Status: StatusOK, SessionHandle: []byte("handle")}}
	gotResp := roundTrip(t, resp)
	assert.Equal(t, resp.Body, gotResp.Body)
}

func TestEncodeDecode_LoginAuthenticate(t *testing.T) {
	req := Frame{Body: &LoginAuthenticateRequest{Mechanism: "SCRAM-SHA-256", Data: []byte("c=biws")}}
	got := roundTrip(t, req)
	assert.Equal(t, req.Body, got.Body)

	resp := Frame{Body: &LoginAuthenticateResponse{Status: StatusOK, Data: []byte("v=ok"), Complete: true}}
	gotResp := roundTrip(t, resp)
	assert.Equal(t, resp.Body, gotResp.Body)
}

func TestEncodeDecode_LoginNegotiate(t *testing.T) {
	req := Frame{Body: &LoginNegotiateRequest{Proposal: "queueDepth=32;orderedExecution=true"}}
	got := roundTrip(t, req)
	assert.Equal(t, req.Body, got.Body)

	resp := Frame{Body: &LoginNegotiateResponse{Status: StatusOK, Result: "queueDepth=32"}}
	gotResp := roundTrip(t, resp)
	assert.Equal(t, resp.Body, gotResp.Body)
}

func TestDecodeHeader_BadMagic(t *testing.T) {
	bad := []byte{'X', 'S', 'P', 0, 1, 0, 0, 0, 12, 0, 0, 12}
	_, err := DecodeHeader(bytes.NewReader(bad))
	assert.Error(t, err)
}

func TestDecode_UnknownFrameKind(t *testing.T) {
	f := Frame{Body: &PingRequest{}}
	encoded, err := Encode(nil, f)
	require.NoError(t, err)
	// Corrupt the frame-kind tag byte, immediately after the 12-byte header.
	encoded[HeaderSize] = 0xFF
	_, err = Decode(bytes.NewReader(encoded))
	assert.Error(t, err)
}
