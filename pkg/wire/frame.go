package wire

import (
	"bytes"
	"fmt"
	"io"
)

// FrameKind is the 1-byte enum tag that opens every frame body.
type FrameKind uint8

const (
	FrameCommandRequest FrameKind = iota + 1
	FrameCommandResponse
	FrameTaskMgmtRequest
	FrameTaskMgmtResponse
	FramePingRequest
	FramePingResponse
	FrameLogoutRequest
	FrameLogoutResponse
	FrameLoginConnectRequest
	FrameLoginConnectResponse
	FrameLoginAuthenticateRequest
	FrameLoginAuthenticateResponse
	FrameLoginNegotiateRequest
	FrameLoginNegotiateResponse
)

func (k FrameKind) String() string {
	switch k {
	case FrameCommandRequest:
		return "CommandRequest"
	case FrameCommandResponse:
		return "CommandResponse"
	case FrameTaskMgmtRequest:
		return "TaskMgmtRequest"
	case FrameTaskMgmtResponse:
		return "TaskMgmtResponse"
	case FramePingRequest:
		return "PingRequest"
	case FramePingResponse:
		return "PingResponse"
	case FrameLogoutRequest:
		return "LogoutRequest"
	case FrameLogoutResponse:
		return "LogoutResponse"
	case FrameLoginConnectRequest:
		return "LoginConnectRequest"
	case FrameLoginConnectResponse:
		return "LoginConnectResponse"
	case FrameLoginAuthenticateRequest:
		return "LoginAuthenticateRequest"
	case FrameLoginAuthenticateResponse:
		return "LoginAuthenticateResponse"
	case FrameLoginNegotiateRequest:
		return "LoginNegotiateRequest"
	case FrameLoginNegotiateResponse:
		return "LoginNegotiateResponse"
	default:
		return fmt.Sprintf("FrameKind(%d)", uint8(k))
	}
}

// ExchangeHeader carries the fields present on every frame body per the
// wire format: the opaque ExchangeID and the channel's CommandSN /
// ExpectedCommandSN piggyback.
type ExchangeHeader struct {
	ExchangeID        uint64
	CommandSN         uint32
	ExpectedCommandSN uint32
}

func (h ExchangeHeader) encode(buf *bytes.Buffer) {
	var b [16]byte
	bigEndian.PutUint64(b[0:8], h.ExchangeID)
	bigEndian.PutUint32(b[8:12], h.CommandSN)
	bigEndian.PutUint32(b[12:16], h.ExpectedCommandSN)
	buf.Write(b[:])
}

func decodeExchangeHeader(r io.Reader) (ExchangeHeader, error) {
	var b [16]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return ExchangeHeader{}, fmt.Errorf("wire: exchange header: %w", err)
	}
	return ExchangeHeader{
		ExchangeID:        bigEndian.Uint64(b[0:8]),
		CommandSN:         bigEndian.Uint32(b[8:12]),
		ExpectedCommandSN: bigEndian.Uint32(b[12:16]),
	}, nil
}

// Body is implemented by every frame payload type.
type Body interface {
	Kind() FrameKind
	encode(buf *bytes.Buffer)
	decode(r io.Reader) error
}

// Frame is a fully decoded PDU: the exchange header plus a typed body.
// ForeChannel records which of the nexus's two channels originated the
// frame, per the bidirectional-dispatch design (§9): one transport set
// carries both fore- and back-channel traffic, routed by this flag.
type Frame struct {
	ForeChannel bool
	Exchange    ExchangeHeader
	Body        Body
}

// Encode serializes f as a complete PDU (header + frame kind tag + body)
// and appends it to buf.
func Encode(buf []byte, f Frame) ([]byte, error) {
	var body bytes.Buffer
	body.WriteByte(byte(f.Body.Kind()))
	f.Exchange.encode(&body)
	f.Body.encode(&body)

	total := HeaderSize + body.Len()
	if total > MaxPDULength {
		return nil, fmt.Errorf("wire: encoded frame %d bytes exceeds max PDU length %d", total, MaxPDULength)
	}
	h := Header{
		Type:        PDUVersioned,
		ForeChannel: f.ForeChannel,
		Major:       1,
		FrameOffset: HeaderSize,
		Length:      uint32(total),
	}
	buf = h.Encode(buf)
	buf = append(buf, body.Bytes()...)
	return buf, nil
}

// Decode reads one complete PDU (header + body) from r and returns the
// decoded Frame.
func Decode(r io.Reader) (Frame, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return Frame{}, err
	}
	if h.Length < HeaderSize {
		return Frame{}, fmt.Errorf("wire: PDU length %d shorter than header", h.Length)
	}
	body := make([]byte, h.Length-HeaderSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("wire: read body: %w", err)
	}
	f, err := decodeBody(bytes.NewReader(body))
	if err != nil {
		return Frame{}, err
	}
	f.ForeChannel = h.ForeChannel
	return f, nil
}

func decodeBody(r io.Reader) (Frame, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame kind: %w", err)
	}
	kind := FrameKind(tag[0])

	exch, err := decodeExchangeHeader(r)
	if err != nil {
		return Frame{}, err
	}

	body, err := newBody(kind)
	if err != nil {
		return Frame{}, err
	}
	if err := body.decode(r); err != nil {
		return Frame{}, fmt.Errorf("wire: decode %s body: %w", kind, err)
	}
	return Frame{Exchange: exch, Body: body}, nil
}

func newBody(kind FrameKind) (Body, error) {
	switch kind {
	case FrameCommandRequest:
		return &CommandRequest{}, nil
	case FrameCommandResponse:
		return &CommandResponse{}, nil
	case FrameTaskMgmtRequest:
		return &TaskMgmtRequest{}, nil
	case FrameTaskMgmtResponse:
		return &TaskMgmtResponse{}, nil
	case FramePingRequest:
		return &PingRequest{}, nil
	case FramePingResponse:
		return &PingResponse{}, nil
	case FrameLogoutRequest:
		return &LogoutRequest{}, nil
	case FrameLogoutResponse:
		return &LogoutResponse{}, nil
	case FrameLoginConnectRequest:
		return &LoginConnectRequest{}, nil
	case FrameLoginConnectResponse:
		return &LoginConnectResponse{}, nil
	case FrameLoginAuthenticateRequest:
		return &LoginAuthenticateRequest{}, nil
	case FrameLoginAuthenticateResponse:
		return &LoginAuthenticateResponse{}, nil
	case FrameLoginNegotiateRequest:
		return &LoginNegotiateRequest{}, nil
	case FrameLoginNegotiateResponse:
		return &LoginNegotiateResponse{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown frame kind %d", uint8(kind))
	}
}

// writeOpaque writes a length-prefixed byte string: [u32 length][bytes].
// Unlike XDR opaque data this carries no 4-byte alignment padding; DSP
// frames are not XDR-encoded.
func writeOpaque(buf *bytes.Buffer, data []byte) {
	var lb [4]byte
	bigEndian.PutUint32(lb[:], uint32(len(data)))
	buf.Write(lb[:])
	buf.Write(data)
}

func readOpaque(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := bigEndian.Uint32(lb[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeString(buf *bytes.Buffer, s string) { writeOpaque(buf, []byte(s)) }

func readString(r io.Reader) (string, error) {
	b, err := readOpaque(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	bigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return bigEndian.Uint32(b[:]), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	bigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return bigEndian.Uint64(b[:]), nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	bigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return bigEndian.Uint16(b[:]), nil
}
