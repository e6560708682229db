package wire

import (
	"bytes"
	"io"
)

// CommandRequest carries a service request bound for a specific slot.
type CommandRequest struct {
	SlotID         uint32
	SlotSN         uint32
	MaxSlotIDInUse uint32
	Payload        []byte
}

func (b *CommandRequest) Kind() FrameKind { return FrameCommandRequest }

func (b *CommandRequest) encode(buf *bytes.Buffer) {
	writeUint32(buf, b.SlotID)
	writeUint32(buf, b.SlotSN)
	writeUint32(buf, b.MaxSlotIDInUse)
	writeOpaque(buf, b.Payload)
}

func (b *CommandRequest) decode(r io.Reader) (err error) {
	if b.SlotID, err = readUint32(r); err != nil {
		return err
	}
	if b.SlotSN, err = readUint32(r); err != nil {
		return err
	}
	if b.MaxSlotIDInUse, err = readUint32(r); err != nil {
		return err
	}
	b.Payload, err = readOpaque(r)
	return err
}

// CommandResponse carries either the application's reply payload (Status
// == StatusOK) or an error status with a descriptive message.
//
// CurrentMaxSlotID and TargetMaxSlotID are stamped on every response so
// the peer can track flow control (spec §4.7, "Response side effects").
type CommandResponse struct {
	SlotID           uint32
	SlotSN           uint32
	Status           uint16
	Message          string
	Payload          []byte
	CurrentMaxSlotID uint32
	TargetMaxSlotID  uint32
}

// StatusOK marks a CommandResponse/TaskMgmtResponse/LoginResponse as
// carrying a successful outcome; any other value is a taxonomy-specific
// failure code interpreted by the session layer.
const StatusOK uint16 = 0

func (b *CommandResponse) Kind() FrameKind { return FrameCommandResponse }

func (b *CommandResponse) encode(buf *bytes.Buffer) {
	writeUint32(buf, b.SlotID)
	writeUint32(buf, b.SlotSN)
	writeUint16(buf, b.Status)
	writeString(buf, b.Message)
	writeOpaque(buf, b.Payload)
	writeUint32(buf, b.CurrentMaxSlotID)
	writeUint32(buf, b.TargetMaxSlotID)
}

func (b *CommandResponse) decode(r io.Reader) (err error) {
	if b.SlotID, err = readUint32(r); err != nil {
		return err
	}
	if b.SlotSN, err = readUint32(r); err != nil {
		return err
	}
	if b.Status, err = readUint16(r); err != nil {
		return err
	}
	if b.Message, err = readString(r); err != nil {
		return err
	}
	if b.Payload, err = readOpaque(r); err != nil {
		return err
	}
	if b.CurrentMaxSlotID, err = readUint32(r); err != nil {
		return err
	}
	b.TargetMaxSlotID, err = readUint32(r)
	return err
}

// TaskMgmtRequest requests abort of a previously submitted command,
// identified by the quadruple that uniquely names it on the target.
type TaskMgmtRequest struct {
	TargetExchangeID uint64
	TargetCommandSN  uint32
	TargetSlotID     uint32
	TargetSlotSN     uint32
}

func (b *TaskMgmtRequest) Kind() FrameKind { return FrameTaskMgmtRequest }

func (b *TaskMgmtRequest) encode(buf *bytes.Buffer) {
	writeUint64(buf, b.TargetExchangeID)
	writeUint32(buf, b.TargetCommandSN)
	writeUint32(buf, b.TargetSlotID)
	writeUint32(buf, b.TargetSlotSN)
}

func (b *TaskMgmtRequest) decode(r io.Reader) (err error) {
	if b.TargetExchangeID, err = readUint64(r); err != nil {
		return err
	}
	if b.TargetCommandSN, err = readUint32(r); err != nil {
		return err
	}
	if b.TargetSlotID, err = readUint32(r); err != nil {
		return err
	}
	b.TargetSlotSN, err = readUint32(r)
	return err
}

// TaskMgmtResponse carries one of the TaskMgmtStatus outcomes.
type TaskMgmtResponse struct {
	Status uint16
}

func (b *TaskMgmtResponse) Kind() FrameKind { return FrameTaskMgmtResponse }

func (b *TaskMgmtResponse) encode(buf *bytes.Buffer) { writeUint16(buf, b.Status) }

func (b *TaskMgmtResponse) decode(r io.Reader) (err error) {
	b.Status, err = readUint16(r)
	return err
}

// PingRequest carries no content; it exists solely to refresh the sibling
// channel's latest-CommandSN and, on the target, to unblock back-channel
// reads on first arrival.
type PingRequest struct{}

func (b *PingRequest) Kind() FrameKind      { return FramePingRequest }
func (b *PingRequest) encode(*bytes.Buffer) {}
func (b *PingRequest) decode(io.Reader) error { return nil }

// PingResponse carries no content.
type PingResponse struct{}

func (b *PingResponse) Kind() FrameKind      { return FramePingResponse }
func (b *PingResponse) encode(*bytes.Buffer) {}
func (b *PingResponse) decode(io.Reader) error { return nil }

// LogoutRequest carries no content.
type LogoutRequest struct{}

func (b *LogoutRequest) Kind() FrameKind      { return FrameLogoutRequest }
func (b *LogoutRequest) encode(*bytes.Buffer) {}
func (b *LogoutRequest) decode(io.Reader) error { return nil }

// LogoutResponse carries no content.
type LogoutResponse struct{}

func (b *LogoutResponse) Kind() FrameKind      { return FrameLogoutResponse }
func (b *LogoutResponse) encode(*bytes.Buffer) {}
func (b *LogoutResponse) decode(io.Reader) error { return nil }

// TerminusKind distinguishes the two session terminus encodings.
type TerminusKind uint8

const (
	TerminusServiceName TerminusKind = 0
	TerminusServiceUUID TerminusKind = 1
)

// LoginConnectRequest opens a transport against a client terminus, the
// first phase of the per-transport login sequence
// (Connect -> Authenticate -> Negotiate).
type LoginConnectRequest struct {
	TerminusKind TerminusKind
	Alias        string
	Ephemeral    bool
	UUID         [16]byte // valid iff TerminusKind == TerminusServiceUUID
}

func (b *LoginConnectRequest) Kind() FrameKind { return FrameLoginConnectRequest }

func (b *LoginConnectRequest) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(b.TerminusKind))
	writeString(buf, b.Alias)
	writeBool(buf, b.Ephemeral)
	if b.TerminusKind == TerminusServiceUUID {
		buf.Write(b.UUID[:])
	}
}

func (b *LoginConnectRequest) decode(r io.Reader) error {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return err
	}
	b.TerminusKind = TerminusKind(tag[0])
	alias, err := readString(r)
	if err != nil {
		return err
	}
	b.Alias = alias
	eph, err := readBool(r)
	if err != nil {
		return err
	}
	b.Ephemeral = eph
	if b.TerminusKind == TerminusServiceUUID {
		if _, err := io.ReadFull(r, b.UUID[:]); err != nil {
			return err
		}
	}
	return nil
}

// LoginConnectResponse reports whether the target accepted the Connect
// phase and, on success, the session handle assigned or reused.
type LoginConnectResponse struct {
	Status        uint16
	SessionHandle []byte
}

func (b *LoginConnectResponse) Kind() FrameKind { return FrameLoginConnectResponse }

func (b *LoginConnectResponse) encode(buf *bytes.Buffer) {
	writeUint16(buf, b.Status)
	writeOpaque(buf, b.SessionHandle)
}

func (b *LoginConnectResponse) decode(r io.Reader) (err error) {
	if b.Status, err = readUint16(r); err != nil {
		return err
	}
	b.SessionHandle, err = readOpaque(r)
	return err
}

// LoginAuthenticateRequest carries one round of a (possibly multi-round)
// SASL exchange.
type LoginAuthenticateRequest struct {
	Mechanism string
	Data      []byte
}

func (b *LoginAuthenticateRequest) Kind() FrameKind { return FrameLoginAuthenticateRequest }

func (b *LoginAuthenticateRequest) encode(buf *bytes.Buffer) {
	writeString(buf, b.Mechanism)
	writeOpaque(buf, b.Data)
}

func (b *LoginAuthenticateRequest) decode(r io.Reader) (err error) {
	if b.Mechanism, err = readString(r); err != nil {
		return err
	}
	b.Data, err = readOpaque(r)
	return err
}

// LoginAuthenticateResponse carries the SASL continuation data, or the
// final status once Complete is set.
type LoginAuthenticateResponse struct {
	Status   uint16
	Data     []byte
	Complete bool
}

func (b *LoginAuthenticateResponse) Kind() FrameKind { return FrameLoginAuthenticateResponse }

func (b *LoginAuthenticateResponse) encode(buf *bytes.Buffer) {
	writeUint16(buf, b.Status)
	writeOpaque(buf, b.Data)
	writeBool(buf, b.Complete)
}

func (b *LoginAuthenticateResponse) decode(r io.Reader) (err error) {
	if b.Status, err = readUint16(r); err != nil {
		return err
	}
	if b.Data, err = readOpaque(r); err != nil {
		return err
	}
	b.Complete, err = readBool(r)
	return err
}

// LoginNegotiateRequest carries this side's option proposal string,
// `name=value;name=value;...`.
type LoginNegotiateRequest struct {
	Proposal string
}

func (b *LoginNegotiateRequest) Kind() FrameKind { return FrameLoginNegotiateRequest }

func (b *LoginNegotiateRequest) encode(buf *bytes.Buffer) { writeString(buf, b.Proposal) }

func (b *LoginNegotiateRequest) decode(r io.Reader) (err error) {
	b.Proposal, err = readString(r)
	return err
}

// LoginNegotiateResponse carries the negotiated result string once both
// proposals have been reconciled.
type LoginNegotiateResponse struct {
	Status uint16
	Result string
}

func (b *LoginNegotiateResponse) Kind() FrameKind { return FrameLoginNegotiateResponse }

func (b *LoginNegotiateResponse) encode(buf *bytes.Buffer) {
	writeUint16(buf, b.Status)
	writeString(buf, b.Result)
}

func (b *LoginNegotiateResponse) decode(r io.Reader) (err error) {
	if b.Status, err = readUint16(r); err != nil {
		return err
	}
	b.Result, err = readString(r)
	return err
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}
