// Package wire implements the DSP on-the-wire PDU format: the 12-byte fixed
// header, frame bodies, option-string negotiation, and the optional
// digest/compression codec layers.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed size, in bytes, of every PDU header.
const HeaderSize = 12

// magic is the 3-byte literal that opens every PDU header.
var magic = [3]byte{'D', 'S', 'P'}

// PDUType distinguishes the unversioned Connect PDU (exchanged before a
// version has been agreed) from ordinary Versioned PDUs.
type PDUType uint8

const (
	PDUConnect   PDUType = 0
	PDUVersioned PDUType = 1
)

// MaxPDULength is the largest value representable in the 24-bit PDU length
// field, including the header itself.
const MaxPDULength = 1<<24 - 1

// Header is the 12-byte fixed preamble of every PDU.
//
//	Byte 0..2  : 'D' 'S' 'P'
//	Byte 3     : bit 0 = ForeChannel, bits 1..7 reserved (0)
//	Byte 4     : PDU type (0 = Connect, 1 = Versioned)
//	Byte 5..7  : major, minor, revision (reserved in Connect PDU)
//	Byte 8     : frame offset (header length for this PDU)
//	Byte 9..11 : PDU length (big-endian 24-bit, including header)
type Header struct {
	Type           PDUType
	ForeChannel    bool
	Major          uint8
	Minor          uint8
	Revision       uint8
	FrameOffset    uint8
	Length         uint32 // 24-bit; high byte always zero
}

// Encode appends the 12-byte wire form of h to buf and returns it.
func (h Header) Encode(buf []byte) []byte {
	var b [HeaderSize]byte
	b[0], b[1], b[2] = magic[0], magic[1], magic[2]
	if h.ForeChannel {
		b[3] = 1
	}
	b[4] = byte(h.Type)
	b[5] = h.Major
	b[6] = h.Minor
	b[7] = h.Revision
	b[8] = h.FrameOffset
	putUint24(b[9:12], h.Length)
	return append(buf, b[:]...)
}

// DecodeHeader reads a 12-byte header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, err
	}
	if b[0] != magic[0] || b[1] != magic[1] || b[2] != magic[2] {
		return Header{}, fmt.Errorf("wire: bad magic %q", b[0:3])
	}
	h := Header{
		Type:        PDUType(b[4]),
		ForeChannel: b[3]&0x1 != 0,
		Major:       b[5],
		Minor:       b[6],
		Revision:    b[7],
		FrameOffset: b[8],
		Length:      getUint24(b[9:12]),
	}
	return h, nil
}

func putUint24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// bigEndian is used throughout the package for the 8/4-byte exchange
// header fields and codec lengths.
var bigEndian = binary.BigEndian
