// Package packet implements the binary on-wire packet format: the
// 16-byte header, packet types and flags, and the codec between a
// logical Packet and the bytes that go to the modem.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the fixed on-wire header size. Invariant: every
// serialized packet's header is exactly this many bytes.
const HeaderLen = 16

// Version is the protocol version this codec speaks.
const Version uint8 = 1

// Type identifies the kind of frame a Packet carries.
type Type uint8

const (
	TypeRequest   Type = 0x01
	TypeResponse  Type = 0x02
	TypeDelta     Type = 0x03
	TypeStream    Type = 0x04
	TypeSchema    Type = 0x05
	TypeRREQ      Type = 0x10
	TypeRREP      Type = 0x11
	TypeRERR      Type = 0x12
	TypeDataRelay Type = 0x13
	TypeAck       Type = 0x20
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeDelta:
		return "delta"
	case TypeStream:
		return "stream"
	case TypeSchema:
		return "schema"
	case TypeRREQ:
		return "rreq"
	case TypeRREP:
		return "rrep"
	case TypeRERR:
		return "rerr"
	case TypeDataRelay:
		return "data-relay"
	case TypeAck:
		return "ack"
	default:
		return fmt.Sprintf("type(0x%02x)", uint8(t))
	}
}

// Flags is the header bitfield. The "encrypted" bit is reserved: the
// operating regime forbids payload encryption, so this codec never
// sets it and never inspects it.
type Flags uint8

const (
	FlagCompressed     Flags = 0x01
	FlagEncrypted      Flags = 0x02 // reserved, unused
	FlagFragmented     Flags = 0x04
	FlagLastFragment   Flags = 0x08
	FlagDeltaUpdate    Flags = 0x10
	FlagProtobufEncode Flags = 0x20

	// fragmentMask is every flag bit that is NOT permitted to vary
	// across fragments of the same logical packet.
	fragmentMask = ^(FlagFragmented | FlagLastFragment)
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ID is the 8-byte opaque packet identifier shared by every fragment
// of one logical message.
type ID [8]byte

func (id ID) String() string {
	return fmt.Sprintf("%x", [8]byte(id))
}

// Packet is the decoded, in-memory form of one on-wire frame.
type Packet struct {
	Version       uint8
	Type          Type
	ID            ID
	Sequence      uint16
	Flags         Flags
	Payload       []byte
	reservedByte  uint8 // round-tripped but otherwise unused
}

var (
	// ErrTruncated is returned when fewer bytes are available than the
	// header, or than payload_length, requires.
	ErrTruncated = errors.New("packet: truncated frame")
	// ErrMalformedHeader covers header fields that are internally
	// inconsistent (e.g. declared version not supported).
	ErrMalformedHeader = errors.New("packet: malformed header")
)

// Encode serializes p as header || payload. payload_length is set to
// len(p.Payload) exactly, satisfying the header-exactness invariant.
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	buf[0] = p.Version
	buf[1] = uint8(p.Type)
	copy(buf[2:10], p.ID[:])
	binary.LittleEndian.PutUint16(buf[10:12], p.Sequence)
	buf[12] = uint8(p.Flags)
	binary.LittleEndian.PutUint16(buf[13:15], uint16(len(p.Payload)))
	buf[15] = p.reservedByte
	copy(buf[HeaderLen:], p.Payload)
	return buf
}

// Decode parses one on-wire frame from buf. It returns the consumed
// byte count alongside the packet, so callers reading a stream (rather
// than a framed datagram) can advance past exactly one frame.
func Decode(buf []byte) (*Packet, int, error) {
	if len(buf) < HeaderLen {
		return nil, 0, ErrTruncated
	}
	p := &Packet{
		Version:  buf[0],
		Type:     Type(buf[1]),
		Sequence: binary.LittleEndian.Uint16(buf[10:12]),
		Flags:    Flags(buf[12]),
	}
	copy(p.ID[:], buf[2:10])
	payloadLen := int(binary.LittleEndian.Uint16(buf[13:15]))
	p.reservedByte = buf[15]

	if len(buf) < HeaderLen+payloadLen {
		return nil, 0, ErrTruncated
	}
	p.Payload = append([]byte(nil), buf[HeaderLen:HeaderLen+payloadLen]...)
	return p, HeaderLen + payloadLen, nil
}

// SameLogicalMessage reports whether a and b could be two fragments of
// the same logical packet: same id, type, originator-significant
// flags (everything except fragmented/last_fragment).
func SameLogicalMessage(a, b *Packet) bool {
	return a.ID == b.ID && a.Type == b.Type && (a.Flags&fragmentMask) == (b.Flags&fragmentMask)
}
