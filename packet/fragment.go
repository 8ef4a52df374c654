package packet

import "fmt"

// DefaultMaxFrameSize is the default maximum on-wire frame size
// (header + payload) before a logical message must be fragmented.
const DefaultMaxFrameSize = 256

// MaxMessageSize is the largest logical message this codec will ever
// fragment or reassemble.
const MaxMessageSize = 65535

// ErrMessageTooLarge is returned by Fragment when the message exceeds
// MaxMessageSize.
var ErrMessageTooLarge = fmt.Errorf("packet: message exceeds %d bytes", MaxMessageSize)

// Fragment splits payload into a sequence of Packets sharing id, all
// carrying the FlagFragmented bit, with the final one also carrying
// FlagLastFragment. If payload already fits in one frame (header +
// len(payload) <= maxFrameSize), a single, non-fragmented Packet is
// returned.
func Fragment(typ Type, id ID, baseFlags Flags, payload []byte, maxFrameSize int) ([]*Packet, error) {
	if len(payload) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	if maxFrameSize <= HeaderLen {
		maxFrameSize = DefaultMaxFrameSize
	}
	maxPayload := maxFrameSize - HeaderLen

	if HeaderLen+len(payload) <= maxFrameSize {
		return []*Packet{{
			Version: Version,
			Type:    typ,
			ID:      id,
			Flags:   baseFlags,
			Payload: payload,
		}}, nil
	}

	var frags []*Packet
	var seq uint16
	for off := 0; off < len(payload); off += maxPayload {
		end := off + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		flags := baseFlags | FlagFragmented
		if end == len(payload) {
			flags |= FlagLastFragment
		}
		frags = append(frags, &Packet{
			Version:  Version,
			Type:     typ,
			ID:       id,
			Sequence: seq,
			Flags:    flags,
			Payload:  append([]byte(nil), payload[off:end]...),
		})
		seq++
	}
	return frags, nil
}
