package mesh

import (
	"encoding/binary"
	"fmt"
)

// DefaultTTL is the hop limit (D_max) a fresh RREQ starts with.
const DefaultTTL = 8

// RREQ is a route request, broadcast when a node has no valid route to
// Destination.
type RREQ struct {
	Originator    Callsign
	Destination   Callsign
	OriginatorSeq uint32
	BroadcastID   uint32
	HopCount      uint8
	TTL           uint8
}

// RREP is a route reply, unicast back along the reverse route once the
// destination (or a node with a fresh route to it) is reached.
type RREP struct {
	Originator     Callsign
	Destination    Callsign
	DestinationSeq uint32
	HopCount       uint8
}

// RERR lists destinations that just became unreachable via a failed
// link, so upstream nodes can invalidate and propagate.
type RERR struct {
	Unreachable []Callsign
}

// DataRelay wraps an application payload for multi-hop forwarding.
type DataRelay struct {
	Source      Callsign
	Destination Callsign
	HopCount    uint8
	TTL         uint8
	Payload     []byte
}

func putCallsign(buf []byte, c Callsign) []byte {
	buf = append(buf, byte(len(c)))
	buf = append(buf, []byte(c)...)
	return buf
}

func getCallsign(buf []byte) (Callsign, []byte, error) {
	if len(buf) < 1 {
		return "", nil, fmt.Errorf("mesh: truncated callsign length")
	}
	n := int(buf[0])
	buf = buf[1:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("mesh: truncated callsign body")
	}
	return Callsign(buf[:n]), buf[n:], nil
}

// EncodeRREQ serializes r to bytes for a TypeRREQ packet payload.
func EncodeRREQ(r RREQ) []byte {
	buf := make([]byte, 0, 32)
	buf = putCallsign(buf, r.Originator)
	buf = putCallsign(buf, r.Destination)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], r.OriginatorSeq)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], r.BroadcastID)
	buf = append(buf, tmp[:]...)
	buf = append(buf, r.HopCount, r.TTL)
	return buf
}

// DecodeRREQ parses a TypeRREQ payload.
func DecodeRREQ(buf []byte) (RREQ, error) {
	var r RREQ
	var err error
	r.Originator, buf, err = getCallsign(buf)
	if err != nil {
		return r, err
	}
	r.Destination, buf, err = getCallsign(buf)
	if err != nil {
		return r, err
	}
	if len(buf) < 10 {
		return r, fmt.Errorf("mesh: truncated rreq tail")
	}
	r.OriginatorSeq = binary.LittleEndian.Uint32(buf[0:4])
	r.BroadcastID = binary.LittleEndian.Uint32(buf[4:8])
	r.HopCount = buf[8]
	r.TTL = buf[9]
	return r, nil
}

// EncodeRREP serializes r for a TypeRREP packet payload.
func EncodeRREP(r RREP) []byte {
	buf := make([]byte, 0, 24)
	buf = putCallsign(buf, r.Originator)
	buf = putCallsign(buf, r.Destination)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], r.DestinationSeq)
	buf = append(buf, tmp[:]...)
	buf = append(buf, r.HopCount)
	return buf
}

// DecodeRREP parses a TypeRREP payload.
func DecodeRREP(buf []byte) (RREP, error) {
	var r RREP
	var err error
	r.Originator, buf, err = getCallsign(buf)
	if err != nil {
		return r, err
	}
	r.Destination, buf, err = getCallsign(buf)
	if err != nil {
		return r, err
	}
	if len(buf) < 5 {
		return r, fmt.Errorf("mesh: truncated rrep tail")
	}
	r.DestinationSeq = binary.LittleEndian.Uint32(buf[0:4])
	r.HopCount = buf[4]
	return r, nil
}

// EncodeRERR serializes r for a TypeRERR packet payload.
func EncodeRERR(r RERR) []byte {
	buf := []byte{byte(len(r.Unreachable))}
	for _, c := range r.Unreachable {
		buf = putCallsign(buf, c)
	}
	return buf
}

// DecodeRERR parses a TypeRERR payload.
func DecodeRERR(buf []byte) (RERR, error) {
	if len(buf) < 1 {
		return RERR{}, fmt.Errorf("mesh: truncated rerr")
	}
	n := int(buf[0])
	buf = buf[1:]
	r := RERR{Unreachable: make([]Callsign, 0, n)}
	for i := 0; i < n; i++ {
		var c Callsign
		var err error
		c, buf, err = getCallsign(buf)
		if err != nil {
			return r, err
		}
		r.Unreachable = append(r.Unreachable, c)
	}
	return r, nil
}

// EncodeDataRelay serializes d for a TypeDataRelay packet payload.
func EncodeDataRelay(d DataRelay) []byte {
	buf := make([]byte, 0, 32+len(d.Payload))
	buf = putCallsign(buf, d.Source)
	buf = putCallsign(buf, d.Destination)
	buf = append(buf, d.HopCount, d.TTL)
	buf = append(buf, d.Payload...)
	return buf
}

// DecodeDataRelay parses a TypeDataRelay payload.
func DecodeDataRelay(buf []byte) (DataRelay, error) {
	var d DataRelay
	var err error
	d.Source, buf, err = getCallsign(buf)
	if err != nil {
		return d, err
	}
	d.Destination, buf, err = getCallsign(buf)
	if err != nil {
		return d, err
	}
	if len(buf) < 2 {
		return d, fmt.Errorf("mesh: truncated data-relay tail")
	}
	d.HopCount = buf[0]
	d.TTL = buf[1]
	d.Payload = append([]byte(nil), buf[2:]...)
	return d, nil
}
