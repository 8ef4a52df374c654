package reliability

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kc0wav/meshttp/packet"
)

// DefaultRetries is how many times a fragment is retransmitted before
// RetriesExhausted is raised to the upper layer.
const DefaultRetries = 3

// BackoffBase and BackoffCap bound the exponential retry backoff:
// 200ms, 400ms, 800ms, ... capped at 2s.
const (
	BackoffBase = 200 * time.Millisecond
	BackoffCap  = 2 * time.Second
)

// ErrRetriesExhausted is the only transport-layer error the upper
// layer ever sees for a lost fragment; everything before it is an
// internal retry, not a fault.
var ErrRetriesExhausted = errors.New("reliability: retries exhausted")

// Backoff returns the delay before the (1-indexed) attempt-th retry.
func Backoff(attempt int) time.Duration {
	d := BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > BackoffCap {
			return BackoffCap
		}
	}
	if d > BackoffCap {
		d = BackoffCap
	}
	return d
}

// EncodeAck builds the payload of a TypeAck control frame: id(8) ||
// sequence(2 LE).
func EncodeAck(id packet.ID, sequence uint16) []byte {
	buf := make([]byte, 10)
	copy(buf[:8], id[:])
	binary.LittleEndian.PutUint16(buf[8:10], sequence)
	return buf
}

// DecodeAck parses a TypeAck payload.
func DecodeAck(payload []byte) (packet.ID, uint16, error) {
	if len(payload) != 10 {
		return packet.ID{}, 0, fmt.Errorf("reliability: malformed ack payload, want 10 bytes got %d", len(payload))
	}
	var id packet.ID
	copy(id[:], payload[:8])
	seq := binary.LittleEndian.Uint16(payload[8:10])
	return id, seq, nil
}

// Sequencer hands out a dense, monotonically increasing u16 sequence
// number per originator. Wrapping at 65536 is intentional: the
// protocol only needs sequence numbers to be dense and unique within
// one in-flight reassembly window, not globally unique forever.
type Sequencer struct {
	mu   sync.Mutex
	next uint16
}

// Next returns the next sequence number and advances the counter.
func (s *Sequencer) Next() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.next
	s.next++
	return v
}

type ackKey struct {
	id  packet.ID
	seq uint16
}

// Transport is the minimal capability AckWaiter needs from whatever
// lower layer actually puts bytes on the air.
type Transport interface {
	SendFragment(ctx context.Context, frag *packet.Packet) error
}

// AckWaiter drives the send-wait-retry loop for one fragment at a
// time; the reliability task owns one AckWaiter and feeds it inbound
// acks via NotifyAck as they're read off the wire.
type AckWaiter struct {
	transport Transport
	retries   int

	mu      sync.Mutex
	pending map[ackKey]chan struct{}
}

// NewAckWaiter builds an AckWaiter over transport, retrying up to
// retries times (falling back to DefaultRetries if non-positive).
func NewAckWaiter(transport Transport, retries int) *AckWaiter {
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &AckWaiter{
		transport: transport,
		retries:   retries,
		pending:   make(map[ackKey]chan struct{}),
	}
}

// NotifyAck is called by the RX path when an ack frame arrives; it
// wakes up any SendReliable call waiting on that (id, sequence).
func (a *AckWaiter) NotifyAck(id packet.ID, seq uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := ackKey{id, seq}
	if ch, ok := a.pending[key]; ok {
		close(ch)
		delete(a.pending, key)
	}
}

// SendReliable transmits frag, waiting Backoff(attempt) for its ack
// after each send and retrying with that exponential backoff; ctx
// cancellation aborts the wait. It returns ErrRetriesExhausted if
// every attempt goes unacknowledged.
func (a *AckWaiter) SendReliable(ctx context.Context, frag *packet.Packet) error {
	key := ackKey{frag.ID, frag.Sequence}

	a.mu.Lock()
	ch := make(chan struct{})
	a.pending[key] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}()

	for attempt := 1; attempt <= a.retries; attempt++ {
		if err := a.transport.SendFragment(ctx, frag); err != nil {
			return fmt.Errorf("reliability: sending fragment: %w", err)
		}

		timer := time.NewTimer(Backoff(attempt))
		select {
		case <-ch:
			timer.Stop()
			return nil
		case <-timer.C:
			// Retry.
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		// No ack arrived within this attempt's backoff; install a
		// fresh channel for the next attempt.
		a.mu.Lock()
		ch = make(chan struct{})
		a.pending[key] = ch
		a.mu.Unlock()
	}
	return ErrRetriesExhausted
}
