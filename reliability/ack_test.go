package reliability

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kc0wav/meshttp/packet"
)

type countingTransport struct {
	sends int32
}

func (c *countingTransport) SendFragment(ctx context.Context, frag *packet.Packet) error {
	atomic.AddInt32(&c.sends, 1)
	return nil
}

// TestRetryAndGiveUp asserts that with acks dropped, a 1-fragment send
// retries 3 times at 200/400/800ms then gives up.
func TestRetryAndGiveUp(t *testing.T) {
	ct := &countingTransport{}
	w := NewAckWaiter(ct, 3)

	frag := &packet.Packet{ID: packet.NewID(), Sequence: 0}

	start := time.Now()
	err := w.SendReliable(context.Background(), frag)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 3, atomic.LoadInt32(&ct.sends))
	// 200 + 400 + 800 = 1400ms of backoff before giving up.
	assert.GreaterOrEqual(t, elapsed, 1400*time.Millisecond)
}

func TestAckArrivesBeforeRetry(t *testing.T) {
	ct := &countingTransport{}
	w := NewAckWaiter(ct, 3)
	frag := &packet.Packet{ID: packet.NewID(), Sequence: 5}

	done := make(chan error, 1)
	go func() {
		done <- w.SendReliable(context.Background(), frag)
	}()

	time.Sleep(20 * time.Millisecond)
	w.NotifyAck(frag.ID, frag.Sequence)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SendReliable did not return after ack")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&ct.sends))
}

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, BackoffBase, Backoff(1))
	assert.Equal(t, 2*BackoffBase, Backoff(2))
	assert.Equal(t, 4*BackoffBase, Backoff(3))
	assert.Equal(t, BackoffCap, Backoff(10))
}

func TestAckEncodeDecodeRoundTrip(t *testing.T) {
	id := packet.NewID()
	payload := EncodeAck(id, 42)
	gotID, gotSeq, err := DecodeAck(payload)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.EqualValues(t, 42, gotSeq)
}

func TestSequencerMonotonic(t *testing.T) {
	var s Sequencer
	prev := s.Next()
	for i := 0; i < 100; i++ {
		next := s.Next()
		assert.Equal(t, prev+1, next)
		prev = next
	}
}

// TestDuplicateSuppression asserts a second receipt of
// (originator, id, sequence) never causes double delivery.
func TestDuplicateSuppression(t *testing.T) {
	seen := NewSeenSet[string](0)
	key := "KA1ABC|deadbeef|0"

	assert.True(t, seen.Mark(key))
	assert.False(t, seen.Mark(key), "second mark of the same key must be rejected")
	assert.True(t, seen.Seen(key))
}

func TestSeenSetEvictsOldest(t *testing.T) {
	seen := NewSeenSet[int](4)
	for i := 0; i < 4; i++ {
		assert.True(t, seen.Mark(i))
	}
	assert.True(t, seen.Seen(0))

	assert.True(t, seen.Mark(4)) // evicts key 0
	assert.False(t, seen.Seen(0))
	assert.Equal(t, 4, seen.Len())
}
