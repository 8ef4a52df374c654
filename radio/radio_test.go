package radio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackDeliversToPeer(t *testing.T) {
	a, b := NewLoopbackPair()

	received := make(chan []float32, 1)
	require.NoError(t, b.StartReceive(func(samples []float32) {
		received <- samples
	}))

	sent := []float32{0.1, 0.2, 0.3}
	require.NoError(t, a.Transmit(context.Background(), sent))

	select {
	case got := <-received:
		assert.Equal(t, sent, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for loopback delivery")
	}
}

func TestLoopbackTransmitCopiesSamples(t *testing.T) {
	a, b := NewLoopbackPair()
	received := make(chan []float32, 1)
	require.NoError(t, b.StartReceive(func(samples []float32) { received <- samples }))

	sent := []float32{1, 2, 3}
	require.NoError(t, a.Transmit(context.Background(), sent))
	got := <-received

	sent[0] = 99
	assert.NotEqual(t, sent[0], got[0], "callback slice must not alias the caller's buffer")
}

func TestLoopbackClosedRejectsTransmit(t *testing.T) {
	a, _ := NewLoopbackPair()
	a.Close()
	err := a.Transmit(context.Background(), []float32{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoopbackStopReceiveSilencesCallback(t *testing.T) {
	a, b := NewLoopbackPair()
	received := make(chan []float32, 1)
	require.NoError(t, b.StartReceive(func(samples []float32) { received <- samples }))
	b.StopReceive()

	require.NoError(t, a.Transmit(context.Background(), []float32{1}))
	select {
	case <-received:
		t.Fatal("callback fired after StopReceive")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopbackGetStatus(t *testing.T) {
	a, _ := NewLoopbackPair()
	assert.True(t, a.GetStatus().Connected)
	a.Close()
	assert.False(t, a.GetStatus().Connected)
}
