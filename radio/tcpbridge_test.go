package radio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPBridgeRoundTrip(t *testing.T) {
	listener, err := ListenTCPBridge("127.0.0.1:0", "") // announceName empty disables DNS-SD
	require.NoError(t, err)
	defer listener.Close()

	addr := listener.listener.Addr().String()
	dialer := DialTCPBridge(addr)
	defer dialer.Close()

	received := make(chan []float32, 1)
	require.NoError(t, listener.StartReceive(func(samples []float32) { received <- samples }))
	require.NoError(t, dialer.StartReceive(func([]float32) {}))

	// Give the dialer's background loop time to connect before transmitting.
	require.Eventually(t, func() bool {
		return dialer.GetStatus().Connected
	}, 2*time.Second, 10*time.Millisecond)

	sent := []float32{0.5, -0.25, 1.0, 0}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, dialer.Transmit(ctx, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged frame")
	}
}

func TestTCPBridgeTransmitWithoutConnectionErrors(t *testing.T) {
	b := DialTCPBridge("127.0.0.1:1") // nothing listens; no connection is ever established
	defer b.Close()
	err := b.Transmit(context.Background(), []float32{1})
	assert.Error(t, err)
}
