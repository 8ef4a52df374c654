package modem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModem(t *testing.T) *Modem {
	t.Helper()
	fec, err := NewFEC(4, 1)
	require.NoError(t, err)
	return New(fec)
}

func TestTransmitReceiveRoundTrip(t *testing.T) {
	m := newTestModem(t)
	m.SetModulation(BPSK)

	data := []byte("GET /index HTTP over radio")
	samples := m.Transmit(data)
	require.NotEmpty(t, samples)

	got, err := m.Receive(samples)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReceiveSyncLostOnGarbage(t *testing.T) {
	m := newTestModem(t)
	garbage := make([]float32, 10)
	_, err := m.Receive(garbage)
	assert.ErrorIs(t, err, ErrSyncLost)
}

func TestReceiveTruncated(t *testing.T) {
	m := newTestModem(t)
	samples := m.Transmit([]byte("hello world"))
	_, err := m.Receive(samples[:len(samples)/2])
	assert.Error(t, err)
}

func TestFramesDroppedCounter(t *testing.T) {
	m := newTestModem(t)
	before := m.FramesDropped()
	_, _ = m.Receive(make([]float32, 4))
	assert.Greater(t, m.FramesDropped(), before)
}

// TestAdaptiveStability asserts that under constant SNR the selector
// converges and does not oscillate across the hysteresis margin.
func TestAdaptiveStability(t *testing.T) {
	s := NewSelector()
	for i := 0; i < 20; i++ {
		s.Observe(10.0) // well inside 8-PSK's range, with hysteresis margin
	}
	settled := s.Current()
	assert.Equal(t, PSK8, settled)

	for i := 0; i < 10; i++ {
		got := s.Observe(10.0)
		assert.Equal(t, settled, got, "modulation must not oscillate under constant SNR")
	}
}

func TestSelectorThresholds(t *testing.T) {
	cases := []struct {
		snr  float64
		want Modulation
	}{
		{-5, BPSK},
		{5, QPSK},
		{10, PSK8},
		{20, QAM16},
	}
	for _, c := range cases {
		s := NewSelector()
		var got Modulation
		for i := 0; i < 10; i++ {
			got = s.Observe(c.snr)
		}
		assert.Equalf(t, c.want, got, "snr=%v", c.snr)
	}
}

func TestInterleaveRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog 0123456789")
	il := Interleave(data)
	assert.Equal(t, data, Deinterleave(il))
	assert.NotEqual(t, data, il, "interleaving should actually permute the bytes")
}

func TestFECRoundTrip(t *testing.T) {
	fec, err := NewFEC(4, 2)
	require.NoError(t, err)
	data := []byte("a sample payload long enough to span several RS shards of data")

	shards, _ := fec.Encode(data)
	// Simulate an erasure: drop one parity shard.
	lossy := make([][]byte, len(shards))
	copy(lossy, shards)
	lossy[len(lossy)-1] = nil

	out, err := fec.Decode(lossy, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
