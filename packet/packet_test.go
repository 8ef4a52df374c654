package packet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHeaderExactness(t *testing.T) {
	p := &Packet{Version: Version, Type: TypeRequest, ID: NewID(), Payload: []byte("GET /index")}
	buf := p.Encode()
	assert.Equal(t, HeaderLen, 16)
	assert.Len(t, buf, HeaderLen+len(p.Payload))

	got, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, p.Payload, got.Payload)
	assert.Equal(t, p.ID, got.ID)
}

func TestDecodeTruncated(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncated)

	p := &Packet{Version: Version, Type: TypeRequest, ID: NewID(), Payload: []byte("hello")}
	buf := p.Encode()
	_, _, err = Decode(buf[:len(buf)-2])
	assert.ErrorIs(t, err, ErrTruncated)
}

// TestFragmentationRoundTrip asserts that for every message <= 65535
// bytes, fragment then reassemble (even out of wire order) yields the
// original bytes back.
func TestFragmentationRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.SliceOfN(rapid.Byte(), 0, 20000).Draw(t, "msg")
		maxFrame := rapid.IntRange(HeaderLen+1, 512).Draw(t, "maxFrame")

		id := NewID()
		frags, err := Fragment(TypeResponse, id, 0, msg, maxFrame)
		require.NoError(t, err)

		// Header exactness + flag monotonicity across every fragment.
		lastCount := 0
		for _, f := range frags {
			buf := f.Encode()
			assert.Equal(t, HeaderLen+len(f.Payload), len(buf))
			if len(frags) > 1 {
				assert.True(t, f.Flags.Has(FlagFragmented))
			}
			if f.Flags.Has(FlagLastFragment) {
				lastCount++
			}
		}
		if len(frags) > 1 {
			assert.Equal(t, 1, lastCount, "exactly one fragment must carry last_fragment")
		}

		// Shuffle wire order before feeding the reassembler.
		perm := rand.Perm(len(frags))
		ra := NewReassembler(0, 0)
		var out []byte
		var complete bool
		for _, i := range perm {
			b, ok, rerr := ra.Add(frags[i])
			require.NoError(t, rerr)
			if ok {
				out = b
				complete = true
			}
		}
		require.True(t, complete)
		assert.Equal(t, msg, out)
	})
}

func TestDuplicateFragmentIsIdempotent(t *testing.T) {
	msg := make([]byte, 2000)
	id := NewID()
	frags, err := Fragment(TypeResponse, id, 0, msg, 256)
	require.NoError(t, err)
	require.Greater(t, len(frags), 1)

	ra := NewReassembler(0, 0)
	for _, f := range frags[:len(frags)-1] {
		_, ok, err := ra.Add(f)
		require.NoError(t, err)
		require.False(t, ok)
	}
	// Re-deliver the first fragment again before completing.
	_, ok, err := ra.Add(frags[0])
	require.NoError(t, err)
	require.False(t, ok)

	out, ok, err := ra.Add(frags[len(frags)-1])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg, out)
}

func TestReassemblyNeverMixesIDs(t *testing.T) {
	a, err := Fragment(TypeResponse, NewID(), 0, make([]byte, 2000), 256)
	require.NoError(t, err)
	b, err := Fragment(TypeResponse, NewID(), 0, make([]byte, 2000), 256)
	require.NoError(t, err)

	ra := NewReassembler(0, 0)
	_, ok, err := ra.Add(a[0])
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = ra.Add(b[0])
	require.NoError(t, err)
	require.False(t, ok)
	assert.Equal(t, 2, ra.Len())
}
