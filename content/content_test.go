package content

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressHTMLRoundTrip(t *testing.T) {
	doc := []byte(`<html><body><div class="a"><p>hello</p></div></body></html>`)
	blob, err := CompressHTML(doc)
	require.NoError(t, err)
	out, err := Decompress(blob)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestCompressGenericRoundTrip(t *testing.T) {
	doc := []byte(`{"status":"ok","items":[1,2,3]}`)
	blob, err := CompressGeneric(doc)
	require.NoError(t, err)
	out, err := Decompress(blob)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestDecompressUnknownDictionary(t *testing.T) {
	_, err := Decompress([]byte{0x7f, 0x00})
	assert.Error(t, err)
}

func sampleTree() *Node {
	return Elem("div", map[string]Value{"class": StringValue("card")},
		Elem("span", map[string]Value{"id": StringValue("title")}, Text("hello")),
		Elem("p", nil, Text("body text")),
	)
}

func TestRenderIsDeterministic(t *testing.T) {
	tree := sampleTree()
	a := Render(tree)
	b := Render(tree)
	assert.Equal(t, a, b)
	assert.Contains(t, a, `class="card"`)
}

func TestRenderDropsEventHandlers(t *testing.T) {
	tree := Elem("button", map[string]Value{"onClick": HandlerValue("h1")}, Text("go"))
	out := Render(tree)
	assert.NotContains(t, out, "h1")
}

// TestDiffSoundness asserts that applying Diff(old, next)'s ops
// to old always reproduces a tree that renders identically to next.
func TestDiffSoundness(t *testing.T) {
	old := sampleTree()
	next := Elem("div", map[string]Value{"class": StringValue("card"), "id": StringValue("x")},
		Elem("span", map[string]Value{"id": StringValue("title")}, Text("hello world")),
		Elem("p", nil, Text("body text")),
		Elem("footer", nil, Text("new")),
	)

	ops := Diff(old, next)
	require.NotEmpty(t, ops)
	applied := Apply(old, ops)
	assert.Equal(t, Render(next), Render(applied))
}

func TestDiffNoChangeProducesNoOps(t *testing.T) {
	tree := sampleTree()
	ops := Diff(tree, sampleTree())
	assert.Empty(t, ops)
}

func TestDiffTagChangeIsReplace(t *testing.T) {
	old := Elem("div", nil, Text("x"))
	next := Elem("section", nil, Text("x"))
	ops := Diff(old, next)
	require.Len(t, ops, 1)
	assert.Equal(t, OpReplace, ops[0].Kind)
}

// TestDeltaUpgradeScenario covers a small change yielding a delta
// under the op threshold, while an op list longer than MaxDeltaOps
// forces a full-document fallback.
func TestDeltaUpgradeScenario(t *testing.T) {
	old := sampleTree()
	small := Elem("div", map[string]Value{"class": StringValue("card")},
		Elem("span", map[string]Value{"id": StringValue("title")}, Text("hello!")),
		Elem("p", nil, Text("body text")),
	)
	ops := Diff(old, small)
	assert.True(t, ShouldSendDelta(ops))

	var big []Op
	for i := 0; i < MaxDeltaOps+5; i++ {
		big = append(big, Op{Kind: OpInsert, Path: Path{i}, New: Text("x")})
	}
	assert.False(t, ShouldSendDelta(big))
}

type memTrust struct {
	keys map[string]*ecdsa.PublicKey
}

func (m memTrust) Lookup(keyID string) (*ecdsa.PublicKey, bool) {
	k, ok := m.keys[keyID]
	return k, ok
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	trust := memTrust{keys: map[string]*ecdsa.PublicKey{"node-a": &priv.PublicKey}}
	v := NewVerifier(trust, 0, 0)

	now := time.Unix(1_700_000_000, 0)
	env, err := Sign(priv, "node-a", []byte("GET /index"), now)
	require.NoError(t, err)
	assert.NoError(t, v.Verify(env, now))
}

func TestVerifyRejectsUntrustedKey(t *testing.T) {
	priv, _ := GenerateKey()
	trust := memTrust{keys: map[string]*ecdsa.PublicKey{}}
	v := NewVerifier(trust, 0, 0)
	now := time.Unix(1_700_000_000, 0)
	env, _ := Sign(priv, "node-a", []byte("x"), now)
	assert.ErrorIs(t, v.Verify(env, now), ErrUntrustedKey)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	priv, _ := GenerateKey()
	trust := memTrust{keys: map[string]*ecdsa.PublicKey{"node-a": &priv.PublicKey}}
	v := NewVerifier(trust, 0, 0)
	now := time.Unix(1_700_000_000, 0)
	env, _ := Sign(priv, "node-a", []byte("x"), now)
	env.Payload = []byte("y")
	assert.ErrorIs(t, v.Verify(env, now), ErrSignatureInvalid)
}

// TestSignatureReplayRejected asserts a replayed nonce is rejected.
func TestSignatureReplayRejected(t *testing.T) {
	priv, _ := GenerateKey()
	trust := memTrust{keys: map[string]*ecdsa.PublicKey{"node-a": &priv.PublicKey}}
	v := NewVerifier(trust, 0, 0)
	now := time.Unix(1_700_000_000, 0)
	env, _ := Sign(priv, "node-a", []byte("x"), now)

	require.NoError(t, v.Verify(env, now))
	assert.ErrorIs(t, v.Verify(env, now), ErrNonceReplayed)
}

// TestTimestampWindowRejected asserts a timestamp outside the
// acceptance window is rejected.
func TestTimestampWindowRejected(t *testing.T) {
	priv, _ := GenerateKey()
	trust := memTrust{keys: map[string]*ecdsa.PublicKey{"node-a": &priv.PublicKey}}
	v := NewVerifier(trust, time.Minute, 0)
	signedAt := time.Unix(1_700_000_000, 0)
	env, _ := Sign(priv, "node-a", []byte("x"), signedAt)

	tooLate := signedAt.Add(5 * time.Minute)
	assert.ErrorIs(t, v.Verify(env, tooLate), ErrTimestampOutOfWindow)
}

// TestDefaultTimestampWindowMatchesFiveMinutes exercises the default
// window (no explicit override): a request signed 10 minutes in the
// past is rejected, one signed within the last 5 minutes is accepted.
func TestDefaultTimestampWindowMatchesFiveMinutes(t *testing.T) {
	priv, _ := GenerateKey()
	trust := memTrust{keys: map[string]*ecdsa.PublicKey{"node-a": &priv.PublicKey}}
	v := NewVerifier(trust, 0, 0)
	signedAt := time.Unix(1_700_000_000, 0)

	tenMinAgo, _ := Sign(priv, "node-a", []byte("x"), signedAt.Add(-10*time.Minute))
	assert.ErrorIs(t, v.Verify(tenMinAgo, signedAt), ErrTimestampOutOfWindow)

	fourMinAgo, _ := Sign(priv, "node-a", []byte("y"), signedAt.Add(-4*time.Minute))
	assert.NoError(t, v.Verify(fourMinAgo, signedAt))
}
