package content

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/kc0wav/meshttp/reliability"
)

// Security errors an envelope verification can fail with — each one a
// distinct, named condition per the content-pipeline requirements,
// never collapsed into a single generic "invalid signature" error.
var (
	ErrSignatureInvalid  = errors.New("content: signature does not verify")
	ErrTimestampOutOfWindow = errors.New("content: timestamp outside acceptance window")
	ErrNonceReplayed     = errors.New("content: nonce already seen")
	ErrUntrustedKey      = errors.New("content: signing key is not in the trust store")
)

// DefaultTimestampWindow bounds how far an envelope's timestamp may
// drift from the verifier's clock, in either direction: a signature
// timestamped up to 5 minutes in the past or future is still accepted.
const DefaultTimestampWindow = 5 * time.Minute

// PastClockSkewAllowance extends DefaultTimestampWindow by one extra
// minute in the backward direction only, tolerating a verifier clock
// that runs slightly fast relative to the signer's.
const PastClockSkewAllowance = 1 * time.Minute

// Envelope is a signed request/response wrapper: the payload plus the
// binding metadata (timestamp, nonce, signer identity) that the
// signature covers.
type Envelope struct {
	Payload   []byte
	Timestamp int64 // unix seconds
	Nonce     [16]byte
	KeyID     string
	Signature []byte // ASN.1 DER, from ecdsa.SignASN1
}

// signedBytes is what the signature actually covers: the SHA-256 of
// timestamp, nonce, key id (length-prefixed) and payload bytes —
// binding every field of the envelope so no part can be substituted
// independently of the others.
func signedBytes(payload []byte, timestamp int64, nonce [16]byte, keyID string) []byte {
	buf := make([]byte, 0, len(payload)+8+16+len(keyID)+4)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestamp))
	buf = append(buf, ts[:]...)
	buf = append(buf, nonce[:]...)
	var kl [4]byte
	binary.LittleEndian.PutUint32(kl[:], uint32(len(keyID)))
	buf = append(buf, kl[:]...)
	buf = append(buf, keyID...)
	buf = append(buf, payload...)
	h := sha256.Sum256(buf)
	return h[:]
}

// Sign builds a signed Envelope around payload using priv, identified
// by keyID in the trust store the receiver checks against.
func Sign(priv *ecdsa.PrivateKey, keyID string, payload []byte, now time.Time) (*Envelope, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("content: generating nonce: %w", err)
	}
	ts := now.Unix()
	digest := signedBytes(payload, ts, nonce, keyID)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	if err != nil {
		return nil, fmt.Errorf("content: signing envelope: %w", err)
	}
	return &Envelope{
		Payload:   payload,
		Timestamp: ts,
		Nonce:     nonce,
		KeyID:     keyID,
		Signature: sig,
	}, nil
}

// TrustStore resolves a KeyID to the public key allowed to sign with
// it; Lookup's second return is false for unknown or revoked keys.
type TrustStore interface {
	Lookup(keyID string) (*ecdsa.PublicKey, bool)
}

// Verifier checks envelopes against a trust store, a nonce replay set,
// and a timestamp acceptance window.
type Verifier struct {
	Trust  TrustStore
	Window time.Duration
	seen   *reliability.SeenSet[[16]byte]
}

// NewVerifier builds a Verifier. window <= 0 uses DefaultTimestampWindow.
// replayCapacity <= 0 uses reliability.DefaultSeenCapacity.
func NewVerifier(trust TrustStore, window time.Duration, replayCapacity int) *Verifier {
	if window <= 0 {
		window = DefaultTimestampWindow
	}
	return &Verifier{
		Trust:  trust,
		Window: window,
		seen:   reliability.NewSeenSet[[16]byte](replayCapacity),
	}
}

// Verify checks env against now, returning one of the four security
// errors above on failure, or nil if the envelope is authentic, fresh,
// and not a replay.
func (v *Verifier) Verify(env *Envelope, now time.Time) error {
	delta := now.Unix() - env.Timestamp
	window := v.Window
	if delta > 0 {
		// Timestamp is in the past: allow a little extra slack for a
		// verifier clock that runs fast.
		window += PastClockSkewAllowance
	} else {
		delta = -delta
	}
	if time.Duration(delta)*time.Second > window {
		return ErrTimestampOutOfWindow
	}

	pub, ok := v.Trust.Lookup(env.KeyID)
	if !ok {
		return ErrUntrustedKey
	}

	digest := signedBytes(env.Payload, env.Timestamp, env.Nonce, env.KeyID)
	if !ecdsa.VerifyASN1(pub, digest, env.Signature) {
		return ErrSignatureInvalid
	}

	if !v.seen.Mark(env.Nonce) {
		return ErrNonceReplayed
	}
	return nil
}

// GenerateKey is a convenience wrapper producing a P-256 signing key,
// the curve this pipeline standardizes on.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// MarshalPublicKey encodes a public key for storage/transport (e.g. in
// a FileKeyStore trust-store record).
func MarshalPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// ParsePublicKey reverses MarshalPublicKey.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("content: parsing public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("content: key is not ECDSA")
	}
	return pub, nil
}
