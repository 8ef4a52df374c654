package packet

import "github.com/google/uuid"

// NewID mints a fresh packet id. It borrows randomness from a v4 UUID
// rather than hand-rolling an RNG call site, the same way the rest of
// the pack reaches for google/uuid wherever a fresh opaque identifier
// is needed.
func NewID() ID {
	u := uuid.New()
	var id ID
	copy(id[:], u[:8])
	return id
}
