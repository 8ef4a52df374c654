package packet

import (
	"errors"
	"sync"
	"time"
)

// DefaultReassemblyTimeout is how long an incomplete reassembly is kept
// before it is discarded.
const DefaultReassemblyTimeout = 30 * time.Second

// DefaultReassemblyCapacity bounds how many distinct in-flight ids a
// single Reassembler will track at once.
const DefaultReassemblyCapacity = 256

var (
	// ErrFragmentGap means a fragment arrived whose flags/type disagree
	// with fragments already seen under the same id.
	ErrFragmentGap = errors.New("packet: fragment does not match in-flight message")
	// ErrReassemblyTableFull is surfaced as a resource warning; the
	// oldest incomplete entry is evicted to make room.
	ErrReassemblyTableFull = errors.New("packet: reassembly table full")
)

type inFlight struct {
	first     *Packet
	frags     map[uint16]*Packet
	lastSeen  time.Time
	haveLast  bool
	lastSeq   uint16
}

// Reassembler tracks fragments of in-flight logical messages keyed by
// packet id; reassembly never mixes fragments across ids.
type Reassembler struct {
	mu       sync.Mutex
	timeout  time.Duration
	capacity int
	table    map[ID]*inFlight
	order    []ID // insertion order, oldest first, for capacity eviction
	onEvict  func(id ID, reason string)
}

// NewReassembler constructs a Reassembler with the given timeout and
// capacity; zero values fall back to the package defaults.
func NewReassembler(timeout time.Duration, capacity int) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	if capacity <= 0 {
		capacity = DefaultReassemblyCapacity
	}
	return &Reassembler{
		timeout:  timeout,
		capacity: capacity,
		table:    make(map[ID]*inFlight),
	}
}

// OnEvict registers a callback invoked whenever an entry is evicted,
// either for capacity or for timeout — surfaced upward as a warning,
// never a fault.
func (r *Reassembler) OnEvict(f func(id ID, reason string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = f
}

// Add feeds one received fragment into the table. It returns the
// reassembled payload (and true) once the final fragment arrives and
// every sequence 0..N is present; otherwise it returns (nil, false).
// A duplicate fragment is idempotent: re-adding it has no effect
// beyond refreshing lastSeen.
func (r *Reassembler) Add(p *Packet) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.evictExpiredLocked(now)

	if !p.Flags.Has(FlagFragmented) {
		// Single-frame message: nothing to reassemble.
		return p.Payload, true, nil
	}

	cur, ok := r.table[p.ID]
	if !ok {
		if len(r.table) >= r.capacity {
			r.evictOldestLocked()
		}
		cur = &inFlight{first: p, frags: make(map[uint16]*Packet)}
		r.table[p.ID] = cur
		r.order = append(r.order, p.ID)
	} else if !SameLogicalMessage(cur.first, p) {
		return nil, false, ErrFragmentGap
	}

	cur.lastSeen = now
	cur.frags[p.Sequence] = p
	if p.Flags.Has(FlagLastFragment) {
		cur.haveLast = true
		cur.lastSeq = p.Sequence
	}

	if !cur.haveLast {
		return nil, false, nil
	}
	for seq := uint16(0); seq <= cur.lastSeq; seq++ {
		if _, ok := cur.frags[seq]; !ok {
			return nil, false, nil // still waiting on a gap
		}
	}

	var out []byte
	for seq := uint16(0); seq <= cur.lastSeq; seq++ {
		out = append(out, cur.frags[seq].Payload...)
	}
	delete(r.table, p.ID)
	r.removeOrderLocked(p.ID)
	return out, true, nil
}

func (r *Reassembler) evictExpiredLocked(now time.Time) {
	for id, cur := range r.table {
		if now.Sub(cur.lastSeen) > r.timeout {
			delete(r.table, id)
			r.removeOrderLocked(id)
			if r.onEvict != nil {
				r.onEvict(id, "timeout")
			}
		}
	}
}

func (r *Reassembler) evictOldestLocked() {
	if len(r.order) == 0 {
		return
	}
	id := r.order[0]
	r.order = r.order[1:]
	delete(r.table, id)
	if r.onEvict != nil {
		r.onEvict(id, "capacity")
	}
}

func (r *Reassembler) removeOrderLocked(id ID) {
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Len reports the number of in-flight, incomplete messages.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}
