// Package mesh implements the AODV-style on-demand mesh router: route
// discovery (RREQ/RREP), maintenance (RERR), a routing table, and
// store-and-forward for destinations that are temporarily unreachable.
package mesh

import (
	"sync"
	"time"
)

// Callsign is the network address used throughout the mesh layer.
type Callsign string

// DefaultRouteLifetime is how long a route entry stays valid without
// being refreshed by data traversal.
const DefaultRouteLifetime = 5 * time.Minute

// Route is one entry of the routing table.
type Route struct {
	Destination    Callsign
	NextHop        Callsign
	HopCount       int
	DestinationSeq uint32
	Lifetime       time.Time
	Metric         float64
}

func (r *Route) expired(now time.Time) bool { return now.After(r.Lifetime) }

// Table is a single-writer, many-reader routing table, modeled the same
// way fragglet-ipxbox's ipxswitch keeps its node table: one RWMutex
// guarding a plain map, readers get snapshots rather than live
// references.
type Table struct {
	mu     sync.RWMutex
	routes map[Callsign]*Route
}

// NewTable constructs an empty routing table.
func NewTable() *Table {
	return &Table{routes: make(map[Callsign]*Route)}
}

// Lookup returns a copy of the route to dst, if any unexpired one
// exists.
func (t *Table) Lookup(dst Callsign, now time.Time) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[dst]
	if !ok || r.expired(now) {
		return Route{}, false
	}
	return *r, true
}

// Install applies the AODV freshness/tie-break rule: a new route
// replaces the stored one only if its destination sequence
// is strictly greater, or equal with a strictly lower hop count. It
// reports whether the table was actually updated.
func (t *Table) Install(candidate Route) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.routes[candidate.Destination]
	if !ok || fresher(candidate, *existing) {
		r := candidate
		t.routes[candidate.Destination] = &r
		return true
	}
	return false
}

func fresher(candidate, existing Route) bool {
	if candidate.DestinationSeq != existing.DestinationSeq {
		return candidate.DestinationSeq > existing.DestinationSeq
	}
	return candidate.HopCount < existing.HopCount
}

// RefreshLifetime extends dst's route lifetime on data traversal,
// without touching hop count or sequence.
func (t *Table) RefreshLifetime(dst Callsign, until time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[dst]; ok {
		r.Lifetime = until
	}
}

// Invalidate removes dst's route (used on RERR) if that route goes
// through nextHop, and reports whether it did — callers use this to
// decide whether to propagate the RERR to their own precursors.
func (t *Table) Invalidate(dst Callsign, nextHop Callsign) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[dst]
	if !ok {
		return false
	}
	hadNextHop := r.NextHop == nextHop
	if hadNextHop {
		delete(t.routes, dst)
	}
	return hadNextHop
}

// DestinationsVia returns every destination currently routed through
// nextHop, used to build an RERR's unreachable-destination list when a
// link to nextHop fails.
func (t *Table) DestinationsVia(nextHop Callsign, now time.Time) []Callsign {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Callsign
	for dst, r := range t.routes {
		if r.NextHop == nextHop && !r.expired(now) {
			out = append(out, dst)
		}
	}
	return out
}

// Snapshot returns a copy of every unexpired route, for get_status()
// and diagnostics.
func (t *Table) Snapshot(now time.Time) []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		if !r.expired(now) {
			out = append(out, *r)
		}
	}
	return out
}
