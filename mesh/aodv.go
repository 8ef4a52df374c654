package mesh

import (
	"errors"
	"sync"
	"time"

	"github.com/kc0wav/meshttp/reliability"
)

// PendingState is a pending route request's position in the discovery
// state machine: Idle -> Discovering -> Active -> Stale -> Invalid.
type PendingState int

const (
	Idle PendingState = iota
	Discovering
	Active
	Stale
	Invalid
)

// ErrNoRoute is returned by RelayData when no unexpired route to the
// destination exists; the frame is first queued for store-and-forward
// if the ForwardPolicy allows it.
var ErrNoRoute = errors.New("mesh: no route to destination")

// DefaultDiscoveryRetries is a count of RREQ broadcast attempts for one
// discovery. Router does not retry discovery itself, and no code in
// this module reads this constant.
const DefaultDiscoveryRetries = 3

// DefaultDiscoveryTimeout is a wait for an RREP per RREQ attempt. No
// code in this module reads this constant.
const DefaultDiscoveryTimeout = 3 * time.Second

// Pending tracks one in-flight route discovery.
type Pending struct {
	Destination   Callsign
	OriginatorSeq uint32
	BroadcastID   uint32
	StartedAt     time.Time
	Retries       int
	State         PendingState
	done          chan Route
}

// ForwardPolicy governs store-and-forward: which destinations are
// eligible to be queued while unreachable, for how long, and how many
// frames may be queued. This is per-node policy, not part of the wire
// protocol; the zero value is a sane default.
type ForwardPolicy struct {
	Eligible func(dst Callsign) bool
	QueueTTL time.Duration
	MaxQueue int
}

func (p ForwardPolicy) eligible(dst Callsign) bool {
	if p.Eligible == nil {
		return true
	}
	return p.Eligible(dst)
}

func (p ForwardPolicy) queueTTL() time.Duration {
	if p.QueueTTL <= 0 {
		return 60 * time.Second
	}
	return p.QueueTTL
}

func (p ForwardPolicy) maxQueue() int {
	if p.MaxQueue <= 0 {
		return 32
	}
	return p.MaxQueue
}

type queuedFrame struct {
	frame    DataRelay
	expireAt time.Time
}

// Router is one node's AODV state: routing table, pending discoveries,
// dedup sets, and the store-and-forward queue.
type Router struct {
	Self Callsign

	table    *Table
	policy   ForwardPolicy
	seenReq  *reliability.SeenSet[string] // (originator, broadcastID)
	seenData *reliability.SeenSet[string] // (originator, id, sequence) for data-relay loop freedom

	mu       sync.Mutex
	pending  map[Callsign]*Pending
	reverse  map[Callsign]Callsign // originator -> prev hop, for routing RREPs back
	seqNum   uint32
	waiting  map[Callsign][]DataRelay // store-and-forward queue keyed by destination
	expireAt map[Callsign][]time.Time
}

// NewRouter builds a Router for Self, using table for route storage.
func NewRouter(self Callsign, table *Table, policy ForwardPolicy) *Router {
	return &Router{
		Self:     self,
		table:    table,
		policy:   policy,
		seenReq:  reliability.NewSeenSet[string](0),
		seenData: reliability.NewSeenSet[string](0),
		pending:  make(map[Callsign]*Pending),
		reverse:  make(map[Callsign]Callsign),
		waiting:  make(map[Callsign][]DataRelay),
		expireAt: make(map[Callsign][]time.Time),
	}
}

// NextSeq returns this node's next sequence number for use in an RREQ.
func (r *Router) NextSeq() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqNum++
	return r.seqNum
}

// Action is what the router wants the transport layer to do next, in
// response to a handler call. At most one of the fields is set.
type Action struct {
	BroadcastRREQ *RREQ
	UnicastRREP   *rrepAction
	ForwardRERR   *rerrAction
	ForwardData   *dataAction
	FlushedData   []dataAction // store-and-forward frames released now that a route exists, in arrival order
	DeliverLocal  []byte
}

type rrepAction struct {
	To  Callsign
	Rep RREP
}

type rerrAction struct {
	To  Callsign
	Err RERR
}

type dataAction struct {
	To    Callsign
	Relay DataRelay
}

// BeginDiscovery starts (or returns the existing) pending route
// discovery for dst, producing the RREQ to broadcast.
func (r *Router) BeginDiscovery(dst Callsign) (RREQ, *Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pending[dst]; ok && (p.State == Discovering || p.State == Active) {
		return RREQ{}, p
	}

	r.seqNum++
	req := RREQ{
		Originator:    r.Self,
		Destination:   dst,
		OriginatorSeq: r.seqNum,
		BroadcastID:   r.seqNum,
		HopCount:      0,
		TTL:           DefaultTTL,
	}
	p := &Pending{
		Destination:   dst,
		OriginatorSeq: req.OriginatorSeq,
		BroadcastID:   req.BroadcastID,
		StartedAt:     time.Now(),
		State:         Discovering,
		done:          make(chan Route, 1),
	}
	r.pending[dst] = p
	return req, p
}

// HandleRREQ processes an inbound route request: a neighbour receiving
// an RREQ it has not seen installs a reverse route, replies if it is
// (or has a fresh route to) the destination, otherwise rebroadcasts.
func (r *Router) HandleRREQ(req RREQ, prevHop Callsign, now time.Time) (Action, bool) {
	dedupKey := string(req.Originator) + "|" + itoa(req.BroadcastID)
	if !r.seenReq.Mark(dedupKey) {
		return Action{}, false // loop freedom: never re-broadcast the same (originator, broadcast_id)
	}

	r.mu.Lock()
	r.reverse[req.Originator] = prevHop
	r.mu.Unlock()
	r.table.Install(Route{
		Destination:    req.Originator,
		NextHop:        prevHop,
		HopCount:       int(req.HopCount) + 1,
		DestinationSeq: req.OriginatorSeq,
		Lifetime:       now.Add(DefaultRouteLifetime),
	})

	if req.Destination == r.Self {
		return Action{UnicastRREP: &rrepAction{
			To: prevHop,
			Rep: RREP{
				Originator:     req.Originator,
				Destination:    req.Destination,
				DestinationSeq: r.NextSeq(),
				HopCount:       0,
			},
		}}, true
	}
	if route, ok := r.table.Lookup(req.Destination, now); ok {
		return Action{UnicastRREP: &rrepAction{
			To: prevHop,
			Rep: RREP{
				Originator:     req.Originator,
				Destination:    req.Destination,
				DestinationSeq: route.DestinationSeq,
				HopCount:       uint8(route.HopCount),
			},
		}}, true
	}

	if req.TTL == 0 {
		return Action{}, true
	}
	fwd := req
	fwd.HopCount++
	fwd.TTL--
	return Action{BroadcastRREQ: &fwd}, true
}

// HandleRREP implements step 3: install a forward route at every hop
// it traverses, and deliver to the local Router if this node is the
// originator.
func (r *Router) HandleRREP(rep RREP, fromHop Callsign, now time.Time) (Action, bool) {
	installed := r.table.Install(Route{
		Destination:    rep.Destination,
		NextHop:        fromHop,
		HopCount:       int(rep.HopCount) + 1,
		DestinationSeq: rep.DestinationSeq,
		Lifetime:       now.Add(DefaultRouteLifetime),
	})
	_ = installed

	if rep.Originator == r.Self {
		route := Route{
			Destination:    rep.Destination,
			NextHop:        fromHop,
			HopCount:       int(rep.HopCount) + 1,
			DestinationSeq: rep.DestinationSeq,
			Lifetime:       now.Add(DefaultRouteLifetime),
		}
		r.completeDiscovery(rep.Destination, route)

		queued := r.flushQueue(rep.Destination)
		flushed := make([]dataAction, 0, len(queued))
		for _, d := range queued {
			fwd := d
			fwd.HopCount++
			if fwd.TTL > 0 {
				fwd.TTL--
			}
			flushed = append(flushed, dataAction{To: route.NextHop, Relay: fwd})
		}
		return Action{FlushedData: flushed}, true
	}

	r.mu.Lock()
	prevHop, ok := r.reverse[rep.Originator]
	r.mu.Unlock()
	if !ok {
		return Action{}, false
	}
	fwd := rep
	fwd.HopCount++
	return Action{UnicastRREP: &rrepAction{To: prevHop, Rep: fwd}}, true
}

func (r *Router) completeDiscovery(dst Callsign, route Route) {
	r.mu.Lock()
	p, ok := r.pending[dst]
	if ok {
		p.State = Active
	}
	r.mu.Unlock()
	if ok {
		select {
		case p.done <- route:
		default:
		}
	}
}

// Await blocks until a pending discovery completes or deadline passes,
// reporting whether it completed. The transport layer pumps
// HandleRREP/timeouts concurrently; Await only reads the result
// channel.
func (p *Pending) Await(deadline time.Time) (Route, bool) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case route := <-p.done:
		return route, true
	case <-timer.C:
		return Route{}, false
	}
}

// HandleRERR invalidates routes through the failing next hop and
// returns the destinations in rerr whose route went through fromHop
// (and so were invalidated here).
func (r *Router) HandleRERR(rerr RERR, fromHop Callsign) []Callsign {
	var stillAffected []Callsign
	for _, dst := range rerr.Unreachable {
		if r.table.Invalidate(dst, fromHop) {
			stillAffected = append(stillAffected, dst)
		}
	}
	return stillAffected
}

// RelayData applies the store-and-forward relaying rule: ttl>0 is
// required, decremented, and the frame is handed back to transmit
// toward the route's next hop. If the destination is local, the
// payload is delivered upward instead.
//
// msgKey is the enclosing packet's (originator, id, sequence) identity
// — loop freedom for data-relay is defined over that triple, not over
// DataRelay's own fields, since distinct messages from the same source
// to the same destination can share a hop count at origination.
func (r *Router) RelayData(d DataRelay, msgKey string, now time.Time) (Action, error) {
	if d.Destination == r.Self {
		return Action{DeliverLocal: d.Payload}, nil
	}
	if !r.seenData.Mark(msgKey) {
		return Action{}, nil // loop freedom
	}
	if d.TTL == 0 {
		return Action{}, ErrTTLExpired
	}
	route, ok := r.table.Lookup(d.Destination, now)
	if !ok {
		r.enqueue(d, now)
		return Action{}, ErrNoRoute
	}
	r.table.RefreshLifetime(d.Destination, now.Add(DefaultRouteLifetime))
	fwd := d
	fwd.HopCount++
	fwd.TTL--
	return Action{ForwardData: &dataAction{To: route.NextHop, Relay: fwd}}, nil
}

func (r *Router) enqueue(d DataRelay, now time.Time) {
	if !r.policy.eligible(d.Destination) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.waiting[d.Destination]
	if len(q) >= r.policy.maxQueue() {
		q = q[1:] // evict oldest
	}
	r.waiting[d.Destination] = append(q, d)
	r.expireAt[d.Destination] = append(trimExpired(r.expireAt[d.Destination], len(q)), now.Add(r.policy.queueTTL()))
}

func trimExpired(times []time.Time, keep int) []time.Time {
	if len(times) <= keep {
		return times
	}
	return times[len(times)-keep:]
}

// flushQueue drains any frames queued for dst, in arrival order, once
// a route becomes available.
func (r *Router) flushQueue(dst Callsign) []DataRelay {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	q := r.waiting[dst]
	times := r.expireAt[dst]
	delete(r.waiting, dst)
	delete(r.expireAt, dst)

	out := make([]DataRelay, 0, len(q))
	for i, f := range q {
		if i < len(times) && now.After(times[i]) {
			continue // expired while queued
		}
		out = append(out, f)
	}
	return out
}

// ErrTTLExpired is returned when a data-relay frame's TTL reaches zero
// before delivery.
var ErrTTLExpired = errors.New("mesh: ttl expired")

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
