// Package transport is the upper-layer API and the scheduler wiring
// packet, modem, reliability, mesh and content together:
// send_request/on_request/set_radio/set_mesh/set_signer/get_status,
// implemented as a cooperative RX/Router/TX/Reliability task model
// grounded on agwlib.go's tnc_listen_thread goroutine-dispatch-and-
// reconnect pattern.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kc0wav/meshttp/content"
	"github.com/kc0wav/meshttp/mesh"
	"github.com/kc0wav/meshttp/modem"
	"github.com/kc0wav/meshttp/packet"
	"github.com/kc0wav/meshttp/radio"
	"github.com/kc0wav/meshttp/reliability"
	"github.com/kc0wav/meshttp/telemetry"
)

// transmitTimeout bounds how long one TX-task frame transmission may
// block the queue before it is abandoned.
const transmitTimeout = 10 * time.Second

// nowFunc is indirected so tests could substitute a fixed clock; the
// mesh layer's own route lifetimes are exercised directly in the mesh
// package's tests, so this just needs to be "the current time" here.
var nowFunc = time.Now

// Request is the upper-layer HTTP-shaped request.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Response is the upper-layer HTTP-shaped response. Tree is optional:
// a handler that renders a content.Node instead of raw bytes opts into
// delta-encoded updates on subsequent responses to the same path.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
	Tree    *content.Node
}

// wireMessage is the generic JSON envelope a Request or Response is
// marshaled into before compression and fragmentation; keeping one
// shape for both means the dispatcher only needs one decode path.
// Tree rides alongside the rendered Body on a full response so the
// receiving side can retain it as the base for a later delta.
type wireMessage struct {
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	Tree    *content.Node     `json:"tree,omitempty"`
}

var (
	// ErrNoHandler names a request arriving with no handler registered
	// via OnRequest. handleRequest drops such a request; no function in
	// this package returns ErrNoHandler.
	ErrNoHandler = errors.New("transport: no request handler registered")
	// ErrNotDirectNeighbor names an unreachable target. SendRequest does
	// not check whether target is reachable and does not return it; it
	// transmits on the attached radio link whatever the target.
	ErrNotDirectNeighbor = errors.New("transport: target is not reachable")
)

// HandlerFunc answers a request; respond must be called exactly once.
type HandlerFunc func(req Request, respond func(Response))

type pendingResponse struct {
	ch     chan Response
	target mesh.Callsign
	path   string
}

// Node is one participant's full upper-layer stack: everything needed
// to send_request, accept requests, and report status.
type Node struct {
	Self mesh.Callsign

	modem     *modem.Modem
	reassembler *packet.Reassembler
	ackWaiter *reliability.AckWaiter
	sequencer *reliability.Sequencer

	mu         sync.Mutex
	radioIf    radio.Interface
	peer       mesh.Callsign // the neighbour reachable over radioIf; this link model is one radio port per neighbour, same as a TNC channel
	meshRouter *mesh.Router
	signer     *content.Verifier
	signKey    signerState
	handler    HandlerFunc
	pending    map[packet.ID]*pendingResponse

	// lastTree is this node's own server-side cache, keyed by request
	// path, of the last tree it rendered — the base a future response
	// diffs against to decide full vs delta. recvTree is the matching
	// client-side cache, keyed by "target|path", of the last tree this
	// node received as a response, the base a delta is applied to.
	lastTree map[string]*content.Node
	recvTree map[string]*content.Node

	txQueue chan *packet.Packet
	ctx     context.Context
	cancel  context.CancelFunc
}

type signerState struct {
	keyID string
	sign  func(payload []byte, now time.Time) (*content.Envelope, error)
}

// NewNode builds a Node using mod for the physical layer. Call SetRadio
// to attach the link and start the RX/TX tasks.
func NewNode(self mesh.Callsign, mod *modem.Modem) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		Self:        self,
		modem:       mod,
		reassembler: packet.NewReassembler(0, 0),
		sequencer:   &reliability.Sequencer{},
		pending:     make(map[packet.ID]*pendingResponse),
		lastTree:    make(map[string]*content.Node),
		recvTree:    make(map[string]*content.Node),
		txQueue:     make(chan *packet.Packet, 64),
		ctx:         ctx,
		cancel:      cancel,
	}
	n.ackWaiter = reliability.NewAckWaiter(nodeTransport{n}, reliability.DefaultRetries)
	return n
}

// nodeTransport adapts Node to reliability.Transport by enqueueing onto
// the TX task instead of calling the radio directly, so every outbound
// fragment (data or ack) serialises through one task.
type nodeTransport struct{ n *Node }

func (t nodeTransport) SendFragment(ctx context.Context, frag *packet.Packet) error {
	select {
	case t.n.txQueue <- frag:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRadio attaches the physical link and starts the RX/TX tasks.
// peer is the callsign of the single neighbour reachable over r — one
// radio port models one link, the same granularity a KISS TNC channel
// has. It may be called again to swap radios (e.g. reattaching after a
// drop).
func (n *Node) SetRadio(r radio.Interface, peer mesh.Callsign) error {
	n.mu.Lock()
	n.radioIf = r
	n.peer = peer
	n.mu.Unlock()

	if err := r.StartReceive(n.onSamples); err != nil {
		return fmt.Errorf("transport: starting receive: %w", err)
	}
	go n.txTask()
	return nil
}

// SetMesh attaches the AODV router used for multi-hop forwarding.
func (n *Node) SetMesh(router *mesh.Router) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.meshRouter = router
}

// SetSigner attaches signature verification, and the signing function
// used by SendRequest to produce outgoing envelopes.
func (n *Node) SetSigner(verifier *content.Verifier, keyID string, sign func(payload []byte, now time.Time) (*content.Envelope, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signer = verifier
	n.signKey = signerState{keyID: keyID, sign: sign}
}

// OnRequest registers the handler invoked for every inbound request
// addressed to this node.
func (n *Node) OnRequest(h HandlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = h
}

// Close stops the Node's tasks.
func (n *Node) Close() {
	n.cancel()
}

// Status implements telemetry.Snapshot. PendingRoutes is always 0:
// Node does not read the router's in-flight discoveries.
func (n *Node) Status() telemetry.Status {
	n.mu.Lock()
	pendingAcks := len(n.pending)
	n.mu.Unlock()
	modStatus := n.modem.GetStatus()
	return telemetry.Status{
		Modulation:    modStatus.Modulation,
		SNR:           modStatus.SNREstimate,
		PendingRoutes: 0,
		PendingAcks:   pendingAcks,
		FramesDropped: n.modem.FramesDropped(),
	}
}

// SendRequest implements send_request(method, path, headers, body,
// target): fragments and reliably transmits a request, then waits
// (respecting ctx) for the matching response.
func (n *Node) SendRequest(ctx context.Context, req Request, target mesh.Callsign) (*Response, error) {
	msg := wireMessage{Method: req.Method, Path: req.Path, Headers: req.Headers, Body: req.Body}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("transport: marshaling request: %w", err)
	}

	n.mu.Lock()
	signKey := n.signKey
	n.mu.Unlock()
	if signKey.sign != nil {
		env, err := signKey.sign(payload, nowFunc())
		if err != nil {
			return nil, fmt.Errorf("transport: signing request: %w", err)
		}
		payload, err = json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("transport: marshaling signed envelope: %w", err)
		}
	}

	body, flags := compressBody(payload)

	id := newID()
	frags, err := packet.Fragment(packet.TypeRequest, id, flags, body, packet.DefaultMaxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("transport: fragmenting request: %w", err)
	}

	pr := &pendingResponse{ch: make(chan Response, 1), target: target, path: req.Path}
	n.mu.Lock()
	n.pending[id] = pr
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
	}()

	for _, f := range frags {
		f.Sequence = n.sequencer.Next()
		if err := n.ackWaiter.SendReliable(ctx, f); err != nil {
			return nil, fmt.Errorf("transport: sending request fragment: %w", err)
		}
	}

	select {
	case resp := <-pr.ch:
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newID() packet.ID {
	return packet.NewID()
}
