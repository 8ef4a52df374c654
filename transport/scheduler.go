package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kc0wav/meshttp/content"
	"github.com/kc0wav/meshttp/mesh"
	"github.com/kc0wav/meshttp/packet"
	"github.com/kc0wav/meshttp/reliability"
)

// compressThreshold is the minimum wire payload size before bothering
// to compress; small requests aren't worth the dictionary-id header.
const compressThreshold = 64

// compressBody compresses payload with content.CompressGeneric (no
// preset dictionary) when that's worthwhile, reporting FlagCompressed so the
// receiver knows to reverse it. Payloads that don't shrink, or that
// are too small to bother with, are sent uncompressed.
func compressBody(payload []byte) ([]byte, packet.Flags) {
	if len(payload) < compressThreshold {
		return payload, 0
	}
	compressed, err := content.CompressGeneric(payload)
	if err != nil || len(compressed) >= len(payload) {
		return payload, 0
	}
	return compressed, packet.FlagCompressed
}

// onSamples is the radio's non-blocking receive callback: it must
// return quickly, so demodulation and dispatch for one frame happen
// synchronously here but nothing here ever blocks on I/O.
func (n *Node) onSamples(samples []float32) {
	data, err := n.modem.Receive(samples)
	if err != nil {
		return // modem failures are confined to the frame and counted, never faulted
	}
	p, _, err := packet.Decode(data)
	if err != nil {
		return
	}
	n.dispatch(p)
}

func (n *Node) dispatch(p *packet.Packet) {
	switch p.Type {
	case packet.TypeAck:
		id, seq, err := reliability.DecodeAck(p.Payload)
		if err == nil {
			n.ackWaiter.NotifyAck(id, seq)
		}
		return
	case packet.TypeRREQ, packet.TypeRREP, packet.TypeRERR, packet.TypeDataRelay:
		n.dispatchMesh(p)
		return
	}

	n.ackFragment(p)

	body, complete, err := n.reassembler.Add(p)
	if err != nil || !complete {
		return
	}

	if p.Flags.Has(packet.FlagCompressed) {
		decompressed, err := content.Decompress(body)
		if err != nil {
			return
		}
		body = decompressed
	}

	switch p.Type {
	case packet.TypeRequest:
		n.handleRequest(p.ID, body)
	case packet.TypeResponse:
		n.handleResponse(p.ID, body, false)
	case packet.TypeDelta:
		n.handleResponse(p.ID, body, true)
	}
}

// ackFragment sends a TypeAck control frame back for every received
// fragment, keyed by the fragment's own (id, sequence) so the sender's
// AckWaiter wakes exactly the attempt that sent it.
func (n *Node) ackFragment(p *packet.Packet) {
	ack := &packet.Packet{
		Version:  packet.Version,
		Type:     packet.TypeAck,
		ID:       p.ID,
		Sequence: p.Sequence,
		Payload:  reliability.EncodeAck(p.ID, p.Sequence),
	}
	select {
	case n.txQueue <- ack:
	case <-n.ctx.Done():
	}
}

// handleRequest decodes an inbound request body. When a Verifier is
// attached via SetSigner, body must be a signed content.Envelope: it is
// verified before the payload is ever unmarshaled or handed to the
// registered handler, so an unsigned, tampered, replayed, or
// out-of-window request never reaches application code. The rejection
// is reported back to the sender as an error response rather than
// silently dropped, since these are named, expected failure modes, not
// transport faults. The handler and any rejection response run on their
// own goroutine, so the radio receive callback never waits for their
// acknowledgements.
func (n *Node) handleRequest(id packet.ID, body []byte) {
	n.mu.Lock()
	verifier := n.signer
	h := n.handler
	n.mu.Unlock()

	payload := body
	if verifier != nil {
		var env content.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			go n.sendResponse(id, "", Response{Status: 400, Body: []byte("transport: malformed signed envelope")})
			return
		}
		if err := verifier.Verify(&env, nowFunc()); err != nil {
			go n.sendResponse(id, "", Response{Status: 401, Body: []byte(err.Error())})
			return
		}
		payload = env.Payload
	}

	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	if h == nil {
		return
	}

	req := Request{Method: msg.Method, Path: msg.Path, Headers: msg.Headers, Body: msg.Body}
	go h(req, func(resp Response) {
		n.sendResponse(id, req.Path, resp)
	})
}

// sendResponse encodes and transmits resp. When resp.Tree is set, it is
// diffed against the tree this node last rendered for path: a small
// enough diff goes out as a TypeDelta packet of content.Op values,
// otherwise the full tree is rendered and sent as a TypeResponse (and
// remembered as the new base). A Tree-less Response is always sent
// whole, the same as before delta support existed.
func (n *Node) sendResponse(id packet.ID, path string, resp Response) {
	ptype := packet.TypeResponse
	var payload []byte
	var err error

	if resp.Tree != nil {
		n.mu.Lock()
		prev := n.lastTree[path]
		n.mu.Unlock()

		ops := content.Diff(prev, resp.Tree)
		if prev != nil && content.ShouldSendDelta(ops) {
			ptype = packet.TypeDelta
			payload, err = json.Marshal(ops)
		} else {
			msg := wireMessage{Status: resp.Status, Headers: resp.Headers, Body: []byte(content.Render(resp.Tree)), Tree: resp.Tree}
			payload, err = json.Marshal(msg)
		}
		if err == nil && path != "" {
			n.mu.Lock()
			n.lastTree[path] = resp.Tree
			n.mu.Unlock()
		}
	} else {
		msg := wireMessage{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}
		payload, err = json.Marshal(msg)
	}
	if err != nil {
		return
	}

	body, flags := compressBody(payload)
	frags, err := packet.Fragment(ptype, id, flags, body, packet.DefaultMaxFrameSize)
	if err != nil {
		return
	}
	ctx := n.ctx
	for _, f := range frags {
		f.Sequence = n.sequencer.Next()
		_ = n.ackWaiter.SendReliable(ctx, f)
	}
}

// handleResponse completes a pending SendRequest. isDelta distinguishes
// a TypeDelta packet (content.Op values applied against the tree this
// node previously received for pr.target/pr.path) from a whole
// TypeResponse (wireMessage, optionally carrying a fresh Tree to
// retain as the next delta's base).
func (n *Node) handleResponse(id packet.ID, body []byte, isDelta bool) {
	n.mu.Lock()
	pr, ok := n.pending[id]
	n.mu.Unlock()
	if !ok {
		return
	}
	key := string(pr.target) + "|" + pr.path

	if isDelta {
		var ops []content.Op
		if err := json.Unmarshal(body, &ops); err != nil {
			return
		}
		n.mu.Lock()
		prev := n.recvTree[key]
		n.mu.Unlock()
		if prev == nil {
			return // no base to apply the delta against
		}
		applied := content.Apply(prev, ops)
		n.mu.Lock()
		n.recvTree[key] = applied
		n.mu.Unlock()
		resp := Response{Body: []byte(content.Render(applied)), Tree: applied}
		select {
		case pr.ch <- resp:
		default:
		}
		return
	}

	var msg wireMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return
	}
	if msg.Tree != nil {
		n.mu.Lock()
		n.recvTree[key] = msg.Tree
		n.mu.Unlock()
	}
	resp := Response{Status: msg.Status, Headers: msg.Headers, Body: msg.Body, Tree: msg.Tree}
	select {
	case pr.ch <- resp:
	default:
	}
}

// dispatchMesh feeds routing-control and data-relay frames to the
// attached mesh.Router and carries out whatever Action it returns.
func (n *Node) dispatchMesh(p *packet.Packet) {
	n.mu.Lock()
	router := n.meshRouter
	prevHop := n.peer
	n.mu.Unlock()
	if router == nil {
		return
	}

	now := nowFunc()
	switch p.Type {
	case packet.TypeRREQ:
		req, err := mesh.DecodeRREQ(p.Payload)
		if err != nil {
			return
		}
		act, handled := router.HandleRREQ(req, prevHop, now)
		if handled {
			n.runMeshAction(act)
		}
	case packet.TypeRREP:
		rep, err := mesh.DecodeRREP(p.Payload)
		if err != nil {
			return
		}
		act, ok := router.HandleRREP(rep, prevHop, now)
		if ok {
			n.runMeshAction(act)
		}
	case packet.TypeRERR:
		rerr, err := mesh.DecodeRERR(p.Payload)
		if err != nil {
			return
		}
		router.HandleRERR(rerr, prevHop)
	case packet.TypeDataRelay:
		relay, err := mesh.DecodeDataRelay(p.Payload)
		if err != nil {
			return
		}
		msgKey := fmt.Sprintf("%s|%s|%d", relay.Source, p.ID, p.Sequence)
		act, err := router.RelayData(relay, msgKey, now)
		if err == nil {
			n.runMeshAction(act)
		}
	}
}

func (n *Node) runMeshAction(act mesh.Action) {
	switch {
	case act.BroadcastRREQ != nil:
		n.enqueueMesh(packet.TypeRREQ, mesh.EncodeRREQ(*act.BroadcastRREQ))
	case act.UnicastRREP != nil:
		n.enqueueMesh(packet.TypeRREP, mesh.EncodeRREP(act.UnicastRREP.Rep))
	case act.ForwardRERR != nil:
		n.enqueueMesh(packet.TypeRERR, mesh.EncodeRERR(act.ForwardRERR.Err))
	case act.ForwardData != nil:
		n.enqueueMesh(packet.TypeDataRelay, mesh.EncodeDataRelay(act.ForwardData.Relay))
	case len(act.FlushedData) > 0:
		// Route discovery just completed: replay whatever was queued
		// while the destination was unreachable, in arrival order.
		for _, fwd := range act.FlushedData {
			n.enqueueMesh(packet.TypeDataRelay, mesh.EncodeDataRelay(fwd.Relay))
		}
	case act.DeliverLocal != nil:
		p, _, err := packet.Decode(act.DeliverLocal)
		if err == nil {
			n.dispatch(p)
		}
	}
}

func (n *Node) enqueueMesh(typ packet.Type, payload []byte) {
	p := &packet.Packet{
		Version: packet.Version,
		Type:    typ,
		ID:      packet.NewID(),
		Payload: payload,
	}
	select {
	case n.txQueue <- p:
	case <-n.ctx.Done():
	}
}

// txTask is the TX task: it serialises the outbound queue onto the
// modem/radio one frame at a time, ahead of any new reliability
// retries that queue behind it.
func (n *Node) txTask() {
	for {
		select {
		case p := <-n.txQueue:
			n.mu.Lock()
			r := n.radioIf
			n.mu.Unlock()
			if r == nil {
				continue
			}
			samples := n.modem.Transmit(p.Encode())
			ctx, cancel := context.WithTimeout(n.ctx, transmitTimeout)
			_ = r.Transmit(ctx, samples)
			cancel()
		case <-n.ctx.Done():
			return
		}
	}
}
