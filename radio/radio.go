// Package radio implements the host-side radio interface consumed by
// the modem: transmit, non-blocking receive callback, and status.
// Real audio/serial/rig-control hardware is out of scope for this
// module; the implementations here are a loopback for testing and a
// KISS-style TCP bridge for multi-process integration.
package radio

import (
	"context"
	"errors"
	"sync"
)

// Status mirrors the host radio interface's status() call.
type Status struct {
	Connected bool
	PTT       bool
	Errors    int
}

// Interface is the radio capability the transport scheduler drives:
// transmit blocks until the samples are drained (simulating keyed
// PTT), and the receive callback must be non-blocking (the caller is
// expected to hand samples off to a channel, never process them
// inline).
type Interface interface {
	Transmit(ctx context.Context, samples []float32) error
	StartReceive(callback func(samples []float32)) error
	StopReceive()
	GetStatus() Status
}

// ErrClosed is returned by a Loopback or TCPBridge operation performed
// after Close.
var ErrClosed = errors.New("radio: interface closed")

// Loopback is an in-memory back-to-back radio: whatever is transmitted
// on one end is delivered to the receive callback on the other,
// letting two in-process nodes exchange frames with no physical
// channel at all.
type Loopback struct {
	mu       sync.Mutex
	peer     *Loopback
	callback func([]float32)
	closed   bool
	errors   int
}

// NewLoopbackPair returns two Loopback radios wired to each other.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{}
	b := &Loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) Transmit(ctx context.Context, samples []float32) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	peer := l.peer
	l.mu.Unlock()

	peer.mu.Lock()
	cb := peer.callback
	peer.mu.Unlock()
	if cb != nil {
		cp := append([]float32(nil), samples...)
		cb(cp)
	}
	return nil
}

func (l *Loopback) StartReceive(callback func(samples []float32)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.callback = callback
	return nil
}

func (l *Loopback) StopReceive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callback = nil
}

func (l *Loopback) GetStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{Connected: !l.closed, Errors: l.errors}
}

// Close tears down the loopback; subsequent Transmit calls fail.
func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.callback = nil
}
