package radio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is the DNS-SD service type TCPBridge announces under, a
// pure-Go KISS-over-TCP-style announcement (no system mDNS daemon or
// C library dependency required).
const ServiceType = "_meshttp-bridge._tcp"

// reconnectDelay is how long TCPBridge waits before attempting to
// reattach after the peer connection drops.
const reconnectDelay = 5 * time.Second

// TCPBridge carries baseband sample frames between two processes over
// a plain TCP connection: each frame is a 4-byte LE length (in
// samples) followed by that many little-endian float32 values. It
// reattaches automatically if the connection drops, mirroring
// agwlib.go's tnc_listen_thread reconnect loop.
type TCPBridge struct {
	addr   string
	dial   bool // true: we dial out; false: we accept a single inbound connection
	logger *log.Logger

	mu       sync.Mutex
	conn     net.Conn
	listener net.Listener
	callback func([]float32)
	closed   bool
	errs     int

	ctx    context.Context
	cancel context.CancelFunc
}

// DialTCPBridge connects out to addr (host:port).
func DialTCPBridge(addr string) *TCPBridge {
	return newBridge(addr, true)
}

// ListenTCPBridge accepts one inbound connection on addr, optionally
// announcing itself via DNS-SD under name (empty disables the
// announcement).
func ListenTCPBridge(addr string, announceName string) (*TCPBridge, error) {
	b := newBridge(addr, false)
	l, err := net.Listen("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("radio: listening on %s: %w", addr, err)
	}
	b.listener = l

	if announceName != "" {
		if err := announce(l, announceName); err != nil {
			b.logger.Warn("dns-sd announce failed", "err", err)
		}
	}
	return b, nil
}

func newBridge(addr string, dial bool) *TCPBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPBridge{
		addr:   addr,
		dial:   dial,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "radio"}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func announce(l net.Listener, name string) error {
	port, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("radio: listener is not TCP")
	}
	cfg := dnssd.Config{Name: name, Type: ServiceType, Port: port.Port}
	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("radio: building dns-sd service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("radio: building dns-sd responder: %w", err)
	}
	if _, err := rp.Add(sv); err != nil {
		return fmt.Errorf("radio: adding dns-sd service: %w", err)
	}
	go func() {
		if err := rp.Respond(context.Background()); err != nil {
			log.Warn("dns-sd responder stopped", "err", err)
		}
	}()
	return nil
}

// StartReceive begins the connect/accept-and-listen loop; callback is
// invoked with each decoded sample frame.
func (b *TCPBridge) StartReceive(callback func(samples []float32)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.callback = callback
	b.mu.Unlock()

	go b.listenLoop()
	return nil
}

func (b *TCPBridge) listenLoop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		conn, err := b.acquireConn()
		if err != nil {
			b.logger.Error("attaching to peer", "err", err)
			b.bumpErrors()
			select {
			case <-time.After(reconnectDelay):
			case <-b.ctx.Done():
				return
			}
			continue
		}

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		b.readFrames(conn)

		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
	}
}

func (b *TCPBridge) acquireConn() (net.Conn, error) {
	if b.dial {
		return net.Dial("tcp4", b.addr)
	}
	return b.listener.Accept()
}

func (b *TCPBridge) readFrames(conn net.Conn) {
	var lenBuf [4]byte
	for {
		if _, err := fillFrom(conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		raw := make([]byte, int(n)*4)
		if _, err := fillFrom(conn, raw); err != nil {
			return
		}
		samples := make([]float32, n)
		for i := range samples {
			bits := binary.LittleEndian.Uint32(raw[i*4:])
			samples[i] = math.Float32frombits(bits)
		}

		b.mu.Lock()
		cb := b.callback
		b.mu.Unlock()
		if cb != nil {
			cb(samples)
		}
	}
}

func fillFrom(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Transmit blocks until samples are written to the peer connection (or
// ctx is cancelled). It returns an error if no connection is currently
// established; the caller's retry/ack layer handles the rest.
func (b *TCPBridge) Transmit(ctx context.Context, samples []float32) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("radio: no active connection")
	}

	buf := make([]byte, 4+len(samples)*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(samples)))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(s))
	}

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := conn.Write(buf)
		done <- result{err}
	}()
	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *TCPBridge) StopReceive() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback = nil
}

func (b *TCPBridge) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{Connected: b.conn != nil, Errors: b.errs}
}

func (b *TCPBridge) bumpErrors() {
	b.mu.Lock()
	b.errs++
	b.mu.Unlock()
}

// Close stops the listen loop and closes any active connection.
func (b *TCPBridge) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	l := b.listener
	b.mu.Unlock()
	b.cancel()
	if conn != nil {
		conn.Close()
	}
	if l != nil {
		return l.Close()
	}
	return nil
}
