package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPTransport is the raw socket variant.
type TCPTransport struct {
	addr   string
	dialer net.Dialer

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPTransport dials addr ("host:port"). A zero dialTimeout leaves only
// the context passed to Open in charge of the deadline.
func NewTCPTransport(addr string, dialTimeout time.Duration) *TCPTransport {
	return &TCPTransport{addr: addr, dialer: net.Dialer{Timeout: dialTimeout}}
}

func (t *TCPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return fmt.Errorf("tcp transport to %s is already open", t.addr)
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return err
	}
	t.conn = conn
	slog.Debug("TCP transport opened", "addr", t.addr, "local", conn.LocalAddr().String())
	return nil
}

func (t *TCPTransport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *TCPTransport) Read(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, ErrNotOpen
	}
	return conn.Read(p)
}

// Write is safe for concurrent callers; net.Conn serializes writes.
func (t *TCPTransport) Write(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, ErrNotOpen
	}
	return conn.Write(p)
}

func (t *TCPTransport) Interrupt() error {
	conn := t.current()
	if conn == nil {
		return nil
	}
	return conn.SetReadDeadline(time.Now())
}

// Close releases the connection. Calling it again is a no-op.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	slog.Debug("TCP transport closed", "addr", t.addr)
	return conn.Close()
}

func (t *TCPTransport) Addr() string     { return t.addr }
func (t *TCPTransport) Protocol() string { return "tcp" }
