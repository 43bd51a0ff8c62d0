package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport talks to a host runtime that exposes a WebSocket
// session instead of a raw socket. Each text message carries one frame; the
// terminator is stripped on write and restored on read so callers see the
// same byte stream as with TCP.
type WebSocketTransport struct {
	url    string
	header http.Header
	dialer websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	// gorilla/websocket supports one concurrent writer
	wmu sync.Mutex

	// rest of the current inbound message, owned by the reader
	pending []byte
}

// NewWebSocketTransport dials rawURL. A scheme-less address becomes ws://.
func NewWebSocketTransport(rawURL string, dialTimeout time.Duration) (*WebSocketTransport, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		u, err = url.Parse("ws://" + rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
		}
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported WebSocket scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return &WebSocketTransport{
		url:    u.String(),
		header: http.Header{},
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
	}, nil
}

func (t *WebSocketTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return fmt.Errorf("websocket transport to %s is already open", t.url)
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	t.conn = conn
	t.pending = nil
	slog.Debug("WebSocket transport opened", "url", t.url)
	return nil
}

func (t *WebSocketTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Read returns io.EOF when the peer closes the session or drops the socket.
func (t *WebSocketTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		conn := t.current()
		if conn == nil {
			return 0, ErrNotOpen
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return 0, io.EOF
			}
			return 0, err
		}
		t.pending = append(data, '\n')
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// Write sends every terminated frame in p as its own text message.
func (t *WebSocketTransport) Write(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, ErrNotOpen
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
			return 0, fmt.Errorf("failed to send WebSocket message: %w", err)
		}
	}
	return len(p), nil
}

func (t *WebSocketTransport) Interrupt() error {
	conn := t.current()
	if conn == nil {
		return nil
	}
	return conn.SetReadDeadline(time.Now())
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	t.wmu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.wmu.Unlock()
	if err != nil {
		slog.Debug("Failed to send close message", "error", err)
	}

	slog.Debug("WebSocket transport closed", "url", t.url)
	return conn.Close()
}

func (t *WebSocketTransport) Addr() string     { return t.url }
func (t *WebSocketTransport) Protocol() string { return "websocket" }
