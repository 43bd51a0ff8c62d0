// Package transport owns the raw byte stream to the game host. The bridge
// picks one implementation at construction time and never branches on it
// afterwards.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrNotOpen is returned by Read and Write before Open or after Close.
var ErrNotOpen = errors.New("transport is not open")

// Transport is a reopenable bidirectional byte stream. One connection exists
// between Open and Close; Open may be called again after Close.
type Transport interface {
	io.ReadWriteCloser

	// Open establishes the connection. It blocks until the peer accepts,
	// the dial fails, or ctx is done.
	Open(ctx context.Context) error

	// Interrupt makes a pending Read return promptly without releasing
	// the connection, so the reader can be joined before Close.
	Interrupt() error

	// Addr is the peer address used for Open.
	Addr() string

	// Protocol names the variant, e.g. "tcp" or "websocket".
	Protocol() string
}

// New builds the variant named by protocol ("tcp" or "websocket"). For tcp
// addr is host:port; for websocket it is a URL or host:port.
func New(protocol, addr string, dialTimeout time.Duration) (Transport, error) {
	switch strings.ToLower(protocol) {
	case "", "tcp":
		return NewTCPTransport(addr, dialTimeout), nil
	case "websocket", "ws":
		ws, err := NewWebSocketTransport(addr, dialTimeout)
		if err != nil {
			return nil, err
		}
		return ws, nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", protocol)
	}
}
