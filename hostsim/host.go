// Package hostsim is a stand-in for the game engine side of the bridge. It
// listens, accepts one peer at a time and speaks the same newline-delimited
// JSON framing. Tests and cmd/hostsim use it.
package hostsim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/gobridge/frame"
	"github.com/mbocsi/gobridge/proto"
)

// ErrNoPeer is returned by Send when nothing is connected.
var ErrNoPeer = errors.New("hostsim: no peer connected")

type peer interface {
	send(data []byte) error
	close() error
	remote() string
}

// Host holds the state shared by the TCP and WebSocket variants.
type Host struct {
	protocol string

	mu        sync.Mutex
	peer      peer
	accepted  int
	onMessage func(proto.Message)
	onConnect func(remote string)

	received chan proto.Message
}

func newHost(protocol string) *Host {
	return &Host{protocol: protocol, received: make(chan proto.Message, 256)}
}

// Received delivers every decoded inbound message in arrival order.
func (h *Host) Received() <-chan proto.Message {
	return h.received
}

// OnMessage installs a callback run on the peer's read goroutine before the
// message is queued on Received.
func (h *Host) OnMessage(fn func(proto.Message)) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

// OnConnect installs a callback run when a peer is accepted.
func (h *Host) OnConnect(fn func(remote string)) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

// Accepted reports how many peers have connected so far.
func (h *Host) Accepted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

// Connected reports whether a peer is attached.
func (h *Host) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peer != nil
}

// WaitPeer blocks until a peer is attached or ctx is done.
func (h *Host) WaitPeer(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if h.Connected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Send encodes msg as one frame and writes it to the peer.
func (h *Host) Send(msg proto.Message) error {
	data, err := frame.Encode(msg)
	if err != nil {
		return err
	}
	return h.SendRaw(data)
}

// SendRaw writes bytes to the peer unchanged, which lets tests split frames
// or inject malformed ones.
func (h *Host) SendRaw(data []byte) error {
	h.mu.Lock()
	p := h.peer
	h.mu.Unlock()
	if p == nil {
		return ErrNoPeer
	}
	return p.send(data)
}

// DropPeer closes the current peer connection from the host side.
func (h *Host) DropPeer() error {
	h.mu.Lock()
	p := h.peer
	h.peer = nil
	h.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.close()
}

// attach registers p as the current peer. It fails when one is attached.
func (h *Host) attach(p peer) bool {
	h.mu.Lock()
	if h.peer != nil {
		h.mu.Unlock()
		return false
	}
	h.peer = p
	h.accepted++
	onConnect := h.onConnect
	h.mu.Unlock()

	slog.Info("Bridge peer connected", "protocol", h.protocol, "addr", p.remote())
	if onConnect != nil {
		onConnect(p.remote())
	}
	return true
}

func (h *Host) detach(p peer) {
	h.mu.Lock()
	if h.peer == p {
		h.peer = nil
	}
	h.mu.Unlock()
	slog.Info("Bridge peer disconnected", "protocol", h.protocol, "addr", p.remote())
}

func (h *Host) deliver(msg proto.Message) {
	h.mu.Lock()
	onMessage := h.onMessage
	h.mu.Unlock()

	slog.Debug("Message received", "protocol", h.protocol, "type", msg.Type())
	if onMessage != nil {
		onMessage(msg)
	}
	select {
	case h.received <- msg:
	default:
		slog.Warn("Received queue full, dropping message", "type", msg.Type())
	}
}
