package hostsim

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/mbocsi/gobridge/frame"
)

// TCPHost accepts raw socket peers.
type TCPHost struct {
	*Host
	listenAddr string
	listener   net.Listener
}

func NewTCPHost(addr string) *TCPHost {
	return &TCPHost{Host: newHost("tcp"), listenAddr: addr}
}

// Start binds the listener and accepts peers in the background.
func (t *TCPHost) Start() error {
	l, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("hostsim: listen %s: %w", t.listenAddr, err)
	}
	t.listener = l
	slog.Info("Starting tcp host", "addr", l.Addr().String())

	go t.acceptLoop()
	return nil
}

// Addr is the bound address, valid after Start.
func (t *TCPHost) Addr() string {
	if t.listener == nil {
		return t.listenAddr
	}
	return t.listener.Addr().String()
}

func (t *TCPHost) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Warn("Accept failed", "error", err)
			}
			return
		}

		p := &tcpPeer{conn: conn}
		if !t.attach(p) {
			slog.Warn("Peer already connected, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}
		go t.handleConnection(p)
	}
}

func (t *TCPHost) handleConnection(p *tcpPeer) {
	defer func() {
		t.detach(p)
		p.conn.Close()
	}()

	var dec frame.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				msg, err := dec.Next()
				if errors.Is(err, frame.ErrIncomplete) {
					break
				}
				if err != nil {
					slog.Warn("Invalid JSON message received", "error", err)
					continue
				}
				t.deliver(msg)
			}
		}
		if err != nil {
			return
		}
	}
}

// Shutdown stops accepting and drops the current peer.
func (t *TCPHost) Shutdown() error {
	slog.Info("Shutting down tcp host", "addr", t.Addr())
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.DropPeer()
	return err
}

type tcpPeer struct {
	conn net.Conn
}

func (p *tcpPeer) send(data []byte) error {
	_, err := p.conn.Write(data)
	return err
}

func (p *tcpPeer) close() error   { return p.conn.Close() }
func (p *tcpPeer) remote() string { return p.conn.RemoteAddr().String() }
