package hostsim

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/gobridge/frame"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tooling only
	},
}

// WSHost accepts WebSocket peers, one frame per text message.
type WSHost struct {
	*Host
	listenAddr string
	listener   net.Listener
	server     *http.Server
}

func NewWSHost(addr string) *WSHost {
	return &WSHost{Host: newHost("websocket"), listenAddr: addr}
}

func (t *WSHost) Start() error {
	l, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("hostsim: listen %s: %w", t.listenAddr, err)
	}
	t.listener = l

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleWebSocket)
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	slog.Info("Starting WebSocket host", "addr", l.Addr().String())
	go func() {
		if err := t.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("WebSocket host stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the bound host:port; dial it as ws://Addr/.
func (t *WSHost) Addr() string {
	if t.listener == nil {
		return t.listenAddr
	}
	return t.listener.Addr().String()
}

// URL is the WebSocket URL of the host.
func (t *WSHost) URL() string {
	return "ws://" + t.Addr() + "/"
}

func (t *WSHost) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	p := &wsPeer{conn: conn, addr: r.RemoteAddr}
	if !t.attach(p) {
		slog.Warn("Peer already connected, rejecting connection", "remote_addr", r.RemoteAddr)
		conn.Close()
		return
	}
	go t.handleConnection(p)
}

func (t *WSHost) handleConnection(p *wsPeer) {
	defer func() {
		t.detach(p)
		p.conn.Close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection error", "addr", p.addr, "error", err)
			}
			return
		}
		msg, err := frame.Decode(bytes.TrimSpace(data))
		if err != nil {
			slog.Warn("Invalid JSON message received", "error", err)
			continue
		}
		t.deliver(msg)
	}
}

func (t *WSHost) Shutdown() error {
	slog.Info("Shutting down WebSocket host", "addr", t.Addr())
	var err error
	if t.server != nil {
		err = t.server.Close()
	}
	t.DropPeer()
	return err
}

type wsPeer struct {
	conn *websocket.Conn
	addr string
	wmu  sync.Mutex
}

// send writes each terminated frame in data as one text message.
func (p *wsPeer) send(data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	for _, line := range bytes.Split(data, []byte{frame.Terminator}) {
		if len(line) == 0 {
			continue
		}
		if err := p.conn.WriteMessage(websocket.TextMessage, line); err != nil {
			return err
		}
	}
	return nil
}

func (p *wsPeer) close() error {
	p.wmu.Lock()
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.wmu.Unlock()
	return p.conn.Close()
}

func (p *wsPeer) remote() string { return p.addr }
