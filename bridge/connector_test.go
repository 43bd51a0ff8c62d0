package bridge

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/gobridge/hostsim"
	"github.com/mbocsi/gobridge/proto"
	"github.com/mbocsi/gobridge/transport"
)

const waitFor = 2 * time.Second

func startHost(t *testing.T) *hostsim.TCPHost {
	t.Helper()
	h := hostsim.NewTCPHost("127.0.0.1:0")
	require.NoError(t, h.Start())
	t.Cleanup(func() { h.Shutdown() })
	return h
}

func connectTCP(t *testing.T, h *hostsim.TCPHost, opts ...Option) *Connector {
	t.Helper()
	c := New(transport.NewTCPTransport(h.Addr(), time.Second), opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.WaitPeer(ctx))
	return c
}

func receive(t *testing.T, h interface{ Received() <-chan proto.Message }) proto.Message {
	t.Helper()
	select {
	case msg := <-h.Received():
		return msg
	case <-time.After(waitFor):
		t.Fatal("host received nothing")
		return nil
	}
}

func TestConnector_PlayerInputReachesHandler(t *testing.T) {
	h := startHost(t)

	got := make(chan string, 1)
	c := New(transport.NewTCPTransport(h.Addr(), time.Second))
	c.RegisterCallback(proto.EventPlayerInput, func(msg proto.Message) error {
		got <- msg.String("text")
		return nil
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	assert.Equal(t, Connected, c.State())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.WaitPeer(ctx))

	require.NoError(t, h.SendRaw([]byte(`{"type": "player_input", "text": "hello"}`+"\n")))
	select {
	case text := <-got:
		assert.Equal(t, "hello", text)
	case <-time.After(waitFor):
		t.Fatal("handler was not called")
	}
}

func TestConnector_RPCWritesExactFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := New(transport.NewTCPTransport(ln.Addr().String(), time.Second))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(waitFor):
		t.Fatal("no connection accepted")
	}
	defer conn.Close()

	require.NoError(t, c.RPC(context.Background(), "wave"))
	require.NoError(t, c.RPC(context.Background(), "play_animation", "/root/Avatar", "wave", 0.5))

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"args":[],"function":"wave","type":"rpc"}`+"\n", line)

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"args":["/root/Avatar","wave",0.5],"function":"play_animation","type":"rpc"}`+"\n", line)
}

func TestConnector_FramesDispatchedInOrder(t *testing.T) {
	h := startHost(t)

	var mu sync.Mutex
	var seen []float64
	done := make(chan struct{})
	c := New(transport.NewTCPTransport(h.Addr(), time.Second), WithReadBufferSize(7))
	c.RegisterCallback("tick", func(msg proto.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg["n"].(float64))
		if len(seen) == 3 {
			close(done)
		}
		return nil
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.WaitPeer(ctx))

	// a malformed frame between valid ones is skipped
	require.NoError(t, h.SendRaw([]byte(`{"type":"tick","n":1}`+"\n"+`{"type":"tick"`)))
	require.NoError(t, h.SendRaw([]byte(`,"n":2}`+"\nnot json\n"+`{"type":"tick","n":3}`+"\n")))

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("not all frames were dispatched")
	}
	mu.Lock()
	assert.Equal(t, []float64{1, 2, 3}, seen)
	mu.Unlock()
	assert.Equal(t, Connected, c.State())
}

func TestConnector_FailingHandlerDoesNotStopLoop(t *testing.T) {
	h := startHost(t)

	got := make(chan struct{}, 1)
	c := New(transport.NewTCPTransport(h.Addr(), time.Second))
	c.RegisterCallback("bad", func(proto.Message) error { panic("handler bug") })
	c.RegisterCallback("good", func(proto.Message) error { got <- struct{}{}; return nil })
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.WaitPeer(ctx))

	require.NoError(t, h.Send(proto.Message{"type": "bad"}))
	require.NoError(t, h.Send(proto.Message{"type": "unknown"}))
	require.NoError(t, h.Send(proto.Message{"type": "good"}))

	select {
	case <-got:
	case <-time.After(waitFor):
		t.Fatal("loop stopped after failing handler")
	}
	assert.Equal(t, Connected, c.State())
}

func TestConnector_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := New(transport.NewTCPTransport(addr, time.Second))
	err = c.Connect(context.Background())

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, addr, connErr.Addr)
	assert.Contains(t, err.Error(), "could not connect to host at "+addr)
	assert.Equal(t, Disconnected, c.State())
}

func TestConnector_ConnectTwiceIsInvalid(t *testing.T) {
	h := startHost(t)
	c := connectTCP(t, h)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrInvalidState)
	assert.Equal(t, Connected, c.State())
}

func TestConnector_DisconnectIsIdempotent(t *testing.T) {
	h := startHost(t)
	c := connectTCP(t, h)

	var reasons []error
	var mu sync.Mutex
	c.OnClosed(func(reason error) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})

	start := time.Now()
	require.NoError(t, c.Disconnect())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, c.State())
	require.NoError(t, c.Disconnect())

	select {
	case <-c.Done():
	default:
		t.Fatal("receive loop still running")
	}

	mu.Lock()
	assert.Equal(t, []error{nil}, reasons)
	mu.Unlock()

	assert.ErrorIs(t, c.Send(context.Background(), proto.Message{"type": "x"}), ErrNotConnected)
}

func TestConnector_DisconnectNeverConnected(t *testing.T) {
	c := New(transport.NewTCPTransport("127.0.0.1:1", time.Second))
	assert.NoError(t, c.Disconnect())
	assert.Equal(t, Disconnected, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed before the first connect")
	}
}

func TestConnector_HostCloseEndsLoop(t *testing.T) {
	h := startHost(t)

	closed := make(chan error, 1)
	c := connectTCP(t, h, WithOnClosed(func(reason error) { closed <- reason }))

	require.NoError(t, h.DropPeer())

	select {
	case reason := <-closed:
		assert.ErrorIs(t, reason, ErrPeerClosed)
	case <-time.After(waitFor):
		t.Fatal("host close went unnoticed")
	}
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("receive loop did not exit")
	}
	assert.Equal(t, Disconnected, c.State())

	start := time.Now()
	require.NoError(t, c.Disconnect())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.ErrorIs(t, c.Send(context.Background(), proto.Message{"type": "x"}), ErrNotConnected)
}

func TestConnector_Reconnect(t *testing.T) {
	h := startHost(t)
	c := connectTCP(t, h)
	first := c.Status().Epoch
	require.NotEmpty(t, first)

	require.NoError(t, c.Disconnect())
	require.Eventually(t, func() bool { return !h.Connected() }, waitFor, 5*time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.WaitPeer(ctx))

	assert.NotEqual(t, first, c.Status().Epoch)
	require.NoError(t, c.Send(context.Background(), proto.Message{"type": "hello"}))
	assert.Equal(t, "hello", receive(t, h).Type())
	assert.Equal(t, 2, h.Accepted())
}

func TestConnector_SlowHandlerBoundsDisconnect(t *testing.T) {
	h := startHost(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	c := connectTCP(t, h, WithJoinTimeout(50*time.Millisecond))
	c.RegisterCallback("slow", func(proto.Message) error {
		close(entered)
		<-release
		return nil
	})
	defer close(release)

	require.NoError(t, h.Send(proto.Message{"type": "slow"}))
	<-entered

	start := time.Now()
	c.Disconnect()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, c.State())
}

func TestConnector_HandlerMaySend(t *testing.T) {
	h := startHost(t)
	c := connectTCP(t, h)
	c.RegisterCallback(proto.EventPlayerInput, func(msg proto.Message) error {
		return c.Send(context.Background(), proto.NewEvent(proto.EventCharacterSpoke, map[string]any{
			"text": "you said " + msg.String("text"),
		}))
	})

	require.NoError(t, h.Send(proto.Message{"type": "player_input", "text": "hi"}))
	reply := receive(t, h)
	assert.Equal(t, "character_spoke", reply.Type())
	assert.Equal(t, "you said hi", reply.String("text"))
}

func TestConnector_WebSocket(t *testing.T) {
	h := hostsim.NewWSHost("127.0.0.1:0")
	require.NoError(t, h.Start())
	t.Cleanup(func() { h.Shutdown() })

	ws, err := transport.NewWebSocketTransport(h.URL(), time.Second)
	require.NoError(t, err)

	got := make(chan string, 1)
	closed := make(chan error, 1)
	c := New(ws, WithOnClosed(func(reason error) { closed <- reason }))
	c.RegisterCallback(proto.EventPlayerInput, func(msg proto.Message) error {
		got <- msg.String("text")
		return nil
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	assert.Equal(t, "websocket", c.Protocol())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.WaitPeer(ctx))

	require.NoError(t, c.RPC(context.Background(), "wave"))
	assert.Equal(t, proto.Message{"type": "rpc", "function": "wave", "args": []any{}}, receive(t, h))

	require.NoError(t, h.Send(proto.Message{"type": "player_input", "text": "over ws"}))
	select {
	case text := <-got:
		assert.Equal(t, "over ws", text)
	case <-time.After(waitFor):
		t.Fatal("handler was not called")
	}

	require.NoError(t, c.Disconnect())
	assert.NoError(t, <-closed)
}

func TestConnector_Metrics(t *testing.T) {
	h := startHost(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")
	c := connectTCP(t, h, WithMetrics(m))

	require.NoError(t, c.RPC(context.Background(), "wave"))
	receive(t, h)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connects.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesOut))
	assert.Equal(t, float64(len(`{"args":[],"function":"wave","type":"rpc"}`+"\n")), testutil.ToFloat64(m.bytesOut))
	assert.Equal(t, float64(Connected), testutil.ToFloat64(m.state))

	require.NoError(t, h.SendRaw([]byte("nope\n")))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.decodeErrors) == 1
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, float64(Disconnected), testutil.ToFloat64(m.state))
}

func TestConnector_Status(t *testing.T) {
	h := startHost(t)
	c := New(transport.NewTCPTransport(h.Addr(), time.Second))
	c.RegisterCallback("b", func(proto.Message) error { return nil })
	c.RegisterCallback("a", func(proto.Message) error { return nil })

	s := c.Status()
	assert.Equal(t, Disconnected, s.State)
	assert.Empty(t, s.Epoch)
	assert.Equal(t, "tcp", s.Protocol)
	assert.Equal(t, h.Addr(), s.Addr)
	assert.Equal(t, []string{"a", "b"}, s.Events)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	s = c.Status()
	assert.Equal(t, Connected, s.State)
	assert.NotEmpty(t, s.Epoch)
	assert.False(t, s.ConnectedAt.IsZero())
}

func TestConnector_SendRateLimit(t *testing.T) {
	h := startHost(t)
	c := connectTCP(t, h, WithSendRate(1, 1))

	require.NoError(t, c.RPC(context.Background(), "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.RPC(ctx, "second"))
}

// fakeTransport records writes and blocks reads until closed.
type fakeTransport struct {
	opened   atomic.Bool
	writes   atomic.Int32
	openErr  error
	writeErr error
	closed   chan struct{}
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) Open(ctx context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened.Store(true)
	return nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	<-f.closed
	return 0, io.EOF
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes.Add(1)
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return len(p), nil
}

func (f *fakeTransport) Interrupt() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Addr() string     { return "fake:0" }
func (f *fakeTransport) Protocol() string { return "fake" }

func TestConnector_SendWhileDisconnectedWritesNothing(t *testing.T) {
	ft := newFakeTransport()
	c := New(ft)

	err := c.Send(context.Background(), proto.Message{"type": "x"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.RPC(context.Background(), "wave"), ErrNotConnected)
	assert.Zero(t, ft.writes.Load())
	assert.False(t, ft.opened.Load())
}

func TestConnector_WriteFailureIsTransportError(t *testing.T) {
	ft := newFakeTransport()
	ft.writeErr = errors.New("broken pipe")
	c := New(ft)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	err := c.RPC(context.Background(), "wave")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "write", terr.Op)
	assert.Equal(t, Connected, c.State())
}

func TestConnector_SendRejectsNilMessage(t *testing.T) {
	ft := newFakeTransport()
	c := New(ft)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	assert.Error(t, c.Send(context.Background(), nil))
	assert.Zero(t, ft.writes.Load())
}

func TestConnectWithRetry(t *testing.T) {
	ft := newFakeTransport()
	ft.openErr = errors.New("refused")
	c := New(ft)

	start := time.Now()
	err := ConnectWithRetry(context.Background(), c, 3, 5*time.Millisecond)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	ft.openErr = nil
	require.NoError(t, ConnectWithRetry(context.Background(), c, 3, time.Millisecond))
	defer c.Disconnect()
	assert.Equal(t, Connected, c.State())

	// not a connection failure, so no retry
	assert.ErrorIs(t, ConnectWithRetry(context.Background(), c, 3, time.Second), ErrInvalidState)
}

func TestConnector_DefaultHostPort(t *testing.T) {
	h := hostsim.NewTCPHost("127.0.0.1:9000")
	if err := h.Start(); err != nil {
		t.Skipf("port 9000 unavailable: %v", err)
	}
	t.Cleanup(func() { h.Shutdown() })

	got := make(chan proto.Message, 1)
	c := New(transport.NewTCPTransport("127.0.0.1:9000", time.Second))
	c.RegisterCallback(proto.EventPlayerInput, func(msg proto.Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.WaitPeer(ctx))

	require.NoError(t, h.SendRaw([]byte(`{"type":"player_input","text":"hi"}`+"\n")))
	select {
	case msg := <-got:
		assert.Equal(t, proto.Message{"type": "player_input", "text": "hi"}, msg)
	case <-time.After(waitFor):
		t.Fatal("handler was not called")
	}
}
