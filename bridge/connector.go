// Package bridge connects an application to a game host over a single
// persistent connection. A Connector owns the transport, runs one receive
// goroutine per connection, routes inbound events to registered handlers and
// writes outbound messages and fire-and-forget RPCs.
//
// Handlers run one at a time on the receive goroutine in the order their
// frames arrived. A handler may call Send or RPC; it must not call
// Disconnect synchronously, since Disconnect waits for that goroutine (use
// go c.Disconnect()). For the same reason it must not wait on a reply that
// arrives as another event, such as an rpccall result.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mbocsi/gobridge/frame"
	"github.com/mbocsi/gobridge/proto"
	"github.com/mbocsi/gobridge/transport"
)

type Connector struct {
	transport  transport.Transport
	dispatcher *Dispatcher
	opts       options
	logger     *slog.Logger
	limiter    *rate.Limiter

	mu          sync.Mutex
	state       State
	cur         *epoch // the pending, live or most recent connection
	connectedAt time.Time
	cancelDial  context.CancelFunc
	settled     chan struct{} // closed once a pending Connect resolves
	onClosed    func(reason error)

	writeMu sync.Mutex
}

// epoch is one connection attempt and, if it succeeds, its receive loop.
// A receive loop only consults its own epoch.
type epoch struct {
	id string
	// stop is the only cancellation signal for the receive loop. Whoever
	// flips it from false to true owns closing the transport.
	stop atomic.Bool
	done chan struct{} // closed when the receive loop exits, or at once if none ran
}

// New returns a disconnected Connector over t. The transport variant is
// fixed for the Connector's lifetime.
func New(t transport.Transport, opts ...Option) *Connector {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With("protocol", t.Protocol(), "addr", t.Addr())
	c := &Connector{
		transport:  t,
		dispatcher: NewDispatcher(logger, o.metrics),
		opts:       o,
		logger:     logger,
		onClosed:   o.onClosed,
	}
	if o.sendRate > 0 {
		burst := o.sendBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(o.sendRate), burst)
	}
	o.metrics.setState(Disconnected)
	return c
}

// Connect opens the transport and starts the receive loop. It is valid only
// while Disconnected and never retries; a failure leaves the Connector
// Disconnected and returns a *ConnectionError.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, state)
	}

	var dialCtx context.Context
	var cancel context.CancelFunc
	if c.opts.dialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.dialTimeout)
	} else {
		dialCtx, cancel = context.WithCancel(ctx)
	}
	settled := make(chan struct{})
	e := &epoch{id: uuid.NewString(), done: make(chan struct{})}
	c.cancelDial = cancel
	c.settled = settled
	c.cur = e
	c.setState(Connecting)
	c.mu.Unlock()

	c.logger.Info("Connecting to host")
	err := c.transport.Open(dialCtx)
	cancel()

	c.mu.Lock()
	c.cancelDial = nil
	if err == nil && e.stop.Load() {
		// Disconnect ran while the dial was in flight.
		c.transport.Close()
		err = context.Canceled
	}
	if err != nil {
		c.setState(Disconnected)
		c.mu.Unlock()
		close(e.done)
		close(settled)

		c.opts.metrics.connectAttempt("error")
		c.logger.Warn("Could not connect to host", "error", err)
		return &ConnectionError{Addr: c.transport.Addr(), Err: err}
	}

	c.connectedAt = time.Now()
	c.setState(Connected)
	c.mu.Unlock()
	close(settled)

	c.opts.metrics.connectAttempt("ok")
	c.logger.Info("Connected to host", "epoch", e.id)
	go c.receiveLoop(e)
	return nil
}

// Disconnect stops the receive loop, waits for it (bounded by the join
// timeout), closes the transport and returns to Disconnected. It is a no-op
// when already Disconnected.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case Disconnected:
		c.mu.Unlock()
		return nil

	case Connecting:
		c.cur.stop.Store(true)
		cancel, settled := c.cancelDial, c.settled
		c.setState(Disconnecting)
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.join(settled, "connect")
		return nil

	case Disconnecting:
		// another caller or the receive loop is already tearing down
		done := c.cur.done
		c.mu.Unlock()
		c.join(done, "receive loop")
		return nil
	}

	done := c.cur.done
	if !c.cur.stop.CompareAndSwap(false, true) {
		c.mu.Unlock()
		c.join(done, "receive loop")
		return nil
	}
	c.setState(Disconnecting)
	c.mu.Unlock()

	c.logger.Info("Disconnecting from host")
	if err := c.transport.Interrupt(); err != nil {
		c.logger.Debug("Interrupting read failed", "error", err)
	}
	c.join(done, "receive loop")

	closeErr := c.transport.Close()

	c.mu.Lock()
	c.setState(Disconnected)
	c.mu.Unlock()

	c.logger.Info("Disconnected from host")
	c.notifyClosed(nil)
	if closeErr != nil {
		return &TransportError{Op: "close", Err: closeErr}
	}
	return nil
}

func (c *Connector) join(ch <-chan struct{}, what string) bool {
	if ch == nil {
		return true
	}
	timer := time.NewTimer(c.opts.joinTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		c.logger.Warn("Timed out waiting for "+what, "timeout", c.opts.joinTimeout)
		return false
	}
}

// Send writes msg as one frame. It fails with ErrNotConnected, without
// writing, unless the Connector is Connected, and with a *TransportError if
// the write fails. Send never changes the connection state; the receive loop
// notices a vanished host.
func (c *Connector) Send(ctx context.Context, msg proto.Message) error {
	if state := c.State(); state != Connected {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, state)
	}

	data, err := frame.Encode(msg)
	if err != nil {
		return err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send rate limit: %w", err)
		}
	}

	c.writeMu.Lock()
	_, err = c.transport.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("An error occurred when sending message", "type", msg.Type(), "error", err.Error())
		return &TransportError{Op: "write", Err: err}
	}

	c.opts.metrics.frameSent(len(data))
	c.logger.Debug("Sent message", "type", msg.Type(), "size", len(data))
	return nil
}

// RPC sends {"type":"rpc","function":function,"args":[args...]} and returns
// once it is written. There is no reply correlation; a reply, if the host
// sends one, arrives as an ordinary event. See package rpccall for
// request/response calls.
func (c *Connector) RPC(ctx context.Context, function string, args ...any) error {
	return c.Send(ctx, proto.NewRPC(function, args...))
}

// RegisterCallback installs h for eventType; the last registration wins. A
// nil h removes the registration. Safe to call while events are dispatched.
func (c *Connector) RegisterCallback(eventType string, h Handler) {
	c.dispatcher.Register(eventType, h)
}

// RegisterShaped installs h behind a payload shape check.
func (c *Connector) RegisterShaped(eventType string, shape proto.Shape, h Handler) error {
	return c.dispatcher.RegisterShaped(eventType, shape, h)
}

// OnClosed installs fn to run once at the end of every connection epoch.
// The reason is nil after Disconnect, wraps ErrPeerClosed when the host hung
// up and is a *TransportError after a read failure. After a host-side close
// fn runs on the receive goroutine.
func (c *Connector) OnClosed(fn func(reason error)) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *Connector) notifyClosed(reason error) {
	c.mu.Lock()
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// State reports the current connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current connection's receive loop has exited. It
// is closed already if the Connector never connected.
func (c *Connector) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.cur.done
}

func (c *Connector) Addr() string     { return c.transport.Addr() }
func (c *Connector) Protocol() string { return c.transport.Protocol() }

// Status is a point-in-time snapshot for status surfaces.
type Status struct {
	State       State     `json:"state"`
	Protocol    string    `json:"protocol"`
	Addr        string    `json:"addr"`
	Epoch       string    `json:"epoch,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Events      []string  `json:"events"`
}

func (c *Connector) Status() Status {
	c.mu.Lock()
	s := Status{
		State:    c.state,
		Protocol: c.transport.Protocol(),
		Addr:     c.transport.Addr(),
	}
	if c.state == Connected {
		s.Epoch = c.cur.id
		s.ConnectedAt = c.connectedAt
	}
	c.mu.Unlock()
	s.Events = c.dispatcher.Types()
	return s
}

// setState must be called with c.mu held.
func (c *Connector) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("Connection state changed", "from", c.state.String(), "to", s.String())
	c.state = s
	c.opts.metrics.setState(s)
}

// ConnectWithRetry calls Connect up to attempts times, doubling delay
// between attempts up to 30s. Only *ConnectionError is retried.
func ConnectWithRetry(ctx context.Context, c *Connector, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.Connect(ctx); err == nil {
			return nil
		}
		var connErr *ConnectionError
		if !errors.As(err, &connErr) || i == attempts-1 {
			return err
		}

		c.logger.Info("Retrying connection", "attempt", i+1, "of", attempts, "delay", delay)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, 30*time.Second)
	}
	return err
}
