// Package rpccall adds request/response calls on top of the bridge's
// fire-and-forget RPC. Each call carries an "id"; the host answers with an
// "rpc_result" event echoing it.
package rpccall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/gobridge/bridge"
	"github.com/mbocsi/gobridge/proto"
)

const DefaultTimeout = 5 * time.Second

// ErrClosed fails calls pending when the Caller is closed.
var ErrClosed = errors.New("rpccall: caller closed")

// RemoteError is a non-empty "error" in an rpc_result.
type RemoteError struct {
	Function string
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s failed on host: %s", e.Function, e.Message)
}

// TimeoutError is returned when no result arrives in time.
type TimeoutError struct {
	Function string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc %s: no result after %v", e.Function, e.After)
}

// Conn is the part of *bridge.Connector a Caller needs.
type Conn interface {
	Send(ctx context.Context, msg proto.Message) error
	RegisterCallback(eventType string, h bridge.Handler)
}

type result struct {
	value any
	err   error
}

type Caller struct {
	conn    Conn
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]chan result
	closed  bool
}

// New installs the rpc_result handler on conn. A zero timeout means
// DefaultTimeout.
func New(conn Conn, timeout time.Duration, logger *slog.Logger) *Caller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Caller{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]chan result),
	}
	conn.RegisterCallback(proto.TypeRPCResult, c.handleResult)
	return c
}

// Call sends an RPC and waits for its result, ctx cancellation or the
// Caller's timeout, whichever comes first.
//
// Results are dispatched on the Connector's receive goroutine, so Call must
// not run synchronously inside a bridge handler: the result cannot arrive
// until the handler returns and the call ends in a *TimeoutError. Start it
// with go from the handler instead.
func (c *Caller) Call(ctx context.Context, function string, args ...any) (any, error) {
	id := uuid.NewString()
	ch := make(chan result, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	msg := proto.NewRPC(function, args...)
	msg["id"] = id
	if err := c.conn.Send(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			var remote *RemoteError
			if errors.As(r.err, &remote) {
				remote.Function = function
			}
		}
		return r.value, r.err
	case <-timer.C:
		return nil, &TimeoutError{Function: function, After: c.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallStrings is Call for functions returning a list of strings. The same
// restriction on handlers applies.
func (c *Caller) CallStrings(ctx context.Context, function string, args ...any) ([]string, error) {
	v, err := c.Call(ctx, function, args...)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []string{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("rpc %s: expected list result, got %T", function, v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("rpc %s: expected string items, got %T", function, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// Pending reports how many calls are waiting for a result.
func (c *Caller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails every pending call with ErrClosed and rejects new ones.
func (c *Caller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		ch <- result{err: ErrClosed}
		delete(c.pending, id)
	}
}

func (c *Caller) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Caller) handleResult(msg proto.Message) error {
	id := msg.String("id")
	if id == "" {
		return errors.New("rpc_result without id")
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("Result for unknown or expired call", "id", id)
		return nil
	}

	r := result{value: msg["result"]}
	if e := msg.String("error"); e != "" {
		r.err = &RemoteError{Message: e}
	}
	ch <- r
	return nil
}
