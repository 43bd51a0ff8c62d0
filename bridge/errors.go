package bridge

import (
	"errors"
	"fmt"

	"github.com/mbocsi/gobridge/frame"
)

var (
	// ErrNotConnected is returned by Send and RPC outside the Connected state.
	ErrNotConnected = errors.New("bridge: not connected")

	// ErrInvalidState is returned when Connect is called while a connection
	// exists or is being set up or torn down.
	ErrInvalidState = errors.New("bridge: invalid state for operation")

	// ErrPeerClosed is the OnClosed reason when the host ends the connection.
	ErrPeerClosed = errors.New("bridge: host closed the connection")

	// ErrUnhandled is returned by Dispatcher.Route for an event type with no
	// registered handler.
	ErrUnhandled = errors.New("bridge: unhandled event type")
)

// ConnectionError is returned by Connect when the host cannot be reached.
// The Connector does not retry; see ConnectWithRetry.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to host at %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError is a failed read, write or close against a connection
// believed open. On writes it usually means the host went away.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DispatchError is a failed or panicking handler, or a payload that did not
// match the registered shape. It never leaves the receive loop except through
// Dispatcher.Route.
type DispatchError struct {
	EventType string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("handler for %q failed: %v", e.EventType, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// DecodeError is a malformed inbound frame; it is logged and skipped.
type DecodeError = frame.DecodeError
