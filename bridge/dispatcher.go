package bridge

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mbocsi/gobridge/proto"
)

// Handler receives the full inbound message. A returned error is logged and
// does not affect later messages.
type Handler func(msg proto.Message) error

// unhandledType labels every event without a handler in metrics;
// host-supplied types never become label values.
const unhandledType = "_unhandled"

type entry struct {
	handler Handler
	shape   proto.Shape
}

// Dispatcher routes decoded events to the handler registered for their
// "type". Registration is safe while Route runs on another goroutine.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]entry

	logger  *slog.Logger
	metrics *Metrics
}

func NewDispatcher(logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: make(map[string]entry), logger: logger, metrics: metrics}
}

// Register installs h for eventType, replacing any previous handler. A nil
// handler removes the registration.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, eventType)
		return
	}
	d.handlers[eventType] = entry{handler: h}
}

// RegisterShaped is Register with a declared payload. The shape is validated
// now; each inbound payload is checked against it before h runs.
func (d *Dispatcher) RegisterShaped(eventType string, shape proto.Shape, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler must be provided for event %q", eventType)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("event %q: %w", eventType, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = entry{handler: h, shape: shape}
	return nil
}

// Types lists the registered event types in sorted order.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Route invokes the handler for msg's type. Unmatched types are logged and
// dropped (ErrUnhandled); handler failures and panics are logged and returned
// as *DispatchError. Route never panics because of a handler.
func (d *Dispatcher) Route(msg proto.Message) error {
	eventType := msg.Type()

	d.mu.RLock()
	e, ok := d.handlers[eventType]
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("Unhandled event type", "type", eventType)
		d.metrics.dispatch(unhandledType, "unhandled")
		return ErrUnhandled
	}

	if e.shape != nil {
		if err := e.shape.Check(msg); err != nil {
			return d.fail(eventType, fmt.Errorf("payload does not match shape: %w", err))
		}
	}

	if err := invoke(e.handler, msg); err != nil {
		return d.fail(eventType, err)
	}
	d.metrics.dispatch(eventType, "ok")
	return nil
}

func (d *Dispatcher) fail(eventType string, err error) error {
	derr := &DispatchError{EventType: eventType, Err: err}
	d.logger.Warn("An error occurred in event handler", "type", eventType, "error", err.Error())
	d.metrics.dispatch(eventType, "error")
	return derr
}

func invoke(h Handler, msg proto.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(msg)
}
