package bridge

import (
	"errors"
	"io"

	"github.com/mbocsi/gobridge/frame"
	"github.com/mbocsi/gobridge/transport"
)

// receiveLoop reads chunks until e is stopped or the transport fails,
// dispatching every complete frame in arrival order. One loop runs per epoch.
func (c *Connector) receiveLoop(e *epoch) {
	defer close(e.done)

	logger := c.logger.With("epoch", e.id)
	dec := &frame.Decoder{}
	buf := make([]byte, c.opts.readBufferSize)

	for !e.stop.Load() {
		n, err := c.transport.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			c.drain(dec, e)
		}
		if err == nil {
			continue
		}

		if e.stop.Load() {
			return
		}
		if errors.Is(err, io.EOF) || transport.IsExpectedClose(err) {
			logger.Info("Host disconnected")
			c.finishPassive(e, ErrPeerClosed)
			return
		}
		logger.Warn("An error occurred when reading from host", "error", err.Error())
		c.finishPassive(e, &TransportError{Op: "read", Err: err})
		return
	}
}

// drain dispatches every complete frame buffered in dec. Malformed frames are
// logged and skipped.
func (c *Connector) drain(dec *frame.Decoder, e *epoch) {
	for !e.stop.Load() {
		msg, err := dec.Next()
		if errors.Is(err, frame.ErrIncomplete) {
			return
		}
		if err != nil {
			var derr *frame.DecodeError
			if errors.As(err, &derr) {
				c.logger.Warn("Skipping malformed frame", "error", derr.Err.Error(), "size", len(derr.Frame))
			} else {
				c.logger.Warn("Skipping malformed frame", "error", err.Error())
			}
			c.opts.metrics.decodeError()
			continue
		}

		c.opts.metrics.frameReceived()
		c.logger.Debug("Received message", "type", msg.Type())
		c.dispatcher.Route(msg)
	}
}

// finishPassive tears the connection down from the receive goroutine after
// the host hung up or a read failed. It loses to a concurrent Disconnect and
// does nothing once a later epoch has started.
func (c *Connector) finishPassive(e *epoch, reason error) {
	c.mu.Lock()
	if c.cur != e || !e.stop.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return
	}
	c.setState(Disconnecting)
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		c.logger.Debug("Closing transport failed", "error", err)
	}

	c.mu.Lock()
	c.setState(Disconnected)
	c.mu.Unlock()

	c.notifyClosed(reason)
}
