// Package frame implements the wire framing shared with the game host: one
// JSON value per frame, each frame terminated by a single '\n'.
//
// encoding/json escapes control characters inside strings, so an encoded
// value never contains a raw newline and the terminator is unambiguous.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mbocsi/gobridge/proto"
)

// Terminator ends every frame.
const Terminator = '\n'

// ErrIncomplete is returned by Decoder.Next when no complete frame is buffered.
var ErrIncomplete = errors.New("frame: incomplete")

// DecodeError is one malformed frame. It is reported and skipped; the
// decoder stays aligned on the next terminator.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid frame %q: %v", truncate(e.Frame, 120), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes msg and appends the terminator.
func Encode(msg proto.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("frame: cannot encode nil message")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	return append(data, Terminator), nil
}

// Decode parses one frame without its terminator.
func Decode(line []byte) (proto.Message, error) {
	var msg proto.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, &DecodeError{Frame: bytes.Clone(line), Err: err}
	}
	if msg == nil {
		return nil, &DecodeError{Frame: bytes.Clone(line), Err: errors.New("frame is not a JSON object")}
	}
	return msg, nil
}

// Decoder reassembles frames from arbitrary chunks of the byte stream. It is
// not safe for concurrent use; it belongs to the goroutine reading the
// stream.
//
// The buffer grows without bound while the peer sends bytes without a
// terminator.
type Decoder struct {
	buf   []byte
	start int
}

// Feed appends a chunk read from the stream.
func (d *Decoder) Feed(chunk []byte) {
	if d.start > 0 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.start = 0
	}
	d.buf = append(d.buf, chunk...)
}

// Next returns the next complete message. It returns ErrIncomplete when the
// buffer holds no terminator, and a *DecodeError for a malformed frame, which
// is consumed. Blank frames and a trailing '\r' are ignored.
func (d *Decoder) Next() (proto.Message, error) {
	for {
		pending := d.buf[d.start:]
		i := bytes.IndexByte(pending, Terminator)
		if i < 0 {
			return nil, ErrIncomplete
		}
		line := bytes.TrimSuffix(pending[:i], []byte{'\r'})
		d.start += i + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return Decode(line)
	}
}

// Buffered reports how many bytes are waiting for a terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.start
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
