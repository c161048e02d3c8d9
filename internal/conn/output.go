package conn

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/danmuck/wirectl/internal/protocol"
)

// Encoder writes one message in the connection's wire format.
type Encoder interface {
	Encode(w io.Writer, msg protocol.Message) error
}

// Output is the connection's outbound buffer. It holds at most one Buffer:
// the first is allocated when the handler is built, later ones on the first
// Send after a Flush. Only the executor's owner context touches it.
type Output struct {
	channel Channel
	enc     Encoder
	size    int

	buf         Buffer
	releaseOnce sync.Once
	released    atomic.Bool
	releaseErr  error
}

func newOutput(ch Channel, enc Encoder, size int) (*Output, error) {
	o := &Output{channel: ch, enc: enc, size: size}
	buf, err := ch.Allocate(size)
	if err != nil {
		return nil, errors.Wrap(err, "conn: allocate output buffer")
	}
	o.buf = buf
	return o, nil
}

// Send encodes msg into the pending buffer.
func (o *Output) Send(msg protocol.Message) error {
	if o.released.Load() {
		return ErrOutputReleased
	}
	if o.buf == nil {
		buf, err := o.channel.Allocate(o.size)
		if err != nil {
			return errors.Wrap(err, "conn: allocate output buffer")
		}
		o.buf = buf
	}
	return o.enc.Encode(o.buf, msg)
}

// Flush hands the pending buffer to the channel. An empty buffer is kept.
func (o *Output) Flush() error {
	if o.released.Load() {
		return ErrOutputReleased
	}
	if o.buf == nil || o.buf.Len() == 0 {
		return nil
	}
	buf := o.buf
	o.buf = nil
	return o.channel.Write(buf)
}

// release frees the held buffer. Later calls are no-ops.
func (o *Output) release() error {
	o.releaseOnce.Do(func() {
		o.released.Store(true)
		if o.buf != nil {
			o.releaseErr = o.buf.Release()
			o.buf = nil
		}
	})
	return o.releaseErr
}

// hangup releases the buffer and closes the channel.
func (o *Output) hangup() error {
	return errors.CombineErrors(o.release(), o.channel.Close())
}

// Responder is the machine's view of Output for a single Process call.
type Responder struct {
	out     *Output
	expired atomic.Bool
}

func newResponder(out *Output) *Responder {
	return &Responder{out: out}
}

func (r *Responder) Send(msg protocol.Message) error {
	if r.expired.Load() {
		return ErrResponderExpired
	}
	return r.out.Send(msg)
}

// Flush writes everything sent so far. Pending output is also flushed when
// Process returns successfully.
func (r *Responder) Flush() error {
	if r.expired.Load() {
		return ErrResponderExpired
	}
	return r.out.Flush()
}

func (r *Responder) expire() {
	r.expired.Store(true)
}
