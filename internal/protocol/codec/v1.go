package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/danmuck/wirectl/internal/protocol"
)

const VersionV1 uint32 = 1

// V1 is the incremental codec for protocol version 1.
type V1 struct {
	limits  protocol.Limits
	pending bytes.Buffer
	err     error
}

func NewV1(limits protocol.Limits) *V1 {
	if limits.MaxPayloadBytes == 0 {
		limits = protocol.DefaultLimits()
	}
	return &V1{limits: limits}
}

func (c *V1) Version() uint32 {
	return VersionV1
}

// Decode appends chunk to the pending stream and returns every complete
// message in arrival order. Errors are sticky: once the stream is corrupt
// every later call fails with the same error.
func (c *V1) Decode(chunk []byte) ([]protocol.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.pending.Write(chunk)

	var out []protocol.Message
	for {
		buf := c.pending.Bytes()
		size, ok, err := protocol.FrameSize(buf, c.limits)
		if err != nil {
			c.fail(err)
			return nil, c.err
		}
		if !ok || len(buf) < size {
			return out, nil
		}
		msg, err := protocol.DecodeWithLimits(bytes.NewReader(buf[:size]), c.limits)
		if err != nil {
			c.fail(err)
			return nil, c.err
		}
		c.pending.Next(size)
		out = append(out, *msg)
	}
}

// Buffered reports how many bytes of an incomplete frame are held.
func (c *V1) Buffered() int {
	return c.pending.Len()
}

func (c *V1) Encode(w io.Writer, msg protocol.Message) error {
	return protocol.Encode(w, &msg)
}

func (c *V1) fail(err error) {
	c.err = fmt.Errorf("codec v1: %w", err)
	c.pending.Reset()
}
