// Package client is a minimal protocol client used by the ping command and
// end-to-end tests.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/wirectl/internal/protocol"
	"github.com/danmuck/wirectl/internal/protocol/codec"
	"github.com/danmuck/wirectl/internal/protocol/handshake"
	"github.com/danmuck/wirectl/internal/transport"
)

var ErrIgnored = errors.New("client: request ignored by server")

// FailureError is a FAILURE reply.
type FailureError struct {
	Code    string
	Message string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("client: %s: %s", e.Code, e.Message)
}

type Options struct {
	Security transport.Security
	Timeout  time.Duration
	// Versions to propose, highest preference first. Empty means every
	// version this build supports.
	Versions []uint32
}

type Client struct {
	c       net.Conn
	codec   codec.Codec
	timeout time.Duration
	nextID  uint64
	pending []protocol.Message
	readBuf []byte
}

func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if len(opts.Versions) == 0 {
		opts.Versions = codec.Versions()
	}
	tlsCfg, err := opts.Security.ClientTLS(addr)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: opts.Timeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c := raw
	if tlsCfg != nil {
		tc := tls.Client(raw, tlsCfg)
		hctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		if err := tc.HandshakeContext(hctx); err != nil {
			_ = raw.Close()
			return nil, err
		}
		c = tc
	}

	_ = c.SetDeadline(time.Now().Add(opts.Timeout))
	version, err := handshake.Propose(c, opts.Versions)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	_ = c.SetDeadline(time.Time{})
	cdc, err := codec.ForVersion(version, protocol.DefaultLimits())
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &Client{c: c, codec: cdc, timeout: opts.Timeout, readBuf: make([]byte, 16<<10)}, nil
}

func (c *Client) Version() uint32 {
	return c.codec.Version()
}

// Send writes msg with the next message id and returns that id.
func (c *Client) Send(t protocol.MessageType, fields ...protocol.Field) (uint64, error) {
	c.nextID++
	msg := protocol.Message{Header: protocol.Header{MessageID: c.nextID, MessageType: t}, Fields: fields}
	var buf bytes.Buffer
	if err := c.codec.Encode(&buf, msg); err != nil {
		return 0, err
	}
	_ = c.c.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.c.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return c.nextID, nil
}

// Receive returns the next reply from the server.
func (c *Client) Receive() (protocol.Message, error) {
	for len(c.pending) == 0 {
		_ = c.c.SetReadDeadline(time.Now().Add(c.timeout))
		n, err := c.c.Read(c.readBuf)
		if n > 0 {
			msgs, derr := c.codec.Decode(c.readBuf[:n])
			if derr != nil {
				return protocol.Message{}, derr
			}
			c.pending = append(c.pending, msgs...)
		}
		if err != nil && len(c.pending) == 0 {
			return protocol.Message{}, err
		}
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, nil
}

// Request sends one message and waits for its reply.
func (c *Client) Request(t protocol.MessageType, fields ...protocol.Field) (*protocol.SemanticMessage, error) {
	id, err := c.Send(t, fields...)
	if err != nil {
		return nil, err
	}
	reply, err := c.Receive()
	if err != nil {
		return nil, err
	}
	if reply.Header.MessageID != id {
		return nil, fmt.Errorf("client: reply for message %d, expected %d", reply.Header.MessageID, id)
	}
	sem, err := protocol.Validate(&reply)
	if err != nil {
		return nil, err
	}
	switch reply.Type() {
	case protocol.MessageSuccess:
		return sem, nil
	case protocol.MessageIgnored:
		return sem, ErrIgnored
	case protocol.MessageFailure:
		return sem, &FailureError{
			Code:    sem.StringValue(protocol.FieldCode),
			Message: sem.StringValue(protocol.FieldMessage),
		}
	default:
		return sem, fmt.Errorf("client: unexpected reply %s", reply.Type())
	}
}

// Hello authenticates and returns the server-assigned connection id.
func (c *Client) Hello(userAgent, principal, credentials string) (string, error) {
	sem, err := c.Request(protocol.MessageHello,
		protocol.NewFieldString(protocol.FieldUserAgent, userAgent),
		protocol.NewFieldString(protocol.FieldPrincipal, principal),
		protocol.NewFieldString(protocol.FieldCredentials, credentials),
	)
	if err != nil {
		return "", err
	}
	return sem.StringValue(protocol.FieldConnectionID), nil
}

func (c *Client) Run(statement string, params []byte) (string, error) {
	fields := []protocol.Field{protocol.NewFieldString(protocol.FieldStatement, statement)}
	if len(params) > 0 {
		fields = append(fields, protocol.NewFieldBytes(protocol.FieldParameters, params))
	}
	sem, err := c.Request(protocol.MessageRun, fields...)
	if err != nil {
		return "", err
	}
	return sem.StringValue(protocol.FieldSummary), nil
}

func (c *Client) Reset() error {
	_, err := c.Request(protocol.MessageReset)
	return err
}

// Goodbye ends the session. The server hangs up without replying.
func (c *Client) Goodbye() error {
	_, err := c.Send(protocol.MessageGoodbye)
	return err
}

// Raw exposes the connection for tests that need to write malformed input.
func (c *Client) Raw() net.Conn {
	return c.c
}

func (c *Client) Close() error {
	return c.c.Close()
}
