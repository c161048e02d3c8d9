package conn

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/danmuck/wirectl/internal/protocol"
)

type fakeBuffer struct {
	bytes.Buffer
	ch *fakeChannel
}

func (b *fakeBuffer) Release() error {
	b.ch.mu.Lock()
	defer b.ch.mu.Unlock()
	b.ch.releases++
	return nil
}

type fakeChannel struct {
	mu       sync.Mutex
	allocs   int
	writes   int
	closes   int
	releases int
	written  bytes.Buffer
	allocErr error
	writeErr error
}

func (c *fakeChannel) Allocate(int) (Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allocErr != nil {
		return nil, c.allocErr
	}
	c.allocs++
	return &fakeBuffer{ch: c}, nil
}

func (c *fakeChannel) Write(buf Buffer) error {
	c.mu.Lock()
	c.writes++
	c.written.Write(buf.Bytes())
	err := c.writeErr
	c.mu.Unlock()
	_ = buf.Release()
	return err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type channelCounts struct {
	allocs, writes, closes, releases int
}

func (c *fakeChannel) counts() channelCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channelCounts{allocs: c.allocs, writes: c.writes, closes: c.closes, releases: c.releases}
}

func (c *fakeChannel) output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written.Bytes()...)
}

// scriptCodec decodes by calling fn, and counts every call.
type scriptCodec struct {
	mu      sync.Mutex
	version uint32
	fn      func(chunk []byte) ([]protocol.Message, error)
	decodes int
	encodes int
}

func (c *scriptCodec) Version() uint32 { return c.version }

func (c *scriptCodec) Decode(chunk []byte) ([]protocol.Message, error) {
	c.mu.Lock()
	c.decodes++
	c.mu.Unlock()
	return c.fn(chunk)
}

func (c *scriptCodec) Encode(w io.Writer, msg protocol.Message) error {
	c.mu.Lock()
	c.encodes++
	c.mu.Unlock()
	return protocol.Encode(w, &msg)
}

func (c *scriptCodec) calls() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decodes, c.encodes
}

type fakeMachine struct {
	mu        sync.Mutex
	processed []uint64
	closes    int
	process   func(ctx context.Context, msg protocol.Message, r *Responder) error
}

func (m *fakeMachine) Process(ctx context.Context, msg protocol.Message, r *Responder) error {
	m.mu.Lock()
	m.processed = append(m.processed, msg.Header.MessageID)
	fn := m.process
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg, r)
	}
	return nil
}

func (m *fakeMachine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeMachine) snapshot() ([]uint64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.processed...), m.closes
}

type sinkEntry struct {
	msg   string
	cause error
}

type recordingSink struct {
	mu      sync.Mutex
	entries []sinkEntry
}

func (s *recordingSink) Error(msg string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, sinkEntry{msg: msg, cause: cause})
}

func (s *recordingSink) all() []sinkEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEntry(nil), s.entries...)
}

func runMessage(id uint64) protocol.Message {
	return protocol.Message{
		Header: protocol.Header{MessageID: id, MessageType: protocol.MessageRun},
		Fields: []protocol.Field{protocol.NewFieldString(protocol.FieldStatement, "noop")},
	}
}

func passthrough(msgs ...protocol.Message) func([]byte) ([]protocol.Message, error) {
	return func([]byte) ([]protocol.Message, error) { return msgs, nil }
}
