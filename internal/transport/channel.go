// Package transport adapts net.Conn to the conn.Channel contract.
package transport

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wirectl/internal/conn"
)

var (
	ErrChannelClosed  = errors.New("transport: channel closed")
	ErrBufferReleased = errors.New("transport: buffer already released")
)

const maxPooledBuffer = 1 << 20

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// PooledBuffer is a conn.Buffer backed by a shared pool.
type PooledBuffer struct {
	buf      *bytes.Buffer
	released atomic.Bool
}

func (b *PooledBuffer) Write(p []byte) (int, error) {
	if b.released.Load() {
		return 0, ErrBufferReleased
	}
	return b.buf.Write(p)
}

func (b *PooledBuffer) Bytes() []byte {
	if b.released.Load() {
		return nil
	}
	return b.buf.Bytes()
}

func (b *PooledBuffer) Len() int {
	if b.released.Load() {
		return 0
	}
	return b.buf.Len()
}

func (b *PooledBuffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrBufferReleased
	}
	buf := b.buf
	b.buf = nil
	if buf.Cap() <= maxPooledBuffer {
		buf.Reset()
		bufferPool.Put(buf)
	}
	return nil
}

type Stats struct {
	BytesWritten int64
	Writes       int64
	Allocated    int64
	Released     int64
}

// NetChannel implements conn.Channel over a net.Conn.
type NetChannel struct {
	c            net.Conn
	writeTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	bytesWritten atomic.Int64
	writes       atomic.Int64
	allocated    atomic.Int64
	released     atomic.Int64
}

func NewNetChannel(c net.Conn, writeTimeout time.Duration) *NetChannel {
	return &NetChannel{c: c, writeTimeout: writeTimeout}
}

func (ch *NetChannel) Allocate(size int) (conn.Buffer, error) {
	if ch.closed.Load() {
		return nil, ErrChannelClosed
	}
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Grow(size)
	ch.allocated.Add(1)
	return &PooledBuffer{buf: buf}, nil
}

// Write sends buf and releases it, whether or not the send succeeds.
func (ch *NetChannel) Write(buf conn.Buffer) (err error) {
	defer func() {
		if rerr := buf.Release(); rerr == nil {
			ch.released.Add(1)
		} else if err == nil {
			err = rerr
		}
	}()
	if ch.closed.Load() {
		return ErrChannelClosed
	}
	if ch.writeTimeout > 0 {
		if err := ch.c.SetWriteDeadline(time.Now().Add(ch.writeTimeout)); err != nil {
			return err
		}
	}
	n, err := ch.c.Write(buf.Bytes())
	ch.bytesWritten.Add(int64(n))
	ch.writes.Add(1)
	return err
}

func (ch *NetChannel) Close() error {
	ch.closeOnce.Do(func() {
		ch.closed.Store(true)
		ch.closeErr = ch.c.Close()
	})
	return ch.closeErr
}

func (ch *NetChannel) Closed() bool {
	return ch.closed.Load()
}

// Conn exposes the underlying connection for reads on the dispatch
// goroutine.
func (ch *NetChannel) Conn() net.Conn {
	return ch.c
}

func (ch *NetChannel) Stats() Stats {
	return Stats{
		BytesWritten: ch.bytesWritten.Load(),
		Writes:       ch.writes.Load(),
		Allocated:    ch.allocated.Load(),
		Released:     ch.released.Load(),
	}
}
