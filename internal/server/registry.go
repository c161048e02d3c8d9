package server

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wirectl/internal/conn"
	"github.com/danmuck/wirectl/internal/transport"
)

// ConnInfo is the admin view of one live connection.
type ConnInfo struct {
	ID           string    `json:"id"`
	Remote       string    `json:"remote"`
	Version      uint32    `json:"version"`
	State        string    `json:"state"`
	Backlog      int       `json:"backlog"`
	Opened       time.Time `json:"opened"`
	BytesRead    int64     `json:"bytes_read"`
	BytesWritten int64     `json:"bytes_written"`
}

type entry struct {
	id      string
	remote  string
	opened  time.Time
	raw     net.Conn
	handler *conn.Handler
	channel *transport.NetChannel

	bytesRead atomic.Int64
	kicked    atomic.Bool
}

func (e *entry) info() ConnInfo {
	return ConnInfo{
		ID:           e.id,
		Remote:       e.remote,
		Version:      e.handler.Version(),
		State:        e.handler.State().String(),
		Backlog:      e.handler.Backlog(),
		Opened:       e.opened,
		BytesRead:    e.bytesRead.Load(),
		BytesWritten: e.channel.Stats().BytesWritten,
	}
}

// interrupt unblocks the connection's pending read so its dispatch loop
// exits and runs the normal teardown.
func (e *entry) interrupt() {
	e.kicked.Store(true)
	_ = e.raw.SetReadDeadline(time.Now())
}

// Registry tracks live connections for shutdown and the admin API.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*entry)}
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[e.id] = e
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Get(id string) (ConnInfo, bool) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return ConnInfo{}, false
	}
	return e.info(), true
}

// Snapshot lists live connections, oldest first.
func (r *Registry) Snapshot() []ConnInfo {
	r.mu.RLock()
	out := make([]ConnInfo, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Opened.Equal(out[j].Opened) {
			return out[i].ID < out[j].ID
		}
		return out[i].Opened.Before(out[j].Opened)
	})
	return out
}

// Kick interrupts one connection. It reports whether id was live.
func (r *Registry) Kick(id string) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if ok {
		e.interrupt()
	}
	return ok
}

func (r *Registry) interruptAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.conns {
		e.interrupt()
	}
}
