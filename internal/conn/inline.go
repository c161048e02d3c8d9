package conn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/danmuck/wirectl/internal/protocol"
)

// Inline runs the machine on the caller's goroutine. The caller provides
// exclusivity: Execute and Close must not run concurrently.
type Inline struct {
	machine Machine
	sink    Sink

	ctx    context.Context
	cancel context.CancelFunc

	// owner is the goroutine id inside Execute, zero otherwise.
	owner       atomic.Int64
	ownerClosed atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewInline returns an executor that processes on the goroutine calling
// Execute.
func NewInline(machine Machine, sink Sink) *Inline {
	if sink == nil {
		sink = NopSink
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inline{machine: machine, sink: sink, ctx: ctx, cancel: cancel}
}

func (e *Inline) Execute(msg protocol.Message, out *Output) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	e.owner.Store(goid.Get())
	err := process(e.ctx, e.machine, msg, out)
	e.owner.Store(0)
	if err != nil {
		e.closed.Store(true)
		teardown(e.sink, e.closeMachine, out, err)
		return nil
	}
	if e.ownerClosed.Load() {
		if err := e.closeMachine(); err != nil {
			e.sink.Error(CloseFailureMessage, err)
		}
		if err := out.release(); err != nil {
			e.sink.Error(CloseFailureMessage, err)
		}
	}
	return nil
}

func (e *Inline) RequestClose() {
	if err := e.closeMachine(); err != nil {
		e.sink.Error(CloseFailureMessage, err)
	}
}

func (e *Inline) Close() error {
	if goid.Get() == e.owner.Load() {
		e.closed.Store(true)
		e.ownerClosed.Store(true)
		return ErrCloseOnOwner
	}
	e.RequestClose()
	return nil
}

func (e *Inline) Backlog() int {
	return 0
}

// closeMachine reports the close error only to the first caller.
func (e *Inline) closeMachine() (err error) {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.cancel()
		err = safeClose(e.machine)
	})
	return err
}
