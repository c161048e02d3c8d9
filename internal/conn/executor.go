package conn

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/danmuck/wirectl/internal/protocol"
)

// Machine is a per-connection session state machine. Process and Close run
// only on the executor's owner context. Close must tolerate repeated calls.
type Machine interface {
	Process(ctx context.Context, msg protocol.Message, r *Responder) error
	Close() error
}

// Executor runs a connection's machine on its owner context.
type Executor interface {
	// Execute hands msg to the machine. Processing failures are handled by
	// the executor and never returned here.
	Execute(msg protocol.Message, out *Output) error
	// RequestClose asks the owner context to close the session. It never
	// blocks and may be called from any goroutine.
	RequestClose()
	// Close requests a close and waits until the owner context has stopped.
	// Called from the owner context itself it does not wait: it returns
	// ErrCloseOnOwner and the owner finishes the close, releasing the
	// output, after the current Process returns.
	Close() error
	// Backlog reports accepted messages that have not run yet.
	Backlog() int
}

func process(ctx context.Context, m Machine, msg protocol.Message, out *Output) (err error) {
	r := newResponder(out)
	defer r.expire()
	defer func() {
		if p := recover(); p != nil {
			err = recovered("processing message", p)
		}
	}()
	if err := m.Process(ctx, msg, r); err != nil {
		return err
	}
	return out.Flush()
}

// teardown runs on the owner context after Process failed. It must not wait
// on the owner context itself.
func teardown(sink Sink, closeMachine func() error, out *Output, cause error) {
	if errors.Is(cause, ErrSessionEnded) {
		_ = out.Flush()
	} else {
		sink.Error(ExecutionFailureMessage, cause)
	}
	if err := closeMachine(); err != nil {
		sink.Error(CloseFailureMessage, err)
	}
	if err := out.hangup(); err != nil {
		sink.Error(CloseFailureMessage, err)
	}
}

func safeClose(m Machine) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = recovered("closing session", p)
		}
	}()
	return m.Close()
}
