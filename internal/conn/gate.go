package conn

import "context"

// Pressure describes the load a connection is putting on the process at the
// moment it asks to read more input.
type Pressure struct {
	// Bytes received since the previous admission.
	Bytes int
	// Backlog is the executor's queued message count.
	Backlog int
}

// Gate decides whether the dispatch goroutine may read more input. Admit
// blocks until capacity is available or ctx is done.
type Gate interface {
	Admit(ctx context.Context, p Pressure) error
}

// GateFunc adapts a function into a Gate.
type GateFunc func(ctx context.Context, p Pressure) error

func (f GateFunc) Admit(ctx context.Context, p Pressure) error {
	return f(ctx, p)
}

type noThrottle struct{}

func (noThrottle) Admit(context.Context, Pressure) error { return nil }

// NoThrottle admits every read immediately.
var NoThrottle Gate = noThrottle{}
