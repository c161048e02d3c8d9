// Package throttle provides conn.Gate implementations used at the handler's
// pre-read hook.
package throttle

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/danmuck/wirectl/internal/conn"
)

var ErrInvalidWatermarks = errors.New("throttle: low watermark must be below high watermark")

// RateGate limits inbound bytes per second for one connection.
type RateGate struct {
	limiter *rate.Limiter
	burst   int
}

// NewRateGate returns a gate that admits bytesPerSec on average with bursts
// up to burst bytes. A non-positive rate disables the limit.
func NewRateGate(bytesPerSec, burst int) *RateGate {
	if burst <= 0 {
		burst = bytesPerSec
	}
	limit := rate.Limit(bytesPerSec)
	if bytesPerSec <= 0 {
		limit = rate.Inf
	}
	return &RateGate{limiter: rate.NewLimiter(limit, burst), burst: burst}
}

// Admit charges the bytes received since the previous admission. Charges
// above the burst are clamped so WaitN never fails on size alone.
func (g *RateGate) Admit(ctx context.Context, p conn.Pressure) error {
	n := p.Bytes
	if n <= 0 {
		return nil
	}
	if n > g.burst {
		n = g.burst
	}
	return g.limiter.WaitN(ctx, n)
}

const DefaultBacklogPoll = 5 * time.Millisecond

// BacklogGate pauses reading while the executor backlog is at or above
// High, and resumes once it drains to Low.
type BacklogGate struct {
	backlog func() int
	high    int
	low     int
	poll    time.Duration
}

func NewBacklogGate(backlog func() int, high, low int) (*BacklogGate, error) {
	if high <= 0 || low < 0 || low >= high {
		return nil, ErrInvalidWatermarks
	}
	return &BacklogGate{backlog: backlog, high: high, low: low, poll: DefaultBacklogPoll}, nil
}

func (g *BacklogGate) Admit(ctx context.Context, p conn.Pressure) error {
	if p.Backlog < g.high {
		return nil
	}
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if g.backlog() <= g.low {
				return nil
			}
		}
	}
}

type chain []conn.Gate

// Chain admits only when every gate admits, consulted in order.
func Chain(gates ...conn.Gate) conn.Gate {
	out := make(chain, 0, len(gates))
	for _, g := range gates {
		if g != nil {
			out = append(out, g)
		}
	}
	if len(out) == 0 {
		return conn.NoThrottle
	}
	return out
}

func (c chain) Admit(ctx context.Context, p conn.Pressure) error {
	for _, g := range c {
		if err := g.Admit(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
