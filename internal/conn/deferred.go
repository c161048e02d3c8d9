package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/petermattis/goid"

	"github.com/danmuck/wirectl/internal/protocol"
)

const DefaultDrainTimeout = 5 * time.Second

type DeferredOptions struct {
	// DrainTimeout bounds how long Close waits for queued messages. After it
	// expires the in-flight Process context is cancelled and the rest of the
	// queue is discarded. Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration
}

type task struct {
	msg protocol.Message
	out *Output
}

// Deferred runs the machine on one worker goroutine fed by a FIFO queue.
// The worker is the connection's owner context.
type Deferred struct {
	machine Machine
	sink    Sink
	opts    DeferredOptions

	mu      sync.Mutex
	pending *queue.Queue
	closing bool

	wake chan struct{}
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// worker is the goroutine id of run, used to detect Close from inside
	// Process.
	worker      atomic.Int64
	ownerClosed atomic.Bool

	closeOnce sync.Once
	discarded atomic.Int64
	executed  atomic.Int64
}

// NewDeferred starts the worker goroutine. Close must be called to stop it.
func NewDeferred(machine Machine, sink Sink, opts DeferredOptions) *Deferred {
	if sink == nil {
		sink = NopSink
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Deferred{
		machine: machine,
		sink:    sink,
		opts:    opts,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go d.run()
	return d
}

func (d *Deferred) Execute(msg protocol.Message, out *Output) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return ErrExecutorClosed
	}
	d.pending.Add(task{msg: msg, out: out})
	d.mu.Unlock()
	d.signal()
	return nil
}

// RequestClose stops new submissions. Messages already accepted still run
// before the session is closed.
func (d *Deferred) RequestClose() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	d.signal()
}

// Close waits for the worker to drain and exit, preempting it after
// DrainTimeout. On the worker itself it only requests the close.
func (d *Deferred) Close() error {
	if goid.Get() == d.worker.Load() {
		d.ownerClosed.Store(true)
		d.RequestClose()
		return ErrCloseOnOwner
	}
	d.RequestClose()
	timer := time.NewTimer(d.opts.DrainTimeout)
	defer timer.Stop()
	select {
	case <-d.done:
	case <-timer.C:
		d.cancel()
		<-d.done
	}
	return nil
}

func (d *Deferred) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.Length()
}

// Discarded counts messages dropped because the drain timed out or the
// session failed first.
func (d *Deferred) Discarded() int64 {
	return d.discarded.Load()
}

func (d *Deferred) Executed() int64 {
	return d.executed.Load()
}

// Done is closed once the worker has exited.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

func (d *Deferred) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Deferred) run() {
	d.worker.Store(goid.Get())
	var last *Output
	defer close(d.done)
	defer func() {
		if d.ownerClosed.Load() && last != nil {
			if err := last.release(); err != nil {
				d.sink.Error(CloseFailureMessage, err)
			}
		}
	}()
	for {
		t, ok, closing := d.next()
		if !ok {
			if closing {
				if err := d.closeMachine(); err != nil {
					d.sink.Error(CloseFailureMessage, err)
				}
				return
			}
			select {
			case <-d.wake:
			case <-d.ctx.Done():
			}
			continue
		}
		last = t.out
		err := process(d.ctx, d.machine, t.msg, t.out)
		d.executed.Add(1)
		if err != nil {
			d.abandon()
			teardown(d.sink, d.closeMachine, t.out, err)
			return
		}
	}
}

// next pops the oldest task. Once the context is cancelled the remaining
// queue is discarded.
func (d *Deferred) next() (task, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		d.dropLocked()
		return task{}, false, true
	}
	if d.pending.Length() > 0 {
		return d.pending.Remove().(task), true, d.closing
	}
	return task{}, false, d.closing
}

func (d *Deferred) abandon() {
	d.mu.Lock()
	d.closing = true
	d.dropLocked()
	d.mu.Unlock()
}

func (d *Deferred) dropLocked() {
	n := d.pending.Length()
	for d.pending.Length() > 0 {
		d.pending.Remove()
	}
	d.discarded.Add(int64(n))
}

func (d *Deferred) closeMachine() (err error) {
	d.closeOnce.Do(func() {
		err = safeClose(d.machine)
	})
	return err
}
