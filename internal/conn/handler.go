package conn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/danmuck/wirectl/internal/protocol"
	"github.com/danmuck/wirectl/internal/protocol/codec"
)

// DefaultOutputBufferSize is the capacity requested for each output buffer
// when HandlerConfig leaves it zero.
const DefaultOutputBufferSize = 8 << 10

// State is the handler lifecycle. It only moves forward.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNilChannel  = errors.New("conn: channel is required")
	ErrNilCodec    = errors.New("conn: codec is required")
	ErrNilExecutor = errors.New("conn: executor is required")
)

// HandlerConfig wires a handler to its connection. Channel, Codec and
// Executor are required.
type HandlerConfig struct {
	ID               string
	Channel          Channel
	Codec            codec.Codec
	Executor         Executor
	Gate             Gate
	Sink             Sink
	OutputBufferSize int
}

// Handler decodes one connection's input and forwards each message to the
// executor. It never writes to the channel.
type Handler struct {
	id      string
	version uint32
	codec   codec.Codec
	exec    Executor
	gate    Gate
	sink    Sink
	out     *Output

	state      atomic.Int32
	unadmitted int
	closeOnce  sync.Once
}

// NewHandler allocates the connection's output buffer and returns a handler
// in the open state.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	switch {
	case cfg.Channel == nil:
		return nil, ErrNilChannel
	case cfg.Codec == nil:
		return nil, ErrNilCodec
	case cfg.Executor == nil:
		return nil, ErrNilExecutor
	}
	if cfg.Gate == nil {
		cfg.Gate = NoThrottle
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink
	}
	if cfg.OutputBufferSize <= 0 {
		cfg.OutputBufferSize = DefaultOutputBufferSize
	}
	out, err := newOutput(cfg.Channel, cfg.Codec, cfg.OutputBufferSize)
	if err != nil {
		return nil, err
	}
	return &Handler{
		id:      cfg.ID,
		version: cfg.Codec.Version(),
		codec:   cfg.Codec,
		exec:    cfg.Executor,
		gate:    cfg.Gate,
		sink:    cfg.Sink,
		out:     out,
	}, nil
}

// Handle decodes chunk and forwards the resulting messages in order. A
// decode failure is reported once, the session is asked to close, and the
// error is returned so the caller stops reading.
func (h *Handler) Handle(chunk []byte) error {
	if h.State() != StateOpen {
		return ErrHandlerClosed
	}
	h.unadmitted += len(chunk)

	msgs, err := h.decode(chunk)
	if err != nil {
		h.fail(err)
		return err
	}
	for _, msg := range msgs {
		if err := h.exec.Execute(msg, h.out); err != nil {
			h.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
			return errors.Wrapf(err, "conn %s: forward message %d", h.id, msg.Header.MessageID)
		}
	}
	return nil
}

func (h *Handler) decode(chunk []byte) (msgs []protocol.Message, err error) {
	defer func() {
		if p := recover(); p != nil {
			msgs, err = nil, recovered("decoding input", p)
		}
	}()
	return h.codec.Decode(chunk)
}

func (h *Handler) fail(cause error) {
	if !h.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return
	}
	h.sink.Error(DecodeFailureMessage, cause)
	h.exec.RequestClose()
}

// AwaitCapacity is called by the dispatch goroutine before each read.
func (h *Handler) AwaitCapacity(ctx context.Context) error {
	if h.State() != StateOpen {
		return ErrHandlerClosed
	}
	p := Pressure{Bytes: h.unadmitted, Backlog: h.exec.Backlog()}
	if err := h.gate.Admit(ctx, p); err != nil {
		return err
	}
	h.unadmitted = 0
	return nil
}

// Close closes the session through the executor, waits for its owner
// context to stop, then releases the output buffer. It is safe to call from
// any goroutine and more than once. Called from inside Machine.Process it
// returns without waiting and the owner context completes the close.
// Failures are reported to the sink.
func (h *Handler) Close() error {
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosing))
		defer h.state.Store(int32(StateClosed))
		defer func() {
			if p := recover(); p != nil {
				h.sink.Error(CloseFailureMessage, recovered("closing handler", p))
			}
		}()
		if err := h.exec.Close(); err != nil {
			if errors.Is(err, ErrCloseOnOwner) {
				// The owner is mid-Process and releases the output itself.
				return
			}
			h.sink.Error(CloseFailureMessage, err)
		}
		if err := h.out.release(); err != nil {
			h.sink.Error(CloseFailureMessage, err)
		}
	})
	return nil
}

// Version is the protocol version negotiated before the handler was built.
func (h *Handler) Version() uint32 {
	return h.version
}

// ID is the connection id used in logs and the registry.
func (h *Handler) ID() string {
	return h.id
}

func (h *Handler) State() State {
	return State(h.state.Load())
}

func (h *Handler) Backlog() int {
	return h.exec.Backlog()
}
