package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/wirectl/internal/auth"
	"github.com/danmuck/wirectl/internal/conn"
	"github.com/danmuck/wirectl/internal/protocol"
)

type State int

const (
	StateConnected State = iota
	StateReady
	StateFailed
	StateDefunct
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDefunct:
		return "defunct"
	default:
		return "unknown"
	}
}

// Failure codes carried in FAILURE replies.
const (
	CodeUnauthorized    = "Security.Unauthorized"
	CodeInvalidRequest  = "Request.Invalid"
	CodeStatementFailed = "Statement.Failed"
)

var (
	ErrDefunct           = errors.New("session: defunct")
	ErrProtocolViolation = errors.New("session: protocol violation")
)

type Options struct {
	Server        string
	ConnectionID  string
	Authenticator auth.Authenticator
	Runner        Runner
	Config        Config
	Logger        zerolog.Logger
}

// Machine is a conn.Machine for one connection.
type Machine struct {
	opts      Options
	state     State
	principal string
}

var _ conn.Machine = (*Machine)(nil)

func NewMachine(opts Options) *Machine {
	if opts.Runner == nil {
		opts.Runner = EchoRunner{}
	}
	if opts.Authenticator == nil {
		opts.Authenticator = auth.AnyPrincipal{}
	}
	if opts.Server == "" {
		opts.Server = "wirectl"
	}
	return &Machine{opts: opts}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Principal() string {
	return m.principal
}

func (m *Machine) Process(ctx context.Context, msg protocol.Message, r *conn.Responder) error {
	if m.state == StateDefunct {
		return ErrDefunct
	}
	if msg.Type() == protocol.MessageGoodbye {
		m.state = StateDefunct
		return conn.ErrSessionEnded
	}

	switch m.state {
	case StateConnected:
		return m.hello(msg, r)
	case StateFailed:
		if msg.Type() == protocol.MessageReset {
			m.state = StateReady
			return r.Send(reply(msg, protocol.MessageSuccess))
		}
		return r.Send(reply(msg, protocol.MessageIgnored))
	default:
		return m.ready(ctx, msg, r)
	}
}

func (m *Machine) hello(msg protocol.Message, r *conn.Responder) error {
	if msg.Type() != protocol.MessageHello {
		m.state = StateDefunct
		return fmt.Errorf("%w: %s before HELLO", ErrProtocolViolation, msg.Type())
	}
	sem, err := protocol.Validate(&msg)
	if err != nil {
		m.state = StateDefunct
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	principal := sem.StringValue(protocol.FieldPrincipal)
	if err := m.opts.Authenticator.Authenticate(principal, sem.StringValue(protocol.FieldCredentials)); err != nil {
		m.opts.Logger.Warn().
			Str("conn_id", m.opts.ConnectionID).
			Str("principal", principal).
			Msg("authentication failed")
		m.state = StateDefunct
		if err := r.Send(failure(msg, CodeUnauthorized, "authentication failed")); err != nil {
			return err
		}
		return conn.ErrSessionEnded
	}

	m.principal = principal
	m.state = StateReady
	m.opts.Logger.Debug().
		Str("conn_id", m.opts.ConnectionID).
		Str("principal", principal).
		Str("user_agent", sem.StringValue(protocol.FieldUserAgent)).
		Msg("session ready")
	out := reply(msg, protocol.MessageSuccess)
	out.Fields = []protocol.Field{
		protocol.NewFieldString(protocol.FieldServer, m.opts.Server),
		protocol.NewFieldString(protocol.FieldConnectionID, m.opts.ConnectionID),
	}
	return r.Send(out)
}

func (m *Machine) ready(ctx context.Context, msg protocol.Message, r *conn.Responder) error {
	switch msg.Type() {
	case protocol.MessageReset:
		return r.Send(reply(msg, protocol.MessageSuccess))
	case protocol.MessageRun:
	case protocol.MessageHello:
		m.state = StateDefunct
		return fmt.Errorf("%w: repeated HELLO", ErrProtocolViolation)
	default:
		m.state = StateFailed
		return r.Send(failure(msg, CodeInvalidRequest, fmt.Sprintf("unexpected %s", msg.Type())))
	}

	sem, err := protocol.Validate(&msg)
	if err != nil {
		m.state = StateFailed
		return r.Send(failure(msg, CodeInvalidRequest, err.Error()))
	}
	st := Statement{
		Principal:  m.principal,
		Text:       sem.StringValue(protocol.FieldStatement),
		Parameters: sem.Fields[protocol.FieldParameters].Bytes,
	}
	if m.opts.Config.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Config.StatementTimeout)
		defer cancel()
	}
	res, err := m.opts.Runner.Run(ctx, st)
	if err != nil {
		m.state = StateFailed
		return r.Send(failure(msg, CodeStatementFailed, err.Error()))
	}
	out := reply(msg, protocol.MessageSuccess)
	out.Fields = []protocol.Field{protocol.NewFieldString(protocol.FieldSummary, res.Summary)}
	return r.Send(out)
}

// Close marks the session defunct. Repeated calls are harmless.
func (m *Machine) Close() error {
	if m.state != StateDefunct {
		m.opts.Logger.Debug().
			Str("conn_id", m.opts.ConnectionID).
			Str("state", m.state.String()).
			Msg("session closed")
	}
	m.state = StateDefunct
	return nil
}

func reply(req protocol.Message, t protocol.MessageType) protocol.Message {
	flags := protocol.FlagIsResponse
	if t == protocol.MessageFailure {
		flags |= protocol.FlagIsError
	}
	return protocol.Message{Header: protocol.Header{
		MessageID:   req.Header.MessageID,
		MessageType: t,
		Flags:       flags,
	}}
}

func failure(req protocol.Message, code, message string) protocol.Message {
	out := reply(req, protocol.MessageFailure)
	out.Fields = []protocol.Field{
		protocol.NewFieldString(protocol.FieldCode, code),
		protocol.NewFieldString(protocol.FieldMessage, message),
	}
	return out
}
