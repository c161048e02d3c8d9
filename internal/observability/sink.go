package observability

import (
	"github.com/rs/zerolog"

	"github.com/danmuck/wirectl/internal/conn"
)

// Sink reports connection failures as zerolog error events and counts them.
type Sink struct {
	logger zerolog.Logger
	connID string
}

var _ conn.Sink = (*Sink)(nil)

func NewSink(logger zerolog.Logger, connID string) *Sink {
	return &Sink{logger: logger, connID: connID}
}

func (s *Sink) Error(msg string, cause error) {
	RecordDiagnostic(diagnosticKind(msg))
	s.logger.Error().
		Err(cause).
		Str("conn_id", s.connID).
		Msg(msg)
}

func diagnosticKind(msg string) string {
	switch msg {
	case conn.DecodeFailureMessage:
		return "decode"
	case conn.ExecutionFailureMessage:
		return "execution"
	case conn.CloseFailureMessage:
		return "close"
	default:
		return "other"
	}
}
