package conn

import "github.com/cockroachdb/errors"

const (
	DecodeFailureMessage    = "Failed to handle incoming protocol message. Connection will be closed."
	ExecutionFailureMessage = "Failed to process protocol message. Connection will be closed."
	CloseFailureMessage     = "Failed to close connection cleanly."
)

var (
	ErrHandlerClosed    = errors.New("conn: handler closed")
	ErrExecutorClosed   = errors.New("conn: executor closed")
	ErrSessionEnded     = errors.New("conn: session ended by client")
	ErrResponderExpired = errors.New("conn: responder used outside its process call")
	ErrOutputReleased   = errors.New("conn: output buffer released")
	// ErrCloseOnOwner is returned by Executor.Close when it runs on the
	// owner context. The close completes once the current Process returns.
	ErrCloseOnOwner = errors.New("conn: close requested from the owner context")
)

func recovered(where string, p any) error {
	if err, ok := p.(error); ok {
		return errors.WithStack(errors.Wrapf(err, "conn: panic while %s", where))
	}
	return errors.WithStack(errors.Newf("conn: panic while %s: %v", where, p))
}
