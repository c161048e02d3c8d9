package conn

// Buffer is an outbound byte buffer obtained from a Channel's allocator.
type Buffer interface {
	Write(p []byte) (int, error)
	Bytes() []byte
	Len() int
	Release() error
}

// Channel is the transport side of a connection.
//
// Write takes ownership of buf and releases it on every path, including
// failure. Write and Close are called only from the executor's owner context
// or after it has stopped.
type Channel interface {
	Allocate(size int) (Buffer, error)
	Write(buf Buffer) error
	Close() error
}

// Sink receives one message and cause per unrecoverable failure.
type Sink interface {
	Error(msg string, cause error)
}

type nopSink struct{}

func (nopSink) Error(string, error) {}

// NopSink discards diagnostics.
var NopSink Sink = nopSink{}
