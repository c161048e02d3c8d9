// Package conn owns one protocol connection between the transport and the
// session machine.
//
// Ownership boundaries:
//   - The dispatch goroutine calls Handler.Handle and Handler.AwaitCapacity.
//     It decodes and forwards, and never writes to the channel.
//   - The executor's owner context runs Machine.Process, writes replies
//     through Output, and is the only place a session is hung up after a
//     processing failure.
//   - Handler.Close may be called from any goroutine. It waits for the owner
//     context to stop before releasing the output buffer.
package conn
