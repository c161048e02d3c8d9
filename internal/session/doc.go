// Package session implements the per-connection session state machine.
//
// Ownership boundary:
//   - authentication handshake (HELLO) and lifecycle states
//   - RUN dispatch to a pluggable Runner
//   - failure/ignore/reset recovery
//   - session timeouts and retry backoff
//
// The machine is driven only by its connection's executor and is not safe
// for concurrent use.
package session
