// Package protocol owns the wire contract and parsing primitives.
//
// Ownership boundary:
// - fixed header and auth block primitives
// - tlv field primitives
// - message schemas and semantic validation entry points
//
// Incremental decoding across transport reads lives in protocol/codec;
// version negotiation lives in protocol/handshake.
package protocol
