// Package codec turns transport byte chunks into protocol messages for one
// negotiated protocol version.
package codec

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/danmuck/wirectl/internal/protocol"
)

var ErrUnsupportedVersion = errors.New("codec: unsupported protocol version")

// Codec decodes one connection's inbound stream and encodes its replies.
// Decode keeps partial frames between calls; a Codec is therefore bound to a
// single connection and is not safe for concurrent Decode calls.
type Codec interface {
	Version() uint32
	Decode(chunk []byte) ([]protocol.Message, error)
	Encode(w io.Writer, msg protocol.Message) error
}

// Factory builds a fresh codec for a new connection.
type Factory func(limits protocol.Limits) Codec

var registry = map[uint32]Factory{
	VersionV1: func(limits protocol.Limits) Codec { return NewV1(limits) },
}

// Versions returns the supported protocol versions, highest first.
func Versions() []uint32 {
	out := make([]uint32, 0, len(registry))
	for v := range registry {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// ForVersion builds the codec for a negotiated version.
func ForVersion(version uint32, limits protocol.Limits) (Codec, error) {
	factory, ok := registry[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return factory(limits), nil
}
