// Package handshake negotiates the protocol version before any frame is
// exchanged.
//
// The client writes the 4-byte preamble followed by four big-endian uint32
// version proposals in preference order, zero marking an empty slot. The
// server answers with the first proposal it supports, or zero.
package handshake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var Preamble = [4]byte{0x60, 0x60, 0xB0, 0x17}

const (
	Slots       = 4
	RequestSize = len(Preamble) + Slots*4
	ReplySize   = 4
)

var (
	ErrBadPreamble      = errors.New("handshake: bad preamble")
	ErrNoCommonVersion  = errors.New("handshake: no common protocol version")
	ErrTooManyVersions  = errors.New("handshake: too many version proposals")
	ErrUnexpectedChoice = errors.New("handshake: server chose a version that was not proposed")
)

// Negotiate runs the server side. It always replies once the preamble is
// valid, writing zero when no proposal is supported.
func Negotiate(rw io.ReadWriter, supported []uint32) (uint32, error) {
	req := make([]byte, RequestSize)
	if _, err := io.ReadFull(rw, req); err != nil {
		return 0, fmt.Errorf("handshake: read request: %w", err)
	}
	if !bytes.Equal(req[:len(Preamble)], Preamble[:]) {
		return 0, ErrBadPreamble
	}

	chosen := choose(req[len(Preamble):], supported)
	reply := make([]byte, ReplySize)
	binary.BigEndian.PutUint32(reply, chosen)
	if _, err := rw.Write(reply); err != nil {
		return 0, fmt.Errorf("handshake: write reply: %w", err)
	}
	if chosen == 0 {
		return 0, ErrNoCommonVersion
	}
	return chosen, nil
}

func choose(proposals []byte, supported []uint32) uint32 {
	for i := 0; i < Slots; i++ {
		v := binary.BigEndian.Uint32(proposals[i*4:])
		if v == 0 {
			continue
		}
		for _, s := range supported {
			if s == v {
				return v
			}
		}
	}
	return 0
}

// Propose runs the client side.
func Propose(rw io.ReadWriter, versions []uint32) (uint32, error) {
	if len(versions) > Slots {
		return 0, ErrTooManyVersions
	}
	req := make([]byte, RequestSize)
	copy(req, Preamble[:])
	for i, v := range versions {
		binary.BigEndian.PutUint32(req[len(Preamble)+i*4:], v)
	}
	if _, err := rw.Write(req); err != nil {
		return 0, fmt.Errorf("handshake: write request: %w", err)
	}

	reply := make([]byte, ReplySize)
	if _, err := io.ReadFull(rw, reply); err != nil {
		return 0, fmt.Errorf("handshake: read reply: %w", err)
	}
	chosen := binary.BigEndian.Uint32(reply)
	if chosen == 0 {
		return 0, ErrNoCommonVersion
	}
	for _, v := range versions {
		if v == chosen {
			return chosen, nil
		}
	}
	return 0, ErrUnexpectedChoice
}
