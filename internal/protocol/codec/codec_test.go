package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/wirectl/internal/protocol"
)

func encodeAll(t *testing.T, msgs ...protocol.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	c := NewV1(protocol.DefaultLimits())
	for _, m := range msgs {
		if err := c.Encode(&buf, m); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return buf.Bytes()
}

func runMsg(id uint64, stmt string) protocol.Message {
	return protocol.Message{
		Header: protocol.Header{MessageID: id, MessageType: protocol.MessageRun},
		Fields: []protocol.Field{protocol.NewFieldString(protocol.FieldStatement, stmt)},
	}
}

func TestV1DecodeAcrossChunks(t *testing.T) {
	stream := encodeAll(t, runMsg(1, "a"), runMsg(2, "bb"), runMsg(3, "ccc"))
	c := NewV1(protocol.DefaultLimits())

	var got []uint64
	for i := 0; i < len(stream); i += 5 {
		end := min(i+5, len(stream))
		msgs, err := c.Decode(stream[i:end])
		if err != nil {
			t.Fatalf("decode chunk at %d: %v", i, err)
		}
		for _, m := range msgs {
			got = append(got, m.Header.MessageID)
		}
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected decode order: %v", got)
	}
	if c.Buffered() != 0 {
		t.Fatalf("expected no buffered bytes, got %d", c.Buffered())
	}
}

func TestV1DecodeManyInOneChunk(t *testing.T) {
	stream := encodeAll(t, runMsg(1, "a"), runMsg(2, "b"))
	msgs, err := NewV1(protocol.DefaultLimits()).Decode(stream)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestV1DecodeErrorIsSticky(t *testing.T) {
	c := NewV1(protocol.DefaultLimits())
	garbage := bytes.Repeat([]byte{0xde}, int(protocol.HeaderSize))
	_, err := c.Decode(garbage)
	if !errors.Is(err, protocol.ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
	_, err2 := c.Decode(encodeAll(t, runMsg(1, "a")))
	if !errors.Is(err2, protocol.ErrInvalidMagic) {
		t.Fatalf("expected sticky error, got %v", err2)
	}
}

func TestV1RejectsOversizedPayload(t *testing.T) {
	stream := encodeAll(t, runMsg(1, string(bytes.Repeat([]byte("x"), 64))))
	c := NewV1(protocol.Limits{MaxPayloadBytes: 16, MaxAuthBytes: 16})
	if _, err := c.Decode(stream); !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestForVersion(t *testing.T) {
	c, err := ForVersion(VersionV1, protocol.DefaultLimits())
	if err != nil {
		t.Fatalf("for version: %v", err)
	}
	if c.Version() != VersionV1 {
		t.Fatalf("unexpected version %d", c.Version())
	}
	if _, err := ForVersion(9, protocol.DefaultLimits()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if v := Versions(); len(v) != 1 || v[0] != VersionV1 {
		t.Fatalf("unexpected versions %v", v)
	}
}
