package protocol

import "fmt"

const (
	// Magic is the first word of every frame ("WIRE").
	Magic uint32 = 0x57495245
	// Version is the frame layout version written into every header.
	Version    uint16 = 1
	HeaderSize uint16 = 32

	FlagHasAuth    uint32 = 0x01
	FlagIsResponse uint32 = 0x02
	FlagIsError    uint32 = 0x04
)

// MessageType identifies the request or response carried by a frame.
type MessageType uint32

const (
	MessageHello   MessageType = 0x01
	MessageGoodbye MessageType = 0x02
	MessageReset   MessageType = 0x0f
	MessageRun     MessageType = 0x10

	MessageSuccess MessageType = 0x70
	MessageIgnored MessageType = 0x7e
	MessageFailure MessageType = 0x7f
)

func (t MessageType) String() string {
	switch t {
	case MessageHello:
		return "HELLO"
	case MessageGoodbye:
		return "GOODBYE"
	case MessageReset:
		return "RESET"
	case MessageRun:
		return "RUN"
	case MessageSuccess:
		return "SUCCESS"
	case MessageIgnored:
		return "IGNORED"
	case MessageFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint32(t))
	}
}

// IsResponse reports whether t is a server->client summary message.
func (t MessageType) IsResponse() bool {
	return t == MessageSuccess || t == MessageIgnored || t == MessageFailure
}

// FieldType is the TLV value type tag.
type FieldType uint8

const (
	FieldUint8  FieldType = 1
	FieldUint16 FieldType = 2
	FieldUint32 FieldType = 3
	FieldUint64 FieldType = 4
	FieldBool   FieldType = 5
	FieldString FieldType = 6
	FieldBytes  FieldType = 7
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType MessageType
	Flags       uint32
	PayloadLen  uint64
}

// Field is one TLV payload field.
type Field struct {
	ID    uint16
	Type  FieldType
	Value []byte
}

// Message is one complete decoded frame.
type Message struct {
	Header    Header
	AuthBlock []byte
	Fields    []Field
}

// Type returns the message type from the header.
func (m Message) Type() MessageType {
	return m.Header.MessageType
}

// Field returns the first field with the given id.
func (m Message) Field(id uint16) (Field, bool) {
	for _, f := range m.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Limits constrains decode memory use.
type Limits struct {
	MaxAuthBytes    uint64
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxAuthBytes:    16 * 1024,
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}
