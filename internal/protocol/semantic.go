package protocol

import "fmt"

// FieldSpec declares a known field within a message type.
type FieldSpec struct {
	ID       uint16
	Type     FieldType
	Required bool
}

// Schema defines required and known fields for a message type.
type Schema struct {
	MessageType MessageType
	Fields      []FieldSpec
}

// Value is a decoded field value.
type Value struct {
	Type   FieldType
	Uint8  uint8
	Uint16 uint16
	Uint32 uint32
	Uint64 uint64
	Bool   bool
	String string
	Bytes  []byte
}

// SemanticMessage is a message with typed field values validated by a schema.
type SemanticMessage struct {
	Header      Header
	AuthBlock   []byte
	MessageType MessageType
	Fields      map[uint16]Value
	Unknown     []Field
}

// StringValue returns the string value of field id, or "" when absent.
func (m *SemanticMessage) StringValue(id uint16) string {
	if m == nil {
		return ""
	}
	return m.Fields[id].String
}

// ParseSemantic validates msg against schema and returns typed field values.
// Unknown fields are kept aside, not rejected.
func ParseSemantic(msg *Message, schema Schema) (*SemanticMessage, error) {
	if msg == nil {
		return nil, ErrInvalidLength
	}
	if msg.Header.MessageType != schema.MessageType {
		return nil, ErrMessageTypeMismatch
	}
	known := make(map[uint16]FieldSpec, len(schema.Fields))
	for _, spec := range schema.Fields {
		known[spec.ID] = spec
	}

	semantic := &SemanticMessage{
		Header:      msg.Header,
		AuthBlock:   msg.AuthBlock,
		MessageType: msg.Header.MessageType,
		Fields:      make(map[uint16]Value),
	}

	for _, field := range msg.Fields {
		spec, ok := known[field.ID]
		if !ok {
			semantic.Unknown = append(semantic.Unknown, field)
			continue
		}
		value, err := decodeValue(field, spec.Type)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", field.ID, err)
		}
		semantic.Fields[field.ID] = value
	}

	// Report the first missing field in schema order so errors are stable.
	for _, spec := range schema.Fields {
		if !spec.Required {
			continue
		}
		if _, ok := semantic.Fields[spec.ID]; !ok {
			return nil, MissingFieldError{MessageType: schema.MessageType, FieldID: spec.ID}
		}
	}

	return semantic, nil
}

// MissingFieldError indicates a required field was not present.
type MissingFieldError struct {
	MessageType MessageType
	FieldID     uint16
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("protocol: %s missing required field %d", e.MessageType, e.FieldID)
}

func decodeValue(field Field, expected FieldType) (Value, error) {
	if field.Type != expected {
		return Value{}, ErrFieldTypeMismatch
	}
	value := Value{Type: field.Type}
	var err error
	switch field.Type {
	case FieldUint8:
		value.Uint8, err = field.Uint8()
	case FieldUint16:
		value.Uint16, err = field.Uint16()
	case FieldUint32:
		value.Uint32, err = field.Uint32()
	case FieldUint64:
		value.Uint64, err = field.Uint64()
	case FieldBool:
		value.Bool, err = field.Bool()
	case FieldString:
		value.String, err = field.String()
	case FieldBytes:
		value.Bytes, err = field.Bytes()
	default:
		return Value{}, ErrFieldTypeMismatch
	}
	if err != nil {
		return Value{}, err
	}
	return value, nil
}
