package protocol

// Field IDs by message family.
const (
	FieldUserAgent   uint16 = 1
	FieldPrincipal   uint16 = 2
	FieldCredentials uint16 = 3

	FieldStatement  uint16 = 10
	FieldParameters uint16 = 11

	FieldCode    uint16 = 20
	FieldMessage uint16 = 21

	FieldServer       uint16 = 30
	FieldConnectionID uint16 = 31
	FieldSummary      uint16 = 32
)

var schemas = map[MessageType]Schema{
	MessageHello: {
		MessageType: MessageHello,
		Fields: []FieldSpec{
			{ID: FieldUserAgent, Type: FieldString, Required: true},
			{ID: FieldPrincipal, Type: FieldString, Required: true},
			{ID: FieldCredentials, Type: FieldString, Required: true},
		},
	},
	MessageGoodbye: {MessageType: MessageGoodbye},
	MessageReset:   {MessageType: MessageReset},
	MessageRun: {
		MessageType: MessageRun,
		Fields: []FieldSpec{
			{ID: FieldStatement, Type: FieldString, Required: true},
			{ID: FieldParameters, Type: FieldBytes},
		},
	},
	MessageSuccess: {
		MessageType: MessageSuccess,
		Fields: []FieldSpec{
			{ID: FieldServer, Type: FieldString},
			{ID: FieldConnectionID, Type: FieldString},
			{ID: FieldSummary, Type: FieldString},
		},
	},
	MessageIgnored: {MessageType: MessageIgnored},
	MessageFailure: {
		MessageType: MessageFailure,
		Fields: []FieldSpec{
			{ID: FieldCode, Type: FieldString, Required: true},
			{ID: FieldMessage, Type: FieldString, Required: true},
		},
	},
}

// SchemaFor returns the registered schema for t.
func SchemaFor(t MessageType) (Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// Validate parses msg against the registered schema for its type.
func Validate(msg *Message) (*SemanticMessage, error) {
	if msg == nil {
		return nil, ErrInvalidLength
	}
	s, ok := SchemaFor(msg.Header.MessageType)
	if !ok {
		return nil, ErrUnknownMessageType
	}
	return ParseSemantic(msg, s)
}
