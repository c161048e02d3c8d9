package protocol

import (
	"encoding/binary"
	"errors"
)

var errInvalidBool = errors.New("protocol: invalid bool value")

// Field constructors copy their input; decoded fields never alias caller memory.

func NewFieldUint8(id uint16, v uint8) Field {
	return Field{ID: id, Type: FieldUint8, Value: []byte{v}}
}

func NewFieldUint16(id uint16, v uint16) Field {
	return Field{ID: id, Type: FieldUint16, Value: binary.BigEndian.AppendUint16(nil, v)}
}

func NewFieldUint32(id uint16, v uint32) Field {
	return Field{ID: id, Type: FieldUint32, Value: binary.BigEndian.AppendUint32(nil, v)}
}

func NewFieldUint64(id uint16, v uint64) Field {
	return Field{ID: id, Type: FieldUint64, Value: binary.BigEndian.AppendUint64(nil, v)}
}

func NewFieldBool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: FieldBool, Value: []byte{b}}
}

func NewFieldString(id uint16, v string) Field {
	return Field{ID: id, Type: FieldString, Value: []byte(v)}
}

func NewFieldBytes(id uint16, v []byte) Field {
	return Field{ID: id, Type: FieldBytes, Value: append([]byte(nil), v...)}
}

func (f Field) sized(want FieldType, n int) ([]byte, error) {
	if f.Type != want {
		return nil, ErrFieldTypeMismatch
	}
	if n >= 0 && len(f.Value) != n {
		return nil, ErrInvalidLength
	}
	return f.Value, nil
}

func (f Field) Uint8() (uint8, error) {
	b, err := f.sized(FieldUint8, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f Field) Uint16() (uint16, error) {
	b, err := f.sized(FieldUint16, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (f Field) Uint32() (uint32, error) {
	b, err := f.sized(FieldUint32, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (f Field) Uint64() (uint64, error) {
	b, err := f.sized(FieldUint64, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (f Field) Bool() (bool, error) {
	b, err := f.sized(FieldBool, 1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errInvalidBool
	}
}

func (f Field) String() (string, error) {
	b, err := f.sized(FieldString, -1)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f Field) Bytes() ([]byte, error) {
	b, err := f.sized(FieldBytes, -1)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}
