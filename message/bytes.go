package message

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/glimte/mmate-jms/contracts"
)

// BytesMessage carries an uninterpreted byte stream written and read with big-endian
// encodings of primitive values.
type BytesMessage struct {
	*Envelope
	buf []byte
	pos int
}

// NewBytesMessage creates a write-only, empty bytes message
func NewBytesMessage() *BytesMessage {
	return &BytesMessage{Envelope: newEnvelope(KindBytes)}
}

func (m *BytesMessage) append(b ...byte) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	m.buf = append(m.buf, b...)
	return nil
}

func (m *BytesMessage) WriteBool(v bool) error {
	if v {
		return m.append(1)
	}
	return m.append(0)
}

func (m *BytesMessage) WriteInt8(v int8) error { return m.append(byte(v)) }

func (m *BytesMessage) WriteInt16(v int16) error {
	return m.append(binary.BigEndian.AppendUint16(nil, uint16(v))...)
}

func (m *BytesMessage) WriteChar(v Char) error {
	return m.append(binary.BigEndian.AppendUint16(nil, uint16(v))...)
}

func (m *BytesMessage) WriteInt32(v int32) error {
	return m.append(binary.BigEndian.AppendUint32(nil, uint32(v))...)
}

func (m *BytesMessage) WriteInt64(v int64) error {
	return m.append(binary.BigEndian.AppendUint64(nil, uint64(v))...)
}

func (m *BytesMessage) WriteFloat32(v float32) error {
	return m.append(binary.BigEndian.AppendUint32(nil, math.Float32bits(v))...)
}

func (m *BytesMessage) WriteFloat64(v float64) error {
	return m.append(binary.BigEndian.AppendUint64(nil, math.Float64bits(v))...)
}

// WriteUTF writes s prefixed with its length in bytes as an unsigned 16-bit integer
func (m *BytesMessage) WriteUTF(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: string of %d bytes exceeds %d", contracts.ErrInvalidArgument, len(s), math.MaxUint16)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: string is not valid UTF-8", contracts.ErrInvalidArgument)
	}
	out := binary.BigEndian.AppendUint16(nil, uint16(len(s)))
	return m.append(append(out, s...)...)
}

// WriteBytes appends b verbatim
func (m *BytesMessage) WriteBytes(b []byte) error { return m.append(b...) }

// WriteBytesRange appends b[offset:offset+length] verbatim
func (m *BytesMessage) WriteBytesRange(b []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(b) {
		return fmt.Errorf("%w: range [%d,%d) outside %d bytes", contracts.ErrInvalidArgument, offset, offset+length, len(b))
	}
	return m.append(b[offset : offset+length]...)
}

// WriteObject writes a supported scalar using the matching typed writer
func (m *BytesMessage) WriteObject(v any) error {
	switch x := v.(type) {
	case bool:
		return m.WriteBool(x)
	case int8:
		return m.WriteInt8(x)
	case int16:
		return m.WriteInt16(x)
	case Char:
		return m.WriteChar(x)
	case int32:
		return m.WriteInt32(x)
	case int64:
		return m.WriteInt64(x)
	case float32:
		return m.WriteFloat32(x)
	case float64:
		return m.WriteFloat64(x)
	case string:
		return m.WriteUTF(x)
	case []byte:
		return m.WriteBytes(x)
	case nil:
		return fmt.Errorf("%w: cannot write null to a bytes message", contracts.ErrInvalidArgument)
	}
	return fmt.Errorf("%w: unsupported value type %T", contracts.ErrFormatMismatch, v)
}

// take consumes n bytes, or none when fewer remain
func (m *BytesMessage) take(n int) ([]byte, error) {
	if err := m.checkReadable(); err != nil {
		return nil, err
	}
	if len(m.buf)-m.pos < n {
		return nil, fmt.Errorf("%w: need %d bytes, %d remain", contracts.ErrUnexpectedEnd, n, len(m.buf)-m.pos)
	}
	b := m.buf[m.pos : m.pos+n]
	m.pos += n
	return b, nil
}

func (m *BytesMessage) ReadBool() (bool, error) {
	b, err := m.take(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (m *BytesMessage) ReadInt8() (int8, error) {
	b, err := m.take(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (m *BytesMessage) ReadUint8() (uint8, error) {
	b, err := m.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *BytesMessage) ReadInt16() (int16, error) {
	b, err := m.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (m *BytesMessage) ReadUint16() (uint16, error) {
	b, err := m.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (m *BytesMessage) ReadChar() (Char, error) {
	b, err := m.take(2)
	if err != nil {
		return 0, err
	}
	return Char(binary.BigEndian.Uint16(b)), nil
}

func (m *BytesMessage) ReadInt32() (int32, error) {
	b, err := m.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (m *BytesMessage) ReadInt64() (int64, error) {
	b, err := m.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (m *BytesMessage) ReadFloat32() (float32, error) {
	b, err := m.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func (m *BytesMessage) ReadFloat64() (float64, error) {
	b, err := m.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// ReadUTF reads a string written by WriteUTF
func (m *BytesMessage) ReadUTF() (string, error) {
	if err := m.checkReadable(); err != nil {
		return "", err
	}
	if len(m.buf)-m.pos < 2 {
		return "", fmt.Errorf("%w: missing string length", contracts.ErrUnexpectedEnd)
	}
	n := int(binary.BigEndian.Uint16(m.buf[m.pos:]))
	if len(m.buf)-m.pos-2 < n {
		return "", fmt.Errorf("%w: string of %d bytes truncated", contracts.ErrUnexpectedEnd, n)
	}
	s := m.buf[m.pos+2 : m.pos+2+n]
	if !utf8.Valid(s) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", contracts.ErrFormatMismatch)
	}
	m.pos += 2 + n
	return string(s), nil
}

// ReadBytes copies up to len(buf) remaining bytes into buf. It returns -1 once the body is
// exhausted.
func (m *BytesMessage) ReadBytes(buf []byte) (int, error) {
	if err := m.checkReadable(); err != nil {
		return 0, err
	}
	if m.pos >= len(m.buf) {
		return -1, nil
	}
	n := copy(buf, m.buf[m.pos:])
	m.pos += n
	return n, nil
}

// BodyLength returns the total body size in bytes
func (m *BytesMessage) BodyLength() (int64, error) {
	if err := m.checkReadable(); err != nil {
		return 0, err
	}
	return int64(len(m.buf)), nil
}

// Reset rewinds to the start of the body and makes it read-only
func (m *BytesMessage) Reset() error {
	if err := m.apply(MakeReadable); err != nil {
		return err
	}
	m.pos = 0
	return nil
}

// ClearBody discards the body and makes it write-only
func (m *BytesMessage) ClearBody() {
	m.buf = nil
	m.pos = 0
	m.resetState()
}
