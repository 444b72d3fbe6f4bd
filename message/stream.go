package message

import (
	"fmt"

	"github.com/glimte/mmate-jms/contracts"
)

// StreamMessage carries an ordered sequence of typed values read back sequentially
type StreamMessage struct {
	*Envelope
	items  []any
	cursor int

	// partial tracks a []byte item that ReadBytes has started but not finished draining
	partial       []byte
	partialOffset int
}

// NewStreamMessage creates a write-only, empty stream message
func NewStreamMessage() *StreamMessage {
	return &StreamMessage{Envelope: newEnvelope(KindStream)}
}

func (m *StreamMessage) write(v any) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if err := checkValue(v, true); err != nil {
		return err
	}
	if b, ok := v.([]byte); ok {
		v = cloneBytes(b)
	}
	m.items = append(m.items, v)
	return nil
}

func (m *StreamMessage) WriteBool(v bool) error       { return m.write(v) }
func (m *StreamMessage) WriteInt8(v int8) error       { return m.write(v) }
func (m *StreamMessage) WriteInt16(v int16) error     { return m.write(v) }
func (m *StreamMessage) WriteChar(v Char) error       { return m.write(v) }
func (m *StreamMessage) WriteInt32(v int32) error     { return m.write(v) }
func (m *StreamMessage) WriteInt64(v int64) error     { return m.write(v) }
func (m *StreamMessage) WriteFloat32(v float32) error { return m.write(v) }
func (m *StreamMessage) WriteFloat64(v float64) error { return m.write(v) }
func (m *StreamMessage) WriteString(v string) error   { return m.write(v) }

// WriteBytes appends a copy of b as a single item
func (m *StreamMessage) WriteBytes(b []byte) error {
	if b == nil {
		b = []byte{}
	}
	return m.write(b)
}

// WriteBytesRange appends b[offset:offset+length] as a single item
func (m *StreamMessage) WriteBytesRange(b []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(b) {
		return fmt.Errorf("%w: range [%d,%d) outside %d bytes", contracts.ErrInvalidArgument, offset, offset+length, len(b))
	}
	return m.write(b[offset : offset+length])
}

// WriteObject appends any supported value, including nil and []byte
func (m *StreamMessage) WriteObject(v any) error { return m.write(v) }

// next returns the item under the cursor without advancing
func (m *StreamMessage) next() (any, error) {
	if err := m.checkReadable(); err != nil {
		return nil, err
	}
	if m.partial != nil {
		return nil, fmt.Errorf("%w: a bytes item is partially read", contracts.ErrFormatMismatch)
	}
	if m.cursor >= len(m.items) {
		return nil, fmt.Errorf("%w: item %d of %d", contracts.ErrUnexpectedEnd, m.cursor, len(m.items))
	}
	return m.items[m.cursor], nil
}

// read applies conv to the current item and advances only on success
func readItem[T any](m *StreamMessage, conv func(any) (T, error)) (T, error) {
	var zero T
	v, err := m.next()
	if err != nil {
		return zero, err
	}
	out, err := conv(v)
	if err != nil {
		return zero, err
	}
	m.cursor++
	return out, nil
}

func (m *StreamMessage) ReadBool() (bool, error)       { return readItem(m, toBool) }
func (m *StreamMessage) ReadInt8() (int8, error)       { return readItem(m, toInt8) }
func (m *StreamMessage) ReadInt16() (int16, error)     { return readItem(m, toInt16) }
func (m *StreamMessage) ReadChar() (Char, error)       { return readItem(m, toChar) }
func (m *StreamMessage) ReadInt32() (int32, error)     { return readItem(m, toInt32) }
func (m *StreamMessage) ReadInt64() (int64, error)     { return readItem(m, toInt64) }
func (m *StreamMessage) ReadFloat32() (float32, error) { return readItem(m, toFloat32) }
func (m *StreamMessage) ReadFloat64() (float64, error) { return readItem(m, toFloat64) }
func (m *StreamMessage) ReadString() (string, error)   { return readItem(m, toString) }

// ReadObject returns the current item as stored
func (m *StreamMessage) ReadObject() (any, error) {
	return readItem(m, func(v any) (any, error) {
		if b, ok := v.([]byte); ok {
			return cloneBytes(b), nil
		}
		return v, nil
	})
}

// ReadBytes copies the current []byte item into buf and returns the number of bytes copied.
// When the item does not fit, the next calls continue where the previous one stopped; once the
// item is drained a further call returns -1 and moves the cursor to the next item. A nil item
// returns -1 immediately.
func (m *StreamMessage) ReadBytes(buf []byte) (int, error) {
	if err := m.checkReadable(); err != nil {
		return 0, err
	}
	if m.partial != nil {
		if m.partialOffset >= len(m.partial) {
			m.partial, m.partialOffset = nil, 0
			m.cursor++
			return -1, nil
		}
		n := copy(buf, m.partial[m.partialOffset:])
		m.partialOffset += n
		return n, nil
	}
	if m.cursor >= len(m.items) {
		return 0, fmt.Errorf("%w: item %d of %d", contracts.ErrUnexpectedEnd, m.cursor, len(m.items))
	}
	switch item := m.items[m.cursor].(type) {
	case nil:
		m.cursor++
		return -1, nil
	case []byte:
		if len(buf) == 0 {
			return 0, nil
		}
		n := copy(buf, item)
		if n < len(buf) {
			m.cursor++
			return n, nil
		}
		m.partial, m.partialOffset = item, n
		return n, nil
	default:
		return 0, mismatch(item, "bytes")
	}
}

// Reset rewinds the cursor and makes the body read-only
func (m *StreamMessage) Reset() error {
	if err := m.apply(MakeReadable); err != nil {
		return err
	}
	m.cursor = 0
	m.partial, m.partialOffset = nil, 0
	return nil
}

// ClearBody discards every item and makes the body write-only
func (m *StreamMessage) ClearBody() {
	m.items = nil
	m.cursor = 0
	m.partial, m.partialOffset = nil, 0
	m.resetState()
}
