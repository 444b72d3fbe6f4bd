package message

import (
	"testing"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamMessageRoundTrip(t *testing.T) {
	t.Run("typed values read back in order", func(t *testing.T) {
		m := NewStreamMessage()
		require.NoError(t, m.WriteBool(true))
		require.NoError(t, m.WriteInt8(-7))
		require.NoError(t, m.WriteInt16(1234))
		require.NoError(t, m.WriteChar(Char('x')))
		require.NoError(t, m.WriteInt32(-99999))
		require.NoError(t, m.WriteInt64(1<<40))
		require.NoError(t, m.WriteFloat32(1.5))
		require.NoError(t, m.WriteFloat64(2.25))
		require.NoError(t, m.WriteString("hello"))
		require.NoError(t, m.WriteBytes([]byte{1, 2, 3}))
		require.NoError(t, m.Reset())

		b, err := m.ReadBool()
		require.NoError(t, err)
		assert.True(t, b)
		i8, err := m.ReadInt8()
		require.NoError(t, err)
		assert.Equal(t, int8(-7), i8)
		i16, err := m.ReadInt16()
		require.NoError(t, err)
		assert.Equal(t, int16(1234), i16)
		c, err := m.ReadChar()
		require.NoError(t, err)
		assert.Equal(t, Char('x'), c)
		i32, err := m.ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, int32(-99999), i32)
		i64, err := m.ReadInt64()
		require.NoError(t, err)
		assert.Equal(t, int64(1<<40), i64)
		f32, err := m.ReadFloat32()
		require.NoError(t, err)
		assert.Equal(t, float32(1.5), f32)
		f64, err := m.ReadFloat64()
		require.NoError(t, err)
		assert.Equal(t, 2.25, f64)
		s, err := m.ReadString()
		require.NoError(t, err)
		assert.Equal(t, "hello", s)
		buf := make([]byte, 8)
		n, err := m.ReadBytes(buf)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []byte{1, 2, 3}, buf[:n])

		_, err = m.ReadBool()
		assert.ErrorIs(t, err, contracts.ErrUnexpectedEnd)
	})

	t.Run("generic object accessor", func(t *testing.T) {
		values := []any{true, int8(1), int16(2), Char('c'), int32(3), int64(4), float32(5.5), 6.5, "seven", []byte{8}}
		m := NewStreamMessage()
		for _, v := range values {
			require.NoError(t, m.WriteObject(v))
		}
		require.NoError(t, m.Reset())
		for _, want := range values {
			got, err := m.ReadObject()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("survives encode and decode", func(t *testing.T) {
		m := NewStreamMessage()
		require.NoError(t, m.WriteInt16(-3))
		require.NoError(t, m.WriteChar(Char('z')))
		require.NoError(t, m.WriteFloat32(0.1))
		require.NoError(t, m.WriteObject(nil))

		data, err := Encode(m)
		require.NoError(t, err)
		decoded, err := Decode(data)
		require.NoError(t, err)
		sm := decoded.(*StreamMessage)

		v, err := sm.ReadInt16()
		require.NoError(t, err)
		assert.Equal(t, int16(-3), v)
		c, err := sm.ReadChar()
		require.NoError(t, err)
		assert.Equal(t, Char('z'), c)
		f, err := sm.ReadFloat32()
		require.NoError(t, err)
		assert.Equal(t, float32(0.1), f)
		s, err := sm.ReadString()
		require.NoError(t, err)
		assert.Equal(t, "", s)
	})
}

func TestStreamMessageCoercion(t *testing.T) {
	m := NewStreamMessage()
	require.NoError(t, m.WriteString("42"))
	require.NoError(t, m.WriteInt8(5))
	require.NoError(t, m.WriteString("not a number"))
	require.NoError(t, m.WriteBool(true))
	require.NoError(t, m.Reset())

	t.Run("string parses into int64", func(t *testing.T) {
		v, err := m.ReadInt64()
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("byte widens to int32", func(t *testing.T) {
		v, err := m.ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, int32(5), v)
	})

	t.Run("failed parse does not advance", func(t *testing.T) {
		_, err := m.ReadInt32()
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
		s, err := m.ReadString()
		require.NoError(t, err)
		assert.Equal(t, "not a number", s)
	})

	t.Run("bool cannot become a number", func(t *testing.T) {
		_, err := m.ReadFloat64()
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
		s, err := m.ReadString()
		require.NoError(t, err)
		assert.Equal(t, "true", s)
	})
}

func TestStreamMessagePartialBytes(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7}

	newStream := func(t *testing.T) *StreamMessage {
		m := NewStreamMessage()
		require.NoError(t, m.WriteBytes(payload))
		require.NoError(t, m.WriteInt32(99))
		require.NoError(t, m.Reset())
		return m
	}

	t.Run("undersized buffer drains in chunks", func(t *testing.T) {
		m := newStream(t)
		buf := make([]byte, 3)
		var got []byte
		for {
			n, err := m.ReadBytes(buf)
			require.NoError(t, err)
			if n < 0 {
				break
			}
			got = append(got, buf[:n]...)
		}
		assert.Equal(t, payload, got)

		v, err := m.ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, int32(99), v)
	})

	t.Run("typed read mid-drain fails without moving", func(t *testing.T) {
		m := newStream(t)
		buf := make([]byte, 4)
		n, err := m.ReadBytes(buf)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		_, err = m.ReadInt32()
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
		_, err = m.ReadObject()
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)

		n, err = m.ReadBytes(buf)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []byte{5, 6, 7}, buf[:n])
	})

	t.Run("exact fit needs a closing call", func(t *testing.T) {
		m := NewStreamMessage()
		require.NoError(t, m.WriteBytes([]byte{9, 9}))
		require.NoError(t, m.WriteString("next"))
		require.NoError(t, m.Reset())

		buf := make([]byte, 2)
		n, err := m.ReadBytes(buf)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = m.ReadBytes(buf)
		require.NoError(t, err)
		assert.Equal(t, -1, n)

		s, err := m.ReadString()
		require.NoError(t, err)
		assert.Equal(t, "next", s)
	})

	t.Run("reading bytes from another type fails", func(t *testing.T) {
		m := NewStreamMessage()
		require.NoError(t, m.WriteString("x"))
		require.NoError(t, m.Reset())
		_, err := m.ReadBytes(make([]byte, 1))
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
	})
}

func TestStreamMessageState(t *testing.T) {
	t.Run("write-only until reset", func(t *testing.T) {
		m := NewStreamMessage()
		_, err := m.ReadString()
		assert.ErrorIs(t, err, contracts.ErrNotReadable)
	})

	t.Run("read-only after reset", func(t *testing.T) {
		m := NewStreamMessage()
		require.NoError(t, m.Reset())
		assert.ErrorIs(t, m.WriteString("x"), contracts.ErrNotWritable)
	})

	t.Run("clear body rewinds and reopens for writing", func(t *testing.T) {
		m := NewStreamMessage()
		require.NoError(t, m.WriteString("a"))
		require.NoError(t, m.Reset())
		_, err := m.ReadString()
		require.NoError(t, err)

		m.ClearBody()
		assert.Equal(t, WriteOnly, m.BodyState())
		require.NoError(t, m.WriteString("b"))
		require.NoError(t, m.Reset())
		s, err := m.ReadString()
		require.NoError(t, err)
		assert.Equal(t, "b", s)
	})

	t.Run("rejects unsupported types", func(t *testing.T) {
		m := NewStreamMessage()
		assert.ErrorIs(t, m.WriteObject(struct{}{}), contracts.ErrFormatMismatch)
		assert.ErrorIs(t, m.WriteObject(7), contracts.ErrFormatMismatch)
	})
}
