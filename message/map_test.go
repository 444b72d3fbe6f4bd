package message

import (
	"testing"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageCoercion(t *testing.T) {
	m := NewMapMessage()
	require.NoError(t, m.SetInt8("b", 12))
	require.NoError(t, m.SetInt16("s", 300))
	require.NoError(t, m.SetFloat32("f", 1.5))
	require.NoError(t, m.SetString("num", "77"))
	require.NoError(t, m.SetString("flag", "TRUE"))
	require.NoError(t, m.SetString("word", "abc"))
	require.NoError(t, m.SetChar("c", Char('k')))
	require.NoError(t, m.SetBytes("raw", []byte{4, 5}))

	t.Run("widening conversions", func(t *testing.T) {
		i16, err := m.GetInt16("b")
		require.NoError(t, err)
		assert.Equal(t, int16(12), i16)
		i32, err := m.GetInt32("s")
		require.NoError(t, err)
		assert.Equal(t, int32(300), i32)
		i64, err := m.GetInt64("b")
		require.NoError(t, err)
		assert.Equal(t, int64(12), i64)
		f64, err := m.GetFloat64("f")
		require.NoError(t, err)
		assert.Equal(t, 1.5, f64)
	})

	t.Run("narrowing conversions fail", func(t *testing.T) {
		_, err := m.GetInt8("s")
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
		_, err = m.GetFloat32("b")
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
		_, err = m.GetChar("s")
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
		_, err = m.GetBool("b")
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
	})

	t.Run("strings parse", func(t *testing.T) {
		n, err := m.GetInt32("num")
		require.NoError(t, err)
		assert.Equal(t, int32(77), n)
		b, err := m.GetBool("flag")
		require.NoError(t, err)
		assert.True(t, b)
		b, err = m.GetBool("word")
		require.NoError(t, err)
		assert.False(t, b)
		_, err = m.GetInt64("word")
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
	})

	t.Run("everything but bytes reads as string", func(t *testing.T) {
		s, err := m.GetString("s")
		require.NoError(t, err)
		assert.Equal(t, "300", s)
		s, err = m.GetString("c")
		require.NoError(t, err)
		assert.Equal(t, "k", s)
		_, err = m.GetString("raw")
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
	})

	t.Run("missing entries", func(t *testing.T) {
		s, err := m.GetString("missing")
		require.NoError(t, err)
		assert.Equal(t, "", s)
		b, err := m.GetBool("missing")
		require.NoError(t, err)
		assert.False(t, b)
		_, err = m.GetInt32("missing")
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)
		raw, err := m.GetBytes("missing")
		require.NoError(t, err)
		assert.Nil(t, raw)
	})
}

func TestMapMessageBytesAreCopied(t *testing.T) {
	m := NewMapMessage()
	src := []byte{1, 2, 3}
	require.NoError(t, m.SetBytes("raw", src))
	src[0] = 9

	got, err := m.GetBytes("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got[1] = 9
	again, err := m.GetBytes("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, again)
}

func TestMapMessageState(t *testing.T) {
	m := NewMapMessage()
	assert.ErrorIs(t, m.SetString("", "x"), contracts.ErrInvalidArgument)
	assert.ErrorIs(t, m.SetObject("bad", []int{1}), contracts.ErrFormatMismatch)
	require.NoError(t, m.SetInt32("a", 1))
	require.NoError(t, m.SetInt32("c", 3))
	require.NoError(t, m.SetInt32("b", 2))

	names, err := m.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	data, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	mm := decoded.(*MapMessage)

	assert.Equal(t, NonWritable, mm.BodyState())
	assert.ErrorIs(t, mm.SetInt32("d", 4), contracts.ErrNotWritable)
	ok, err := mm.ItemExists("b")
	require.NoError(t, err)
	assert.True(t, ok)

	mm.ClearBody()
	assert.Equal(t, Writable, mm.BodyState())
	ok, err = mm.ItemExists("b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProperties(t *testing.T) {
	t.Run("typed access with coercion", func(t *testing.T) {
		msg := NewTextMessage("x")
		p := msg.Properties()
		require.NoError(t, p.SetInt16("retries", 3))
		require.NoError(t, p.SetString("region", "eu"))
		require.NoError(t, p.SetBool("urgent", true))

		n, err := p.GetInt64("retries")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		s, err := p.GetString("urgent")
		require.NoError(t, err)
		assert.Equal(t, "true", s)
		_, err = p.GetInt32("region")
		assert.ErrorIs(t, err, contracts.ErrFormatMismatch)

		assert.True(t, p.Exists("region"))
		assert.False(t, p.Exists("zone"))
		assert.Equal(t, []string{"region", "retries", "urgent"}, p.Names())
	})

	t.Run("rejects bad names and values", func(t *testing.T) {
		p := NewTextMessage("").Properties()
		assert.ErrorIs(t, p.SetString("", "x"), contracts.ErrInvalidArgument)
		assert.ErrorIs(t, p.SetObject("raw", []byte{1}), contracts.ErrFormatMismatch)
		assert.ErrorIs(t, p.SetObject("n", 5), contracts.ErrFormatMismatch)
	})

	t.Run("read-only once received until cleared", func(t *testing.T) {
		msg := NewTextMessage("x")
		require.NoError(t, msg.Properties().SetInt32("n", 1))
		data, err := Encode(msg)
		require.NoError(t, err)
		decoded, err := Decode(data)
		require.NoError(t, err)

		env := decoded.Env()
		n, err := env.Properties().GetInt32("n")
		require.NoError(t, err)
		assert.Equal(t, int32(1), n)
		assert.ErrorIs(t, env.Properties().SetInt32("m", 2), contracts.ErrNotWritable)

		env.ClearProperties()
		assert.Equal(t, 0, env.Properties().Len())
		assert.NoError(t, env.Properties().SetInt32("m", 2))
	})
}
