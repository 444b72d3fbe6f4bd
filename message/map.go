package message

import (
	"fmt"
	"sort"

	"github.com/glimte/mmate-jms/contracts"
)

// MapMessage carries a set of named, typed entries
type MapMessage struct {
	*Envelope
	entries map[string]any
}

// NewMapMessage creates a writable, empty map message
func NewMapMessage() *MapMessage {
	return &MapMessage{Envelope: newEnvelope(KindMap), entries: make(map[string]any)}
}

func (m *MapMessage) set(name string, v any) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: map entry name cannot be empty", contracts.ErrInvalidArgument)
	}
	if err := checkValue(v, true); err != nil {
		return fmt.Errorf("map entry %q: %w", name, err)
	}
	if b, ok := v.([]byte); ok {
		v = cloneBytes(b)
	}
	m.entries[name] = v
	return nil
}

func (m *MapMessage) get(name string) (any, error) {
	if err := m.checkReadable(); err != nil {
		return nil, err
	}
	return m.entries[name], nil
}

func (m *MapMessage) SetBool(name string, v bool) error       { return m.set(name, v) }
func (m *MapMessage) SetInt8(name string, v int8) error       { return m.set(name, v) }
func (m *MapMessage) SetInt16(name string, v int16) error     { return m.set(name, v) }
func (m *MapMessage) SetChar(name string, v Char) error       { return m.set(name, v) }
func (m *MapMessage) SetInt32(name string, v int32) error     { return m.set(name, v) }
func (m *MapMessage) SetInt64(name string, v int64) error     { return m.set(name, v) }
func (m *MapMessage) SetFloat32(name string, v float32) error { return m.set(name, v) }
func (m *MapMessage) SetFloat64(name string, v float64) error { return m.set(name, v) }
func (m *MapMessage) SetString(name string, v string) error   { return m.set(name, v) }
func (m *MapMessage) SetBytes(name string, v []byte) error    { return m.set(name, v) }

// SetObject sets an entry from any supported value, including []byte
func (m *MapMessage) SetObject(name string, v any) error { return m.set(name, v) }

func (m *MapMessage) GetBool(name string) (bool, error) {
	v, err := m.get(name)
	if err != nil {
		return false, err
	}
	return toBool(v)
}

func (m *MapMessage) GetInt8(name string) (int8, error) {
	v, err := m.get(name)
	if err != nil {
		return 0, err
	}
	return toInt8(v)
}

func (m *MapMessage) GetInt16(name string) (int16, error) {
	v, err := m.get(name)
	if err != nil {
		return 0, err
	}
	return toInt16(v)
}

func (m *MapMessage) GetChar(name string) (Char, error) {
	v, err := m.get(name)
	if err != nil {
		return 0, err
	}
	return toChar(v)
}

func (m *MapMessage) GetInt32(name string) (int32, error) {
	v, err := m.get(name)
	if err != nil {
		return 0, err
	}
	return toInt32(v)
}

func (m *MapMessage) GetInt64(name string) (int64, error) {
	v, err := m.get(name)
	if err != nil {
		return 0, err
	}
	return toInt64(v)
}

func (m *MapMessage) GetFloat32(name string) (float32, error) {
	v, err := m.get(name)
	if err != nil {
		return 0, err
	}
	return toFloat32(v)
}

func (m *MapMessage) GetFloat64(name string) (float64, error) {
	v, err := m.get(name)
	if err != nil {
		return 0, err
	}
	return toFloat64(v)
}

func (m *MapMessage) GetString(name string) (string, error) {
	v, err := m.get(name)
	if err != nil {
		return "", err
	}
	return toString(v)
}

func (m *MapMessage) GetBytes(name string) ([]byte, error) {
	v, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return toBytes(v)
}

// GetObject returns the raw entry value, or nil when unset
func (m *MapMessage) GetObject(name string) (any, error) {
	v, err := m.get(name)
	if err != nil {
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		return cloneBytes(b), nil
	}
	return v, nil
}

// ItemExists reports whether an entry is set
func (m *MapMessage) ItemExists(name string) (bool, error) {
	if err := m.checkReadable(); err != nil {
		return false, err
	}
	_, ok := m.entries[name]
	return ok, nil
}

// Names returns the entry names in lexical order
func (m *MapMessage) Names() ([]string, error) {
	if err := m.checkReadable(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ClearBody removes every entry and makes the body writable
func (m *MapMessage) ClearBody() {
	m.entries = make(map[string]any)
	m.resetState()
}
