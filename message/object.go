package message

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/glimte/mmate-jms/contracts"
)

// ObjectMessage carries an arbitrary value serialized when it is set
type ObjectMessage struct {
	*Envelope
	data []byte
}

// NewObjectMessage creates a writable, empty object message
func NewObjectMessage() *ObjectMessage {
	return &ObjectMessage{Envelope: newEnvelope(KindObject)}
}

// SetObject serializes v into the body. Later changes to v are not reflected.
func (m *ObjectMessage) SetObject(v any) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if v == nil {
		m.data = nil
		return nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: cannot serialize %T: %w", contracts.ErrFormatMismatch, v, err)
	}
	m.data = data
	return nil
}

// Object deserializes the body into out. An empty body leaves out untouched.
func (m *ObjectMessage) Object(out any) error {
	if err := m.checkReadable(); err != nil {
		return err
	}
	if m.data == nil {
		return nil
	}
	if err := sonic.Unmarshal(m.data, out); err != nil {
		return fmt.Errorf("%w: cannot deserialize into %T: %w", contracts.ErrFormatMismatch, out, err)
	}
	return nil
}

// ObjectBytes returns the serialized body
func (m *ObjectMessage) ObjectBytes() ([]byte, error) {
	if err := m.checkReadable(); err != nil {
		return nil, err
	}
	return cloneBytes(m.data), nil
}

// ClearBody empties the body and makes it writable
func (m *ObjectMessage) ClearBody() {
	m.data = nil
	m.resetState()
}
