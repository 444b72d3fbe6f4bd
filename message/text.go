package message

// TextMessage carries a string body
type TextMessage struct {
	*Envelope
	text string
}

// NewTextMessage creates a writable text message
func NewTextMessage(text string) *TextMessage {
	return &TextMessage{Envelope: newEnvelope(KindText), text: text}
}

// SetText replaces the body
func (m *TextMessage) SetText(text string) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	m.text = text
	return nil
}

// Text returns the body
func (m *TextMessage) Text() (string, error) {
	if err := m.checkReadable(); err != nil {
		return "", err
	}
	return m.text, nil
}

// ClearBody empties the body and makes it writable
func (m *TextMessage) ClearBody() {
	m.text = ""
	m.resetState()
}
