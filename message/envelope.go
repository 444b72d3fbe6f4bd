package message

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/mmate-jms/contracts"
)

// Header holds the standard message header fields
type Header struct {
	MessageID     string
	Timestamp     int64 // milliseconds since the Unix epoch
	CorrelationID string
	ReplyTo       contracts.Destination
	Destination   contracts.Destination
	DeliveryMode  contracts.DeliveryMode
	Redelivered   bool
	Type          string
	Expiration    int64 // milliseconds since the Unix epoch, 0 means never
	Priority      int
}

// Expired reports whether the message expiration has passed at now
func (h *Header) Expired(now time.Time) bool {
	return h.Expiration > 0 && now.UnixMilli() > h.Expiration
}

// Acknowledger acknowledges every message consumed by a session
type Acknowledger interface {
	Acknowledge(ctx context.Context) error
}

// Message is implemented by every body kind
type Message interface {
	Env() *Envelope
	Kind() Kind
	ClearBody()
}

// Envelope carries the header, properties and body state shared by every body kind.
// It is owned by whichever component holds the reference and is not safe for concurrent use.
type Envelope struct {
	Header
	props *Properties
	kind  Kind
	state BodyState
	acker Acknowledger

	origin string // id of the connection that sent the message
}

func newEnvelope(k Kind) *Envelope {
	return &Envelope{
		Header: Header{
			DeliveryMode: contracts.DefaultDeliveryMode,
			Priority:     contracts.DefaultPriority,
		},
		props: newProperties(),
		kind:  k,
		state: freshState(k),
	}
}

// Env returns e itself so that body kinds embedding it satisfy Message
func (e *Envelope) Env() *Envelope {
	return e
}

// Kind returns the body kind
func (e *Envelope) Kind() Kind {
	return e.kind
}

// BodyState returns the current body state
func (e *Envelope) BodyState() BodyState {
	return e.state
}

// Properties returns the property bag
func (e *Envelope) Properties() *Properties {
	return e.props
}

// ClearProperties removes every property and makes the bag writable again
func (e *Envelope) ClearProperties() {
	e.props.clear()
}

// SetAcknowledger installs the session acknowledger for a received message
func (e *Envelope) SetAcknowledger(a Acknowledger) {
	e.acker = a
}

// Origin returns the id of the connection that sent the message, empty for unsent messages
func (e *Envelope) Origin() string {
	return e.origin
}

// SetOrigin records the sending connection. Producers call it while stamping headers.
func (e *Envelope) SetOrigin(connectionID string) {
	e.origin = connectionID
}

// Acknowledge acknowledges all messages consumed by the session that delivered this one.
// It is a no-op for messages that were not received from a session.
func (e *Envelope) Acknowledge(ctx context.Context) error {
	if e.acker == nil {
		return nil
	}
	return e.acker.Acknowledge(ctx)
}

// Unseal makes a received body writable again and keeps its content. A read-only bytes or
// stream body becomes write-only and new writes are appended; call Reset to read it again.
// A sealed map, text or object body becomes writable.
func (e *Envelope) Unseal() error {
	return e.apply(MakeWritable)
}

func (e *Envelope) checkReadable() error {
	_, err := Transition(e.state, CheckReadable)
	return err
}

func (e *Envelope) checkWritable() error {
	_, err := Transition(e.state, CheckWritable)
	return err
}

func (e *Envelope) apply(op StateOp) error {
	next, err := Transition(e.state, op)
	if err != nil {
		return err
	}
	e.state = next
	return nil
}

func (e *Envelope) resetState() {
	e.state = freshState(e.kind)
}

// markReceived seals a rehydrated message the way a consumer hands it out
func (e *Envelope) markReceived() {
	e.state = receivedState(e.kind)
	e.props.readOnly = true
}

// New creates an empty message of the given kind
func New(k Kind) (Message, error) {
	switch k {
	case KindBytes:
		return NewBytesMessage(), nil
	case KindMap:
		return NewMapMessage(), nil
	case KindStream:
		return NewStreamMessage(), nil
	case KindText:
		return NewTextMessage(""), nil
	case KindObject:
		return NewObjectMessage(), nil
	}
	return nil, fmt.Errorf("%w: unknown body kind %v", contracts.ErrInvalidArgument, k)
}
