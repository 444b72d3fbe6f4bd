package contracts

import (
	"fmt"
	"strings"
)

// Destination is where a producer sends messages and a consumer receives them from.
// Only topics are supported; point-to-point queues are rejected by the session.
type Destination interface {
	// TopicName returns the transport topic backing the destination
	TopicName() string
	String() string
}

// Topic is a named publish/subscribe destination
type Topic struct {
	name string
}

// NewTopic creates a topic destination
func NewTopic(name string) (*Topic, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: topic name cannot be empty", ErrInvalidArgument)
	}
	return &Topic{name: name}, nil
}

// TopicName returns the topic name
func (t *Topic) TopicName() string {
	return t.name
}

func (t *Topic) String() string {
	return "topic://" + t.name
}

// TemporaryTopic is a topic whose lifetime is bound to the connection that created it
type TemporaryTopic struct {
	name  string
	owner string
}

// NewTemporaryTopic creates a temporary topic owned by the given connection id
func NewTemporaryTopic(name, owner string) *TemporaryTopic {
	return &TemporaryTopic{name: name, owner: owner}
}

// TopicName returns the topic name
func (t *TemporaryTopic) TopicName() string {
	return t.name
}

// Owner returns the id of the connection that created the topic
func (t *TemporaryTopic) Owner() string {
	return t.owner
}

func (t *TemporaryTopic) String() string {
	return "temp-topic://" + t.name
}

// ParseDestination turns a "topic://name" or "temp-topic://name" string back into a destination.
// A bare name is treated as a topic.
func ParseDestination(s string) (Destination, error) {
	switch {
	case strings.HasPrefix(s, "temp-topic://"):
		name := strings.TrimPrefix(s, "temp-topic://")
		if name == "" {
			return nil, fmt.Errorf("%w: empty temporary topic name", ErrInvalidDestination)
		}
		return &TemporaryTopic{name: name}, nil
	case strings.HasPrefix(s, "topic://"):
		return NewTopic(strings.TrimPrefix(s, "topic://"))
	case strings.Contains(s, "://"):
		return nil, fmt.Errorf("%w: unsupported destination %q", ErrInvalidDestination, s)
	default:
		return NewTopic(s)
	}
}
