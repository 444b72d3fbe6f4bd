// Package durable records which messages each durable subscription has acknowledged, so that a
// durable consumer never delivers the same message twice across restarts.
package durable

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrStoreClosed         = errors.New("durable: store is closed")
	ErrInvalidSubscription = errors.New("durable: invalid subscription")
)

// Subscription identifies a durable subscription
type Subscription struct {
	ClientID string
	Name     string
}

func (s Subscription) String() string {
	return s.ClientID + "/" + s.Name
}

// Validate checks that both parts of the identity are set
func (s Subscription) Validate() error {
	if s.ClientID == "" || s.Name == "" {
		return fmt.Errorf("%w: %q needs a client id and a name", ErrInvalidSubscription, s.String())
	}
	return nil
}

// Store persists durable subscriptions and their acknowledgments
type Store interface {
	// SaveTopic records the topic sub is subscribed to, replacing an earlier one
	SaveTopic(ctx context.Context, sub Subscription, topic string) error
	// Topic returns the topic recorded for sub, or "" when sub is unknown
	Topic(ctx context.Context, sub Subscription) (string, error)
	// IsAcknowledged reports whether messageID was acknowledged on sub
	IsAcknowledged(ctx context.Context, sub Subscription, messageID string) (bool, error)
	// MarkAcknowledged records that messageID was acknowledged on sub
	MarkAcknowledged(ctx context.Context, sub Subscription, messageID string) error
	// ResetAcknowledgments removes every acknowledgment of sub and keeps its topic
	ResetAcknowledgments(ctx context.Context, sub Subscription) error
	// Forget removes sub with its topic and every acknowledgment
	Forget(ctx context.Context, sub Subscription) error
	Close() error
}
