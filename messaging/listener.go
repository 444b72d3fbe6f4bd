package messaging

import (
	"context"

	"github.com/glimte/mmate-jms/message"
)

// MessageListener receives messages pushed by a consumer. Errors are logged; they do not
// stop delivery.
type MessageListener interface {
	OnMessage(ctx context.Context, msg message.Message) error
}

// MessageListenerFunc is a function adapter for MessageListener
type MessageListenerFunc func(ctx context.Context, msg message.Message) error

// OnMessage implements MessageListener
func (f MessageListenerFunc) OnMessage(ctx context.Context, msg message.Message) error {
	return f(ctx, msg)
}
