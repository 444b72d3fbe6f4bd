package messaging

import (
	"log/slog"
	"time"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/glimte/mmate-jms/internal/durable"
	"go.opentelemetry.io/otel/trace"
)

// ConnectionOption configures a Connection
type ConnectionOption func(*Connection)

// WithLogger sets the logger used by the connection and everything it creates
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithClientID sets the client id. Durable subscriptions require one.
func WithClientID(clientID string) ConnectionOption {
	return func(c *Connection) {
		c.clientID = clientID
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) ConnectionOption {
	return func(c *Connection) {
		c.metrics = m
	}
}

// WithTracerProvider sets the provider of the tracer used for send, deliver, acknowledge and
// recover spans
func WithTracerProvider(tp trace.TracerProvider) ConnectionOption {
	return func(c *Connection) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithDurableStore sets the store of durable acknowledgments. The caller keeps ownership of
// the store and closes it after the connection.
func WithDurableStore(store durable.Store) ConnectionOption {
	return func(c *Connection) {
		c.store = store
	}
}

// WithExecutorQueueSize sets the task queue capacity of each session delivery worker
func WithExecutorQueueSize(n int) ConnectionOption {
	return func(c *Connection) {
		c.queueSize = n
	}
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	noLocal bool
}

// WithNoLocal makes the consumer skip messages published by its own connection
func WithNoLocal(noLocal bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.noLocal = noLocal
	}
}

// SendOption overrides the producer defaults for one send
type SendOption func(*sendOptions)

type sendOptions struct {
	mode     contracts.DeliveryMode
	priority int
	ttl      time.Duration
}

// WithDeliveryMode sets the delivery mode of one send
func WithDeliveryMode(mode contracts.DeliveryMode) SendOption {
	return func(o *sendOptions) {
		o.mode = mode
	}
}

// WithPriority sets the priority of one send
func WithPriority(priority int) SendOption {
	return func(o *sendOptions) {
		o.priority = priority
	}
}

// WithTimeToLive sets the time to live of one send. Zero means the message never expires.
func WithTimeToLive(ttl time.Duration) SendOption {
	return func(o *sendOptions) {
		o.ttl = ttl
	}
}

func (o sendOptions) validate() error {
	if err := o.mode.Validate(); err != nil {
		return err
	}
	if err := contracts.ValidatePriority(o.priority); err != nil {
		return err
	}
	return contracts.ValidateTimeToLive(o.ttl)
}
