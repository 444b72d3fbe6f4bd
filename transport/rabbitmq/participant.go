package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/glimte/mmate-jms/transport"
)

const (
	// DefaultExchange is the topic exchange topics are published on
	DefaultExchange = "mmate.jms"
	// DefaultPrefetch bounds the deliveries a reader holds without acking them
	DefaultPrefetch = 256
)

// Participant implements transport.Participant over RabbitMQ
type Participant struct {
	manager  *ConnectionManager
	pool     *ChannelPool
	exchange string
	prefetch int
	logger   *slog.Logger

	connOpts []ConnectionOption
	poolOpts []ChannelPoolOption

	mu      sync.Mutex
	readers map[*reader]struct{}
	writers map[*writer]struct{}
	closed  bool
}

var (
	_ transport.Participant         = (*Participant)(nil)
	_ transport.SubscriptionRemover = (*Participant)(nil)
)

// Option configures a Participant
type Option func(*Participant)

// WithLogger sets the logger of the participant and its connection manager
func WithLogger(logger *slog.Logger) Option {
	return func(p *Participant) {
		p.logger = logger
	}
}

// WithExchange overrides the topic exchange name
func WithExchange(name string) Option {
	return func(p *Participant) {
		p.exchange = name
	}
}

// WithPrefetch sets how many unacknowledged deliveries each reader may hold
func WithPrefetch(count int) Option {
	return func(p *Participant) {
		p.prefetch = count
	}
}

// WithConnectionOptions passes options to the connection manager
func WithConnectionOptions(opts ...ConnectionOption) Option {
	return func(p *Participant) {
		p.connOpts = append(p.connOpts, opts...)
	}
}

// WithChannelPoolOptions passes options to the channel pool
func WithChannelPoolOptions(opts ...ChannelPoolOption) Option {
	return func(p *Participant) {
		p.poolOpts = append(p.poolOpts, opts...)
	}
}

// NewParticipant connects to the broker at url and declares the topic exchange
func NewParticipant(ctx context.Context, url string, opts ...Option) (*Participant, error) {
	p := &Participant{
		exchange: DefaultExchange,
		prefetch: DefaultPrefetch,
		logger:   slog.Default(),
		readers:  make(map[*reader]struct{}),
		writers:  make(map[*writer]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.exchange == "" {
		return nil, fmt.Errorf("%w: exchange name cannot be empty", ErrInvalidConfiguration)
	}
	if p.prefetch <= 0 {
		return nil, fmt.Errorf("%w: prefetch must be positive", ErrInvalidConfiguration)
	}

	connOpts := append([]ConnectionOption{WithConnectionLogger(p.logger)}, p.connOpts...)
	p.manager = NewConnectionManager(url, connOpts...)
	if err := p.manager.Connect(ctx); err != nil {
		return nil, err
	}

	pool, err := NewChannelPool(p.manager, p.poolOpts...)
	if err != nil {
		p.manager.Close()
		return nil, err
	}
	p.pool = pool

	if err := p.declareExchange(ctx); err != nil {
		p.pool.Close()
		p.manager.Close()
		return nil, err
	}
	p.manager.AddStateListener(p)
	return p, nil
}

func (p *Participant) declareExchange(ctx context.Context) error {
	return p.pool.Execute(ctx, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
		}
		return nil
	})
}

// CreateWriter implements transport.Participant
func (p *Participant) CreateWriter(_ context.Context, topic string, qos transport.QoS) (transport.Writer, error) {
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrParticipantClosed
	}
	w := newWriter(p, topic, qos)
	p.writers[w] = struct{}{}
	return w, nil
}

// CreateReader implements transport.Participant
func (p *Participant) CreateReader(ctx context.Context, topic string, qos transport.QoS) (transport.Reader, error) {
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}
	r, err := newReader(p, topic, qos)
	if err != nil {
		return nil, err
	}
	if err := r.start(ctx); err != nil {
		r.Reader.Close()
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		r.Close()
		return nil, ErrParticipantClosed
	}
	p.readers[r] = struct{}{}
	p.mu.Unlock()
	return r, nil
}

// RemoveSubscription deletes the durable queue behind a subscription
func (p *Participant) RemoveSubscription(ctx context.Context, topic, name string) error {
	queue := durableQueueName(p.exchange, topic, name)
	return p.pool.Execute(ctx, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
			return &ConsumerError{Queue: queue, Topic: topic, Op: "delete queue", Err: err, Timestamp: time.Now()}
		}
		return nil
	})
}

// OnConnected restarts the consumers of every open reader after a reconnect
func (p *Participant) OnConnected() {
	p.mu.Lock()
	readers := make([]*reader, 0, len(p.readers))
	for r := range p.readers {
		readers = append(readers, r)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, r := range readers {
		if err := r.start(ctx); err != nil {
			p.logger.Error("failed to restart reader after reconnect", "topic", r.topic, "error", err)
		}
	}
}

// OnDisconnected implements ConnectionStateListener
func (p *Participant) OnDisconnected(err error) {
	p.logger.Warn("RabbitMQ participant disconnected", "error", err)
}

// Close closes every reader and writer, then the channel pool and the connection
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	readers := make([]*reader, 0, len(p.readers))
	for r := range p.readers {
		readers = append(readers, r)
	}
	writers := make([]*writer, 0, len(p.writers))
	for w := range p.writers {
		writers = append(writers, w)
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, r := range readers {
		g.Go(r.Close)
	}
	for _, w := range writers {
		g.Go(w.Close)
	}
	err := g.Wait()

	return errors.Join(err, p.pool.Close(), p.manager.Close())
}

func (p *Participant) forgetReader(r *reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readers, r)
}

func (p *Participant) forgetWriter(w *writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.writers, w)
}

func durableQueueName(exchange, topic, subscription string) string {
	return fmt.Sprintf("%s.%s.%s", exchange, topic, subscription)
}
