package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-jms/transport"
	"github.com/glimte/mmate-jms/transport/memory"
)

// pendingAck is a broker delivery held in the cache and not yet taken
type pendingAck struct {
	acker amqp.Acknowledger
	tag   uint64
}

// reader feeds a queue consumer into a private memory cache. A delivery is acked on the
// broker when its sample is taken from the cache, so the broker keeps every message the
// consuming session has not acknowledged.
type reader struct {
	transport.Reader // memory cache

	participant *Participant
	topic       string
	qos         transport.QoS
	domain      *memory.Domain

	mu      sync.Mutex
	queue   string
	channel *amqp.Channel
	closed  bool

	ackMu   sync.Mutex
	pending map[string]pendingAck // by message id
}

func newReader(p *Participant, topic string, qos transport.QoS) (*reader, error) {
	domain := memory.NewDomain(memory.WithLogger(p.logger))
	cache, err := domain.Participant().CreateReader(context.Background(), topic, qos)
	if err != nil {
		return nil, err
	}
	return &reader{
		Reader:      cache,
		participant: p,
		topic:       topic,
		qos:         qos,
		domain:      domain,
		pending:     make(map[string]pendingAck),
	}, nil
}

// declareQueue declares and binds the queue for this reader. Durable subscriptions get a named
// durable queue so that messages published while the process is down are kept by the broker.
func (r *reader) declareQueue(ch *amqp.Channel) (string, error) {
	p := r.participant
	var (
		q   amqp.Queue
		err error
	)
	if r.qos.SubscriptionName != "" {
		q, err = ch.QueueDeclare(durableQueueName(p.exchange, r.topic, r.qos.SubscriptionName), true, false, false, false, nil)
	} else {
		q, err = ch.QueueDeclare("", false, true, true, false, nil)
	}
	if err != nil {
		return "", err
	}
	if err := ch.QueueBind(q.Name, r.topic, p.exchange, false, nil); err != nil {
		return "", err
	}
	return q.Name, nil
}

// start opens a dedicated channel and consumes the reader's queue into the cache
func (r *reader) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := r.participant.manager.GetConnection()
	if err != nil {
		return &ConsumerError{Topic: r.topic, Op: "open channel", Err: err, Timestamp: time.Now()}
	}
	ch, err := conn.Channel()
	if err != nil {
		return &ConsumerError{Topic: r.topic, Op: "open channel", Err: fmt.Errorf("%w: %v", ErrChannelCreationFailed, err), Timestamp: time.Now()}
	}
	queue, err := r.declareQueue(ch)
	if err != nil {
		ch.Close()
		return &ConsumerError{Queue: r.queue, Topic: r.topic, Op: "declare queue", Err: err, Timestamp: time.Now()}
	}
	if err := ch.Qos(r.participant.prefetch, 0, false); err != nil {
		ch.Close()
		return &ConsumerError{Queue: queue, Topic: r.topic, Op: "set prefetch", Err: err, Timestamp: time.Now()}
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return &ConsumerError{Queue: queue, Topic: r.topic, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	if r.channel != nil {
		r.channel.Close()
	}
	r.queue = queue
	r.channel = ch
	go r.consume(deliveries)
	return nil
}

func (r *reader) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		r.handle(d)
	}
	r.participant.logger.Debug("reader consumer stopped", "topic", r.topic)
}

func (r *reader) handle(d amqp.Delivery) {
	r.ackMu.Lock()
	prev, cached := r.pending[d.MessageId]
	duplicate := cached && prev.acker == d.Acknowledger
	if !duplicate {
		r.pending[d.MessageId] = pendingAck{acker: d.Acknowledger, tag: d.DeliveryTag}
	}
	r.ackMu.Unlock()

	switch {
	case duplicate:
		if err := d.Ack(false); err != nil {
			r.participant.logger.Warn("failed to ack duplicate delivery", "topic", r.topic, "error", err)
		}
		return
	case cached:
		// requeued after a reconnect, the cached sample settles the new delivery
		return
	}

	s := transport.Sample{Key: d.MessageId, Priority: int(d.Priority), Data: d.Body}
	if err := r.domain.Deliver(r.topic, s, false); err != nil {
		r.participant.logger.Error("failed to cache delivery", "topic", r.topic, "error", err)
		r.ackMu.Lock()
		delete(r.pending, d.MessageId)
		r.ackMu.Unlock()
		d.Nack(false, true)
	}
}

// TakeInstance removes a sample from the cache and acks its delivery on the broker
func (r *reader) TakeInstance(h transport.InstanceHandle) (transport.Sample, transport.SampleInfo, bool) {
	sample, info, ok := r.Reader.TakeInstance(h)
	if !ok {
		return sample, info, false
	}

	r.ackMu.Lock()
	p, found := r.pending[sample.Key]
	delete(r.pending, sample.Key)
	r.ackMu.Unlock()

	if found {
		if err := p.acker.Ack(p.tag, false); err != nil {
			// the broker redelivers it
			r.participant.logger.Warn("failed to ack delivery", "topic", r.topic, "key", sample.Key, "error", err)
		}
	}
	return sample, info, true
}

// Close stops the consumer and closes the cache
func (r *reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ch := r.channel
	r.channel = nil
	r.mu.Unlock()

	var err error
	if ch != nil && !ch.IsClosed() {
		err = ch.Close()
	}
	r.participant.forgetReader(r)
	if cerr := r.Reader.Close(); err == nil {
		err = cerr
	}
	return err
}
