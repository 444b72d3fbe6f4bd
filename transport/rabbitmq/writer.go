package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-jms/transport"
)

type writer struct {
	participant *Participant
	topic       string
	qos         transport.QoS

	handles atomic.Uint64

	mu        sync.Mutex
	instances map[transport.InstanceHandle]string
	closed    bool
}

func newWriter(p *Participant, topic string, qos transport.QoS) *writer {
	return &writer{
		participant: p,
		topic:       topic,
		qos:         qos,
		instances:   make(map[transport.InstanceHandle]string),
	}
}

func (w *writer) deliveryMode() uint8 {
	if w.qos.Durability == transport.TransientLocal {
		return amqp.Persistent
	}
	return amqp.Transient
}

func (w *writer) Write(ctx context.Context, s transport.Sample) (transport.InstanceHandle, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return transport.NilHandle, fmt.Errorf("write to %s: %w", w.topic, transport.ErrClosed)
	}
	w.mu.Unlock()

	p := w.participant
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: w.deliveryMode(),
		Priority:     uint8(max(s.Priority, 0)),
		MessageId:    s.Key,
		Timestamp:    time.Now(),
		Body:         s.Data,
	}
	err := p.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, p.exchange, w.topic, false, false, msg)
	})
	if err != nil {
		return transport.NilHandle, &PublishError{
			Exchange:   p.exchange,
			RoutingKey: w.topic,
			Key:        s.Key,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	h := transport.InstanceHandle(w.handles.Add(1))
	w.mu.Lock()
	w.instances[h] = s.Key
	w.mu.Unlock()
	return h, nil
}

func (w *writer) Unregister(h transport.InstanceHandle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.instances[h]; !ok {
		return fmt.Errorf("unregister %d on %s: %w", h, w.topic, transport.ErrUnknownInstance)
	}
	delete(w.instances, h)
	return nil
}

func (w *writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.instances = nil
	w.mu.Unlock()

	w.participant.forgetWriter(w)
	return nil
}
