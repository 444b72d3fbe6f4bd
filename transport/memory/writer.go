package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/glimte/mmate-jms/transport"
)

type writer struct {
	participant *Participant
	topic       string
	qos         transport.QoS

	mu        sync.Mutex
	instances map[transport.InstanceHandle]string
	closed    bool
}

func (w *writer) Write(ctx context.Context, s transport.Sample) (transport.InstanceHandle, error) {
	if err := ctx.Err(); err != nil {
		return transport.NilHandle, err
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return transport.NilHandle, fmt.Errorf("write to %s: %w", w.topic, transport.ErrClosed)
	}
	h := w.participant.domain.nextHandle()
	w.instances[h] = s.Key
	w.mu.Unlock()

	s.Data = append([]byte(nil), s.Data...)
	if err := w.participant.domain.Deliver(w.topic, s, w.qos.Durability == transport.TransientLocal); err != nil {
		w.Unregister(h)
		return transport.NilHandle, err
	}
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

// registered returns the number of instances not yet unregistered
func (w *writer) registered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.instances)
}

func (w *writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.instances = make(map[transport.InstanceHandle]string)
	w.mu.Unlock()

	w.participant.forgetWriter(w)
	return nil
}
