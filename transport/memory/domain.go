package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-jms/transport"
)

// Domain is a shared in-process data space
type Domain struct {
	mu      sync.Mutex
	topics  map[string]*topic
	handles atomic.Uint64
	arrival atomic.Uint64
	logger  *slog.Logger
}

// Option configures a Domain
type Option func(*Domain)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Domain) {
		d.logger = logger
	}
}

// NewDomain creates an empty data space
func NewDomain(opts ...Option) *Domain {
	d := &Domain{
		topics: make(map[string]*topic),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type historyEntry struct {
	sample  transport.Sample
	written time.Time
}

type topic struct {
	name    string
	readers map[*reader]struct{}
	history []historyEntry
	depth   int // zero until a TransientLocal writer reserves a bound
}

func (d *Domain) topicLocked(name string) *topic {
	t, ok := d.topics[name]
	if !ok {
		t = &topic{name: name, readers: make(map[*reader]struct{})}
		d.topics[name] = t
	}
	return t
}

func (d *Domain) nextHandle() transport.InstanceHandle {
	return transport.InstanceHandle(d.handles.Add(1))
}

// Deliver publishes s on the named topic. When durable is set the sample is also kept in the
// topic history for late-joining TransientLocal readers.
func (d *Domain) Deliver(topicName string, s transport.Sample, durable bool) error {
	if topicName == "" {
		return transport.ErrInvalidTopic
	}
	now := time.Now()

	d.mu.Lock()
	t := d.topicLocked(topicName)
	if durable {
		t.history = append(t.history, historyEntry{sample: s, written: now})
		depth := t.depth
		if depth == 0 {
			depth = transport.DefaultHistoryDepth
		}
		if over := len(t.history) - depth; over > 0 {
			t.history = append(t.history[:0:0], t.history[over:]...)
		}
	}
	readers := make([]*reader, 0, len(t.readers))
	for r := range t.readers {
		readers = append(readers, r)
	}
	d.mu.Unlock()

	for _, r := range readers {
		r.deliver(s, now)
	}
	return nil
}

func (d *Domain) addReader(topicName string, r *reader, replay bool) {
	d.mu.Lock()
	t := d.topicLocked(topicName)
	t.readers[r] = struct{}{}
	var history []historyEntry
	if replay {
		history = append(history, t.history...)
	}
	d.mu.Unlock()

	for _, h := range history {
		r.deliver(h.sample, h.written)
	}
}

// reserveHistory grows the history bound of a topic to at least depth
func (d *Domain) reserveHistory(topicName string, depth int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.topicLocked(topicName)
	if depth > t.depth {
		t.depth = depth
	}
}

func (d *Domain) removeReader(topicName string, r *reader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.topics[topicName]; ok {
		delete(t.readers, r)
	}
}

// Participant returns a new participant attached to the domain
func (d *Domain) Participant() *Participant {
	return &Participant{
		domain:  d,
		writers: make(map[*writer]struct{}),
		readers: make(map[*reader]struct{}),
	}
}

// Participant implements transport.Participant on a Domain
type Participant struct {
	domain *Domain

	mu      sync.Mutex
	writers map[*writer]struct{}
	readers map[*reader]struct{}
	closed  bool
}

var _ transport.Participant = (*Participant)(nil)

// CreateWriter implements transport.Participant
func (p *Participant) CreateWriter(_ context.Context, topicName string, qos transport.QoS) (transport.Writer, error) {
	if topicName == "" {
		return nil, transport.ErrInvalidTopic
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("create writer: %w", transport.ErrClosed)
	}
	w := &writer{
		participant: p,
		topic:       topicName,
		qos:         qos,
		instances:   make(map[transport.InstanceHandle]string),
	}
	p.writers[w] = struct{}{}
	if qos.Durability == transport.TransientLocal {
		p.domain.reserveHistory(topicName, qos.Depth())
	}
	return w, nil
}

// CreateReader implements transport.Participant
func (p *Participant) CreateReader(_ context.Context, topicName string, qos transport.QoS) (transport.Reader, error) {
	if topicName == "" {
		return nil, transport.ErrInvalidTopic
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("create reader: %w", transport.ErrClosed)
	}
	r := newReader(p, topicName, qos)
	p.readers[r] = struct{}{}
	p.mu.Unlock()

	p.domain.addReader(topicName, r, qos.Durability == transport.TransientLocal)
	p.domain.logger.Debug("reader created",
		"topic", topicName,
		"durability", qos.Durability.String(),
		"subscription", qos.SubscriptionName)
	return r, nil
}

// Close closes every writer and reader created by the participant
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	writers := make([]*writer, 0, len(p.writers))
	for w := range p.writers {
		writers = append(writers, w)
	}
	readers := make([]*reader, 0, len(p.readers))
	for r := range p.readers {
		readers = append(readers, r)
	}
	p.mu.Unlock()

	for _, w := range writers {
		w.Close()
	}
	for _, r := range readers {
		r.Close()
	}
	return nil
}

func (p *Participant) forgetWriter(w *writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.writers, w)
}

func (p *Participant) forgetReader(r *reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readers, r)
}
