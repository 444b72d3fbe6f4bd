package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/glimte/mmate-jms/transport"
	"github.com/glimte/mmate-jms/transport/memory"
)

const (
	// DefaultSubjectPrefix is prepended to every topic name
	DefaultSubjectPrefix = "mmate.jms"

	headerKey      = "Mmate-Key"
	headerPriority = "Mmate-Priority"
)

var ErrParticipantClosed = errors.New("nats: participant is closed")

// Participant implements transport.Participant over a NATS connection
type Participant struct {
	nc     *nats.Conn
	prefix string
	name   string
	wait   time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	readers map[*reader]struct{}
	closed  bool
}

var _ transport.Participant = (*Participant)(nil)

// Option configures a Participant
type Option func(*Participant)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Participant) {
		p.logger = logger
	}
}

// WithSubjectPrefix overrides the subject prefix
func WithSubjectPrefix(prefix string) Option {
	return func(p *Participant) {
		p.prefix = prefix
	}
}

// WithName sets the connection name reported to the server
func WithName(name string) Option {
	return func(p *Participant) {
		p.name = name
	}
}

// WithReconnectWait sets the delay between reconnection attempts
func WithReconnectWait(d time.Duration) Option {
	return func(p *Participant) {
		p.wait = d
	}
}

// NewParticipant connects to the NATS server at url
func NewParticipant(url string, opts ...Option) (*Participant, error) {
	p := &Participant{
		prefix:  DefaultSubjectPrefix,
		name:    "mmate-jms",
		wait:    2 * time.Second,
		logger:  slog.Default(),
		readers: make(map[*reader]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	nc, err := nats.Connect(url,
		nats.Name(p.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(p.wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			p.logger.Info("reconnected to NATS", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	p.nc = nc
	return p, nil
}

func (p *Participant) subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
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
	return &writer{
		nc:        p.nc,
		subject:   p.subject(topic),
		reliable:  qos.Reliable,
		instances: make(map[transport.InstanceHandle]string),
	}, nil
}

// CreateReader implements transport.Participant
func (p *Participant) CreateReader(ctx context.Context, topic string, qos transport.QoS) (transport.Reader, error) {
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrParticipantClosed
	}

	domain := memory.NewDomain(memory.WithLogger(p.logger))
	cache, err := domain.Participant().CreateReader(ctx, topic, qos)
	if err != nil {
		return nil, err
	}
	r := &reader{Reader: cache, participant: p, topic: topic}

	handler := func(m *nats.Msg) {
		prio, err := strconv.Atoi(m.Header.Get(headerPriority))
		if err != nil {
			prio = 0
		}
		s := transport.Sample{Key: m.Header.Get(headerKey), Priority: prio, Data: m.Data}
		if err := domain.Deliver(topic, s, false); err != nil {
			p.logger.Error("failed to cache NATS message", "subject", m.Subject, "error", err)
		}
	}

	subject := p.subject(topic)
	if qos.SubscriptionName != "" {
		r.sub, err = p.nc.QueueSubscribe(subject, qos.SubscriptionName, handler)
	} else {
		r.sub, err = p.nc.Subscribe(subject, handler)
	}
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("nats: subscribe %s: %w", subject, err)
	}
	p.readers[r] = struct{}{}
	return r, nil
}

// Close closes every reader and drains the connection
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
	p.mu.Unlock()

	var errs []error
	for _, r := range readers {
		errs = append(errs, r.Close())
	}
	if err := p.nc.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, err)
	}
	p.nc.Close()
	return errors.Join(errs...)
}

func (p *Participant) forgetReader(r *reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readers, r)
}

type writer struct {
	nc       *nats.Conn
	subject  string
	reliable bool
	handles  uint64

	mu        sync.Mutex
	instances map[transport.InstanceHandle]string
	closed    bool
}

func (w *writer) Write(ctx context.Context, s transport.Sample) (transport.InstanceHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return transport.NilHandle, fmt.Errorf("write to %s: %w", w.subject, transport.ErrClosed)
	}

	msg := nats.NewMsg(w.subject)
	msg.Header.Set(headerKey, s.Key)
	msg.Header.Set(headerPriority, strconv.Itoa(s.Priority))
	msg.Data = s.Data
	if err := w.nc.PublishMsg(msg); err != nil {
		return transport.NilHandle, fmt.Errorf("nats: publish %s: %w", w.subject, err)
	}
	if w.reliable {
		if err := w.nc.FlushWithContext(ctx); err != nil {
			return transport.NilHandle, fmt.Errorf("nats: flush %s: %w", w.subject, err)
		}
	}

	w.handles++
	h := transport.InstanceHandle(w.handles)
	w.instances[h] = s.Key
	return h, nil
}

func (w *writer) Unregister(h transport.InstanceHandle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.instances[h]; !ok {
		return fmt.Errorf("unregister %d on %s: %w", h, w.subject, transport.ErrUnknownInstance)
	}
	delete(w.instances, h)
	return nil
}

func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.instances = nil
	return nil
}

type reader struct {
	transport.Reader // memory cache

	participant *Participant
	topic       string
	sub         *nats.Subscription
	once        sync.Once
}

func (r *reader) Close() error {
	var err error
	r.once.Do(func() {
		if uerr := r.sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("nats: unsubscribe %s: %w", r.topic, uerr)
		}
		r.participant.forgetReader(r)
		if cerr := r.Reader.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
