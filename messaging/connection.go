package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/glimte/mmate-jms/internal/durable"
	"github.com/glimte/mmate-jms/transport"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/glimte/mmate-jms/messaging"

// Connection is a client's link to the data space. It owns the delivery gate shared by all of
// its sessions and starts in the stopped state.
type Connection struct {
	id          string
	participant transport.Participant
	gate        *DeliveryGate
	store       durable.Store
	ownsStore   bool
	logger      *slog.Logger
	metrics     Metrics
	tracer      trace.Tracer
	queueSize   int

	mu         sync.Mutex
	clientID   string
	used       bool
	closed     bool
	sessions   map[*Session]struct{}
	active     map[string]struct{}
	tempTopics map[string]*contracts.TemporaryTopic
}

// NewConnection creates a stopped connection on participant. The caller keeps ownership of
// the participant.
func NewConnection(participant transport.Participant, opts ...ConnectionOption) *Connection {
	c := &Connection{
		id:          uuid.NewString(),
		participant: participant,
		gate:        NewDeliveryGate(),
		logger:      slog.Default(),
		metrics:     nopMetrics{},
		tracer:      otel.Tracer(tracerName),
		queueSize:   DefaultExecutorQueueSize,
		sessions:    make(map[*Session]struct{}),
		active:      make(map[string]struct{}),
		tempTopics:  make(map[string]*contracts.TemporaryTopic),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store = durable.NewMemoryStore()
		c.ownsStore = true
	}
	c.logger = c.logger.With("connection", c.id)
	return c
}

// ID returns the unique id of the connection. Producers stamp it on every message they send.
func (c *Connection) ID() string {
	return c.id
}

// ClientID returns the client id, empty if none was set
func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SetClientID sets the client id. It is only allowed before the connection is first used.
func (c *Connection) SetClientID(clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("%w: client id cannot be empty", contracts.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return contracts.Closed("set client id", "connection")
	}
	if c.used {
		return contracts.NewOperationError("set client id", "connection",
			fmt.Errorf("%w: client id can only be set before the connection is used", contracts.ErrIllegalState))
	}
	c.clientID = clientID
	return nil
}

// Start starts or resumes delivery of incoming messages
func (c *Connection) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return contracts.Closed("start", "connection")
	}
	c.used = true
	c.mu.Unlock()

	c.gate.Start()
	c.logger.Debug("connection started")
	return nil
}

// Stop pauses delivery and waits until no delivery is in flight. It cannot be called from a
// message listener. A listener is recognised by the context it was handed; a listener that
// calls Stop with another context waits for itself.
func (c *Connection) Stop(ctx context.Context) error {
	if deliveringSession(ctx) != nil {
		return contracts.NewOperationError("stop", "connection",
			fmt.Errorf("%w: a message listener cannot stop its connection", contracts.ErrIllegalState))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return contracts.Closed("stop", "connection")
	}
	c.used = true
	c.mu.Unlock()

	if err := c.gate.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop delivery: %w", err)
	}
	c.logger.Debug("connection stopped")
	return nil
}

// CreateSession creates a session. Transacted sessions report contracts.SessionTransacted as
// their acknowledge mode and ignore ackMode.
func (c *Connection) CreateSession(transacted bool, ackMode contracts.AckMode) (*Session, error) {
	if transacted {
		ackMode = contracts.SessionTransacted
	} else if ackMode < contracts.AutoAcknowledge || ackMode > contracts.DupsOKAcknowledge {
		return nil, fmt.Errorf("%w: acknowledge mode %v", contracts.ErrInvalidArgument, ackMode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, contracts.Closed("create session", "connection")
	}
	c.used = true

	s := newSession(c, transacted, ackMode)
	c.sessions[s] = struct{}{}
	return s, nil
}

// Close stops delivery, closes every session and releases the connection. It is idempotent
// and cannot be called from a message listener, which must pass the context it was handed
// for the call to be rejected.
func (c *Connection) Close(ctx context.Context) error {
	if deliveringSession(ctx) != nil {
		return contracts.NewOperationError("close", "connection",
			fmt.Errorf("%w: a message listener cannot close its connection", contracts.ErrIllegalState))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var errs []error
	if err := c.gate.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop delivery: %w", err))
	}

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(s.close)
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	c.gate.Close()

	if c.ownsStore {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close durable store: %w", err))
		}
	}

	c.logger.Debug("connection closed", "sessions", len(sessions))
	return errors.Join(errs...)
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) forgetSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}

// createTemporaryTopic creates a topic only consumers of this connection may subscribe to
func (c *Connection) createTemporaryTopic() (*contracts.TemporaryTopic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, contracts.Closed("create temporary topic", "connection")
	}
	t := contracts.NewTemporaryTopic("temp."+uuid.NewString(), c.id)
	c.tempTopics[t.TopicName()] = t
	return t, nil
}

// checkConsumable rejects temporary topics created by another connection
func (c *Connection) checkConsumable(dest contracts.Destination) error {
	t, ok := dest.(*contracts.TemporaryTopic)
	if !ok {
		return nil
	}
	if t.Owner() != c.id {
		return fmt.Errorf("%w: temporary topic %s belongs to another connection", contracts.ErrInvalidDestination, t)
	}
	return nil
}

// registerDurable marks the subscription name active
func (c *Connection) registerDurable(name string) (durable.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := durable.Subscription{ClientID: c.clientID, Name: name}
	if c.clientID == "" {
		return sub, fmt.Errorf("%w: durable subscription %q needs a client id", contracts.ErrIllegalState, name)
	}
	if _, ok := c.active[name]; ok {
		return sub, fmt.Errorf("%w: durable subscription %q is already active", contracts.ErrIllegalState, name)
	}
	c.used = true
	c.active[name] = struct{}{}
	return sub, nil
}

// bindDurable records the topic of an active subscription in the store. A subscription
// that moves to another topic starts over: its acknowledgments are reset and the transport
// state kept for the old topic is removed.
func (c *Connection) bindDurable(ctx context.Context, sub durable.Subscription, topic string) error {
	prev, err := c.store.Topic(ctx, sub)
	if err != nil {
		return fmt.Errorf("failed to look up durable subscription %s: %w", sub, err)
	}
	if prev != "" && prev != topic {
		if err := c.store.ResetAcknowledgments(ctx, sub); err != nil {
			return fmt.Errorf("failed to reset durable subscription %s: %w", sub, err)
		}
		if err := c.removeSubscription(ctx, prev, sub); err != nil {
			c.logger.Warn("failed to remove subscription from previous topic",
				"subscription", sub.String(), "topic", prev, "error", err)
		}
	}
	if err := c.store.SaveTopic(ctx, sub, topic); err != nil {
		return fmt.Errorf("failed to save durable subscription %s: %w", sub, err)
	}
	return nil
}

func (c *Connection) removeSubscription(ctx context.Context, topic string, sub durable.Subscription) error {
	remover, ok := c.participant.(transport.SubscriptionRemover)
	if !ok {
		return nil
	}
	return remover.RemoveSubscription(ctx, topic, subscriptionName(sub))
}

func (c *Connection) releaseDurable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, name)
}

func (c *Connection) unsubscribe(ctx context.Context, name string) error {
	c.mu.Lock()
	if _, ok := c.active[name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: durable subscription %q has an active subscriber", contracts.ErrIllegalState, name)
	}
	sub := durable.Subscription{ClientID: c.clientID, Name: name}
	c.mu.Unlock()

	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrIllegalState, err)
	}

	topic, err := c.store.Topic(ctx, sub)
	if err != nil {
		return fmt.Errorf("failed to look up durable subscription %s: %w", sub, err)
	}

	var errs []error
	if topic != "" {
		if err := c.removeSubscription(ctx, topic, sub); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove subscription: %w", err))
		}
	}
	if err := c.store.Forget(ctx, sub); err != nil {
		errs = append(errs, fmt.Errorf("failed to forget durable subscription: %w", err))
	}
	return errors.Join(errs...)
}

// subscriptionName is the transport-side name of a durable subscription
func subscriptionName(sub durable.Subscription) string {
	return sub.ClientID + "." + sub.Name
}
