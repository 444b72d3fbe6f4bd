package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/glimte/mmate-jms/message"
	"github.com/glimte/mmate-jms/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockParticipant struct {
	mock.Mock
}

func (m *mockParticipant) CreateWriter(ctx context.Context, topic string, qos transport.QoS) (transport.Writer, error) {
	args := m.Called(ctx, topic, qos)
	if w := args.Get(0); w != nil {
		return w.(transport.Writer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockParticipant) CreateReader(ctx context.Context, topic string, qos transport.QoS) (transport.Reader, error) {
	args := m.Called(ctx, topic, qos)
	if r := args.Get(0); r != nil {
		return r.(transport.Reader), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockParticipant) Close() error {
	return m.Called().Error(0)
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Write(ctx context.Context, s transport.Sample) (transport.InstanceHandle, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(transport.InstanceHandle), args.Error(1)
}

func (m *mockWriter) Unregister(h transport.InstanceHandle) error {
	return m.Called(h).Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

var (
	persistentQoS = transport.QoS{Durability: transport.TransientLocal, Reliable: true}
	volatileQoS   = transport.QoS{Durability: transport.Volatile}
)

func newMockedSession(t *testing.T, participant transport.Participant) *Session {
	t.Helper()
	conn := NewConnection(participant, WithLogger(quietLogger()))
	t.Cleanup(func() {
		assert.NoError(t, conn.Close(context.Background()))
	})
	session, err := conn.CreateSession(false, contracts.AutoAcknowledge)
	require.NoError(t, err)
	return session
}

func TestProducerWriters(t *testing.T) {
	ctx := context.Background()

	t.Run("delivery mode selects the writer and instances are unregistered", func(t *testing.T) {
		persistent, volatile := &mockWriter{}, &mockWriter{}
		participant := &mockParticipant{}
		participant.On("CreateWriter", mock.Anything, "orders", persistentQoS).Return(persistent, nil).Once()
		participant.On("CreateWriter", mock.Anything, "orders", volatileQoS).Return(volatile, nil).Once()

		persistent.On("Write", mock.Anything, mock.MatchedBy(func(s transport.Sample) bool {
			return s.Priority == 7 && len(s.Data) > 0
		})).Return(transport.InstanceHandle(11), nil).Once()
		persistent.On("Unregister", transport.InstanceHandle(11)).Return(nil).Once()
		volatile.On("Write", mock.Anything, mock.Anything).Return(transport.InstanceHandle(12), nil).Once()
		volatile.On("Unregister", transport.InstanceHandle(12)).Return(nil).Once()
		persistent.On("Close").Return(nil).Once()
		volatile.On("Close").Return(nil).Once()

		session := newMockedSession(t, participant)
		topic, err := session.CreateTopic("orders")
		require.NoError(t, err)
		producer, err := session.CreateProducer(ctx, topic)
		require.NoError(t, err)

		require.NoError(t, producer.Send(ctx, message.NewTextMessage("durable"), WithPriority(7)))
		require.NoError(t, producer.Send(ctx, message.NewTextMessage("volatile"), WithDeliveryMode(contracts.NonPersistent)))
		require.NoError(t, producer.Close())
		require.NoError(t, producer.Close())

		participant.AssertExpectations(t)
		persistent.AssertExpectations(t)
		volatile.AssertExpectations(t)
	})

	t.Run("unbound producer caches writers per topic", func(t *testing.T) {
		participant := &mockParticipant{}
		writers := map[string][2]*mockWriter{}
		for _, topic := range []string{"a", "b"} {
			pair := [2]*mockWriter{{}, {}}
			for _, w := range pair {
				w.On("Write", mock.Anything, mock.Anything).Return(transport.InstanceHandle(1), nil)
				w.On("Unregister", transport.InstanceHandle(1)).Return(nil)
				w.On("Close").Return(nil).Once()
			}
			participant.On("CreateWriter", mock.Anything, topic, persistentQoS).Return(pair[0], nil).Once()
			participant.On("CreateWriter", mock.Anything, topic, volatileQoS).Return(pair[1], nil).Once()
			writers[topic] = pair
		}

		session := newMockedSession(t, participant)
		producer, err := session.CreateProducer(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, producer.Destination())

		a, _ := contracts.NewTopic("a")
		b, _ := contracts.NewTopic("b")
		require.NoError(t, producer.SendTo(ctx, a, message.NewTextMessage("1")))
		require.NoError(t, producer.SendTo(ctx, a, message.NewTextMessage("2")))
		require.NoError(t, producer.SendTo(ctx, b, message.NewTextMessage("3")))
		require.NoError(t, producer.Close())

		participant.AssertExpectations(t)
		writers["a"][0].AssertNumberOfCalls(t, "Write", 2)
		writers["b"][0].AssertNumberOfCalls(t, "Write", 1)
		for _, pair := range writers {
			pair[0].AssertCalled(t, "Close")
			pair[1].AssertCalled(t, "Close")
		}
	})

	t.Run("write failure", func(t *testing.T) {
		persistent, volatile := &mockWriter{}, &mockWriter{}
		participant := &mockParticipant{}
		participant.On("CreateWriter", mock.Anything, "orders", persistentQoS).Return(persistent, nil)
		participant.On("CreateWriter", mock.Anything, "orders", volatileQoS).Return(volatile, nil)
		persistent.On("Write", mock.Anything, mock.Anything).Return(transport.NilHandle, transport.ErrClosed)
		persistent.On("Close").Return(nil)
		volatile.On("Close").Return(nil)

		session := newMockedSession(t, participant)
		topic, _ := session.CreateTopic("orders")
		producer, err := session.CreateProducer(ctx, topic)
		require.NoError(t, err)

		err = producer.Send(ctx, message.NewTextMessage("lost"))
		assert.ErrorIs(t, err, transport.ErrClosed)
		persistent.AssertNotCalled(t, "Unregister", mock.Anything)
	})

	t.Run("writer creation failure", func(t *testing.T) {
		persistent := &mockWriter{}
		participant := &mockParticipant{}
		participant.On("CreateWriter", mock.Anything, "orders", persistentQoS).Return(persistent, nil)
		participant.On("CreateWriter", mock.Anything, "orders", volatileQoS).Return(nil, errors.New("no route"))
		persistent.On("Close").Return(nil).Once()

		session := newMockedSession(t, participant)
		topic, _ := session.CreateTopic("orders")
		_, err := session.CreateProducer(ctx, topic)
		assert.ErrorContains(t, err, "no route")
		persistent.AssertExpectations(t)
	})
}

func TestProducerHeaders(t *testing.T) {
	t.Run("time to live sets the expiration", func(t *testing.T) {
		e := newEndpoints(t, contracts.AutoAcknowledge)

		sent := sendText(t, e.producer, "forever")
		got := receiveText(t, e.consumer)
		assert.Zero(t, sent.Env().Expiration)
		assert.Zero(t, got.Env().Expiration)

		sent = sendText(t, e.producer, "soon", WithTimeToLive(1000*time.Millisecond))
		got = receiveText(t, e.consumer)
		env := got.Env()
		assert.NotZero(t, env.Timestamp)
		assert.Equal(t, env.Timestamp+1000, env.Expiration)
		assert.Equal(t, sent.Env().Expiration, env.Expiration)
	})

	t.Run("stamped fields", func(t *testing.T) {
		e := newEndpoints(t, contracts.AutoAcknowledge)
		before := time.Now().UnixMilli()
		sent := sendText(t, e.producer, "stamped", WithPriority(8), WithDeliveryMode(contracts.NonPersistent))
		after := time.Now().UnixMilli()

		env := receiveText(t, e.consumer).Env()
		assert.Regexp(t, `^ID:[0-9a-f-]{36}$`, env.MessageID)
		assert.Equal(t, sent.Env().MessageID, env.MessageID)
		assert.GreaterOrEqual(t, env.Timestamp, before)
		assert.LessOrEqual(t, env.Timestamp, after)
		assert.Equal(t, 8, env.Priority)
		assert.Equal(t, contracts.NonPersistent, env.DeliveryMode)
		assert.Equal(t, e.topic.TopicName(), env.Destination.TopicName())
		assert.Equal(t, e.conn.ID(), env.Origin())
	})

	t.Run("producer defaults", func(t *testing.T) {
		e := newEndpoints(t, contracts.AutoAcknowledge)
		assert.Equal(t, contracts.Persistent, e.producer.DeliveryMode())
		assert.Equal(t, contracts.DefaultPriority, e.producer.Priority())
		assert.Zero(t, e.producer.TimeToLive())

		require.NoError(t, e.producer.SetPriority(2))
		require.NoError(t, e.producer.SetDeliveryMode(contracts.NonPersistent))
		require.NoError(t, e.producer.SetTimeToLive(time.Minute))
		sendText(t, e.producer, "defaults")

		env := receiveText(t, e.consumer).Env()
		assert.Equal(t, 2, env.Priority)
		assert.Equal(t, contracts.NonPersistent, env.DeliveryMode)
		assert.Equal(t, env.Timestamp+time.Minute.Milliseconds(), env.Expiration)
	})

	t.Run("disabled id and timestamp", func(t *testing.T) {
		e := newEndpoints(t, contracts.AutoAcknowledge)
		e.producer.SetDisableMessageID(true)
		e.producer.SetDisableMessageTimestamp(true)
		sendText(t, e.producer, "anonymous")
		sendText(t, e.producer, "anonymous")

		for range 2 {
			env := receiveText(t, e.consumer).Env()
			assert.Empty(t, env.MessageID)
			assert.Zero(t, env.Timestamp)
		}
	})
}

func TestProducerValidation(t *testing.T) {
	ctx := context.Background()
	e := newEndpoints(t, contracts.AutoAcknowledge)
	msg := message.NewTextMessage("invalid")

	tests := []struct {
		name string
		opts []SendOption
	}{
		{name: "delivery mode", opts: []SendOption{WithDeliveryMode(3)}},
		{name: "priority above range", opts: []SendOption{WithPriority(10)}},
		{name: "priority below range", opts: []SendOption{WithPriority(-1)}},
		{name: "negative time to live", opts: []SendOption{WithTimeToLive(-time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.producer.Send(ctx, msg, tt.opts...)
			assert.ErrorIs(t, err, contracts.ErrInvalidArgument)
		})
	}

	t.Run("setters", func(t *testing.T) {
		assert.ErrorIs(t, e.producer.SetPriority(42), contracts.ErrInvalidArgument)
		assert.ErrorIs(t, e.producer.SetDeliveryMode(0), contracts.ErrInvalidArgument)
		assert.ErrorIs(t, e.producer.SetTimeToLive(-1), contracts.ErrInvalidArgument)
	})

	t.Run("nil message", func(t *testing.T) {
		assert.ErrorIs(t, e.producer.Send(ctx, nil), contracts.ErrInvalidArgument)
	})

	t.Run("bound producer rejects SendTo", func(t *testing.T) {
		err := e.producer.SendTo(ctx, e.topic, msg)
		assert.ErrorIs(t, err, contracts.ErrUnsupportedOperation)
	})

	t.Run("unbound producer rejects Send", func(t *testing.T) {
		unbound, err := e.session.CreateProducer(ctx, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, unbound.Send(ctx, msg), contracts.ErrUnsupportedOperation)
		assert.ErrorIs(t, unbound.SendTo(ctx, nil, msg), contracts.ErrInvalidDestination)
	})

	t.Run("closed producer", func(t *testing.T) {
		p, err := e.session.CreateProducer(ctx, e.topic)
		require.NoError(t, err)
		require.NoError(t, p.Close())
		assert.ErrorIs(t, p.Send(ctx, msg), contracts.ErrIllegalState)
	})

	msgAfter, err := e.consumer.ReceiveNoWait(ctx)
	require.NoError(t, err)
	assert.Nil(t, msgAfter, "rejected sends must not reach the transport")
}
