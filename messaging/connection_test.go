package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/glimte/mmate-jms/internal/durable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionClientID(t *testing.T) {
	t.Run("set before use", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		assert.Empty(t, conn.ClientID())
		require.NoError(t, conn.SetClientID("billing"))
		require.NoError(t, conn.SetClientID("billing-2"))
		assert.Equal(t, "billing-2", conn.ClientID())
	})

	t.Run("empty client id", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		assert.ErrorIs(t, conn.SetClientID(""), contracts.ErrInvalidArgument)
		assert.ErrorIs(t, conn.SetClientID("  "), contracts.ErrInvalidArgument)
	})

	t.Run("rejected after a session was created", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		_, err := conn.CreateSession(false, contracts.AutoAcknowledge)
		require.NoError(t, err)
		assert.ErrorIs(t, conn.SetClientID("late"), contracts.ErrIllegalState)
	})

	t.Run("rejected after start", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		require.NoError(t, conn.Start())
		assert.ErrorIs(t, conn.SetClientID("late"), contracts.ErrIllegalState)
	})

	t.Run("option", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain(), WithClientID("inventory"))
		assert.Equal(t, "inventory", conn.ClientID())
		assert.NotEmpty(t, conn.ID())
		assert.NotEqual(t, conn.ID(), newTestConnection(t, newTestDomain()).ID())
	})
}

func TestConnectionCreateSession(t *testing.T) {
	conn := newTestConnection(t, newTestDomain())

	for _, mode := range []contracts.AckMode{
		contracts.AutoAcknowledge,
		contracts.ClientAcknowledge,
		contracts.DupsOKAcknowledge,
	} {
		t.Run(mode.String(), func(t *testing.T) {
			s, err := conn.CreateSession(false, mode)
			require.NoError(t, err)
			assert.Equal(t, mode, s.AcknowledgeMode())
			assert.False(t, s.Transacted())
		})
	}

	t.Run("transacted ignores the acknowledge mode", func(t *testing.T) {
		s, err := conn.CreateSession(true, contracts.AckMode(42))
		require.NoError(t, err)
		assert.Equal(t, contracts.SessionTransacted, s.AcknowledgeMode())
		assert.True(t, s.Transacted())
	})

	for _, mode := range []contracts.AckMode{contracts.SessionTransacted, contracts.AckMode(4), contracts.AckMode(-1)} {
		t.Run("invalid "+mode.String(), func(t *testing.T) {
			_, err := conn.CreateSession(false, mode)
			assert.ErrorIs(t, err, contracts.ErrInvalidArgument)
		})
	}
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("start and stop are repeatable", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		require.NoError(t, conn.Start())
		require.NoError(t, conn.Start())
		assert.True(t, conn.gate.Started())
		require.NoError(t, conn.Stop(ctx))
		require.NoError(t, conn.Stop(ctx))
		assert.False(t, conn.gate.Started())
	})

	t.Run("stop gives up with the context", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		require.NoError(t, conn.Start())
		require.True(t, conn.gate.Enter(ctx))

		stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, conn.Stop(stopCtx), context.DeadlineExceeded)
		conn.gate.Leave()
	})

	t.Run("close is idempotent and final", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		session, err := conn.CreateSession(false, contracts.AutoAcknowledge)
		require.NoError(t, err)
		require.NoError(t, conn.Start())

		require.NoError(t, conn.Close(ctx))
		require.NoError(t, conn.Close(ctx))

		assert.True(t, session.isClosed())
		assert.ErrorIs(t, conn.Start(), contracts.ErrIllegalState)
		assert.ErrorIs(t, conn.Stop(ctx), contracts.ErrIllegalState)
		assert.ErrorIs(t, conn.SetClientID("x"), contracts.ErrIllegalState)
		_, err = conn.CreateSession(false, contracts.AutoAcknowledge)
		assert.ErrorIs(t, err, contracts.ErrIllegalState)
	})

	t.Run("closing a session detaches it", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		session, err := conn.CreateSession(false, contracts.AutoAcknowledge)
		require.NoError(t, err)
		require.NoError(t, session.Close(ctx))

		conn.mu.Lock()
		defer conn.mu.Unlock()
		assert.Empty(t, conn.sessions)
	})
}

func TestConnectionDurableStore(t *testing.T) {
	ctx := context.Background()
	sub := durable.Subscription{ClientID: "c", Name: "n"}

	t.Run("default store is closed with the connection", func(t *testing.T) {
		conn := newTestConnection(t, newTestDomain())
		require.True(t, conn.ownsStore)
		store := conn.store
		require.NoError(t, conn.Close(ctx))

		_, err := store.IsAcknowledged(ctx, sub, "ID:1")
		assert.ErrorIs(t, err, durable.ErrStoreClosed)
	})

	t.Run("supplied store stays open", func(t *testing.T) {
		store := durable.NewMemoryStore()
		defer store.Close()
		conn := newTestConnection(t, newTestDomain(), WithDurableStore(store))
		require.NoError(t, conn.Close(ctx))

		_, err := store.IsAcknowledged(ctx, sub, "ID:1")
		assert.NoError(t, err)
	})
}

func TestConnectionTemporaryTopics(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t, newTestDomain())
	session, err := conn.CreateSession(false, contracts.AutoAcknowledge)
	require.NoError(t, err)

	first, err := session.CreateTemporaryTopic()
	require.NoError(t, err)
	second, err := session.CreateTemporaryTopic()
	require.NoError(t, err)

	assert.NotEqual(t, first.TopicName(), second.TopicName())
	assert.Contains(t, first.TopicName(), "temp.")
	assert.Equal(t, conn.ID(), first.Owner())

	consumer, err := session.CreateConsumer(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.TopicName(), consumer.Destination().TopicName())
}
