package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryGate(t *testing.T) {
	t.Run("starts stopped", func(t *testing.T) {
		g := NewDeliveryGate()
		assert.False(t, g.Started())
		assert.False(t, g.TryEnter())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.False(t, g.Enter(ctx))
	})

	t.Run("enter after start", func(t *testing.T) {
		g := NewDeliveryGate()
		g.Start()
		require.True(t, g.Enter(context.Background()))
		g.Leave()
		assert.True(t, g.TryEnter())
		g.Leave()
	})

	t.Run("stop waits for in-flight delivery", func(t *testing.T) {
		g := NewDeliveryGate()
		g.Start()
		require.True(t, g.Enter(context.Background()))

		done := make(chan error, 1)
		go func() {
			done <- g.Stop(context.Background())
		}()

		require.Eventually(t, func() bool { return !g.Started() }, time.Second, time.Millisecond)
		select {
		case <-done:
			t.Fatal("Stop returned while a delivery was in flight")
		case <-time.After(50 * time.Millisecond):
		}

		g.Leave()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Stop did not return after the delivery left")
		}
	})

	t.Run("stop counts every delivery", func(t *testing.T) {
		g := NewDeliveryGate()
		g.Start()
		require.True(t, g.Enter(context.Background()))
		require.True(t, g.Enter(context.Background()))

		done := make(chan error, 1)
		go func() {
			done <- g.Stop(context.Background())
		}()

		g.Leave()
		select {
		case <-done:
			t.Fatal("Stop returned with one delivery still in flight")
		case <-time.After(50 * time.Millisecond):
		}

		g.Leave()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Stop did not return")
		}
	})

	t.Run("no delivery enters while stopped", func(t *testing.T) {
		g := NewDeliveryGate()
		g.Start()
		require.NoError(t, g.Stop(context.Background()))
		assert.False(t, g.TryEnter())

		entered := make(chan bool, 1)
		go func() {
			entered <- g.Enter(context.Background())
		}()

		select {
		case <-entered:
			t.Fatal("delivery entered a stopped gate")
		case <-time.After(50 * time.Millisecond):
		}

		g.Start()
		select {
		case ok := <-entered:
			assert.True(t, ok)
			g.Leave()
		case <-time.After(time.Second):
			t.Fatal("Start did not wake the waiting delivery")
		}
	})

	t.Run("stop gives up with the context", func(t *testing.T) {
		g := NewDeliveryGate()
		g.Start()
		require.True(t, g.Enter(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := g.Stop(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, g.Started())
		g.Leave()
	})

	t.Run("await does not count as in flight", func(t *testing.T) {
		g := NewDeliveryGate()
		awaited := make(chan bool, 1)
		go func() {
			awaited <- g.Await(context.Background())
		}()

		select {
		case <-awaited:
			t.Fatal("await returned while stopped")
		case <-time.After(30 * time.Millisecond):
		}

		g.Start()
		select {
		case ok := <-awaited:
			assert.True(t, ok)
		case <-time.After(time.Second):
			t.Fatal("Start did not wake Await")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, g.Stop(ctx))

		g.Close()
		assert.False(t, g.Await(context.Background()))
	})

	t.Run("close wakes waiters", func(t *testing.T) {
		g := NewDeliveryGate()
		entered := make(chan bool, 1)
		go func() {
			entered <- g.Enter(context.Background())
		}()

		time.Sleep(10 * time.Millisecond)
		g.Close()
		select {
		case ok := <-entered:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("Close did not wake the waiting delivery")
		}

		g.Start()
		assert.False(t, g.Started())
		assert.False(t, g.TryEnter())
	})

	t.Run("leave without enter is ignored", func(t *testing.T) {
		g := NewDeliveryGate()
		g.Start()
		g.Leave()
		require.NoError(t, g.Stop(context.Background()))
	})
}
