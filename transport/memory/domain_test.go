package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/mmate-jms/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Participant, transport.Writer, transport.Reader) {
	t.Helper()
	ctx := context.Background()
	p := NewDomain().Participant()
	t.Cleanup(func() { p.Close() })

	w, err := p.CreateWriter(ctx, "orders", transport.QoS{Reliable: true})
	require.NoError(t, err)
	r, err := p.CreateReader(ctx, "orders", transport.QoS{Reliable: true})
	require.NoError(t, err)
	return p, w, r
}

func write(t *testing.T, w transport.Writer, key string, priority int) transport.InstanceHandle {
	t.Helper()
	h, err := w.Write(context.Background(), transport.Sample{Key: key, Priority: priority, Data: []byte(key)})
	require.NoError(t, err)
	return h
}

func TestReaderOrdering(t *testing.T) {
	t.Run("by priority, ties by arrival", func(t *testing.T) {
		_, w, r := setup(t)
		write(t, w, "a", 4)
		write(t, w, "b", 9)
		write(t, w, "c", 4)
		write(t, w, "d", 9)
		write(t, w, "e", 0)

		cond := r.CreateReadCondition(transport.NotRead, transport.ByPriority)
		var keys []string
		for {
			s, info, ok := r.ReadNext(cond)
			if !ok {
				break
			}
			assert.False(t, info.Read)
			keys = append(keys, s.Key)
		}
		assert.Equal(t, []string{"b", "d", "a", "c", "e"}, keys)
	})

	t.Run("by arrival", func(t *testing.T) {
		_, w, r := setup(t)
		write(t, w, "a", 1)
		write(t, w, "b", 9)

		cond := r.CreateReadCondition(transport.NotRead, transport.ByArrival)
		s, _, ok := r.ReadNext(cond)
		require.True(t, ok)
		assert.Equal(t, "a", s.Key)
	})
}

func TestReaderInstances(t *testing.T) {
	_, w, r := setup(t)
	write(t, w, "a", 4)

	cond := r.CreateReadCondition(transport.NotRead, transport.ByPriority)
	assert.True(t, cond.Triggered())

	s, info, ok := r.ReadNext(cond)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), s.Data)
	assert.False(t, cond.Triggered())

	t.Run("read instance keeps the sample", func(t *testing.T) {
		got, again, ok := r.ReadInstance(info.Handle)
		require.True(t, ok)
		assert.Equal(t, "a", got.Key)
		assert.True(t, again.Read)
	})

	t.Run("take instance removes it", func(t *testing.T) {
		_, _, ok := r.TakeInstance(info.Handle)
		require.True(t, ok)
		_, _, ok = r.TakeInstance(info.Handle)
		assert.False(t, ok)
		_, _, ok = r.ReadInstance(info.Handle)
		assert.False(t, ok)
	})
}

func TestWriterUnregister(t *testing.T) {
	_, w, _ := setup(t)
	h := write(t, w, "a", 4)
	assert.Equal(t, 1, w.(*writer).registered())

	require.NoError(t, w.Unregister(h))
	assert.Equal(t, 0, w.(*writer).registered())
	assert.ErrorIs(t, w.Unregister(h), transport.ErrUnknownInstance)
}

func TestReaderWakesWaitSet(t *testing.T) {
	_, w, r := setup(t)
	cond := r.CreateReadCondition(transport.NotRead, transport.ByPriority)
	ws := transport.NewWaitSet()
	ws.Attach(cond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Write(context.Background(), transport.Sample{Key: "late", Priority: 4})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ready, err := ws.Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, ready, 1)
}

func TestReaderListener(t *testing.T) {
	_, w, r := setup(t)
	write(t, w, "before", 4)

	var calls atomic.Int32
	r.SetListener(func() { calls.Add(1) })
	assert.Equal(t, int32(1), calls.Load(), "installing a listener reports cached data")

	write(t, w, "after", 4)
	assert.Equal(t, int32(2), calls.Load())

	r.SetListener(nil)
	write(t, w, "ignored", 4)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTransientLocalHistory(t *testing.T) {
	ctx := context.Background()
	d := NewDomain()
	p := d.Participant()
	defer p.Close()

	durable := transport.QoS{Durability: transport.TransientLocal, Reliable: true, HistoryDepth: 2}
	w, err := p.CreateWriter(ctx, "events", durable)
	require.NoError(t, err)
	volatile, err := p.CreateWriter(ctx, "events", transport.QoS{})
	require.NoError(t, err)

	write(t, w, "1", 4)
	write(t, volatile, "v", 4)
	write(t, w, "2", 4)
	write(t, w, "3", 4)

	t.Run("durable reader replays bounded history", func(t *testing.T) {
		r, err := p.CreateReader(ctx, "events", durable)
		require.NoError(t, err)
		cond := r.CreateReadCondition(transport.NotRead, transport.ByArrival)

		var keys []string
		for {
			s, _, ok := r.ReadNext(cond)
			if !ok {
				break
			}
			keys = append(keys, s.Key)
		}
		assert.Equal(t, []string{"2", "3"}, keys)
	})

	t.Run("volatile reader starts empty", func(t *testing.T) {
		r, err := p.CreateReader(ctx, "events", transport.QoS{})
		require.NoError(t, err)
		cond := r.CreateReadCondition(transport.AnySampleState, transport.ByArrival)
		assert.False(t, cond.Triggered())
	})
}

func TestParticipantClose(t *testing.T) {
	p, w, r := setup(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := w.Write(context.Background(), transport.Sample{Key: "x"})
	assert.ErrorIs(t, err, transport.ErrClosed)

	cond := r.CreateReadCondition(transport.NotRead, transport.ByArrival)
	_, _, ok := r.ReadNext(cond)
	assert.False(t, ok)

	_, err = p.CreateReader(context.Background(), "orders", transport.QoS{})
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestDeliverRejectsEmptyTopic(t *testing.T) {
	assert.ErrorIs(t, NewDomain().Deliver("", transport.Sample{}, false), transport.ErrInvalidTopic)
}
