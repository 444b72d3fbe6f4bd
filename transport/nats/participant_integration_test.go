//go:build integration

package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-jms/transport"
)

func TestParticipantIntegration(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://127.0.0.1:4222"
	}
	ctx := context.Background()

	p, err := NewParticipant(url, WithSubjectPrefix("mmate.jms.test"))
	require.NoError(t, err)
	defer p.Close()

	topic := "it-" + uuid.NewString()[:8]
	r, err := p.CreateReader(ctx, topic, transport.QoS{})
	require.NoError(t, err)
	w, err := p.CreateWriter(ctx, topic, transport.QoS{Reliable: true})
	require.NoError(t, err)

	h, err := w.Write(ctx, transport.Sample{Key: "ID:1", Priority: 7, Data: []byte("payload")})
	require.NoError(t, err)
	require.NoError(t, w.Unregister(h))

	cond := r.CreateReadCondition(transport.NotRead, transport.ByPriority)
	require.Eventually(t, cond.Triggered, 5*time.Second, 20*time.Millisecond)

	s, _, ok := r.ReadNext(cond)
	require.True(t, ok)
	assert.Equal(t, "ID:1", s.Key)
	assert.Equal(t, 7, s.Priority)
	assert.Equal(t, []byte("payload"), s.Data)
}
