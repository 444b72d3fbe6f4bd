package observability

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/glimte/mmate-jms/messaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ messaging.Metrics = (*Metrics)(nil)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.MessageSent("orders", "persistent", 3*time.Millisecond)
	m.MessageSent("orders", "persistent", time.Millisecond)
	m.MessageReceived("orders", false)
	m.MessageReceived("orders", true)
	m.Acknowledged(2)
	m.Recovered(1)
	m.ListenerError("orders")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sent.WithLabelValues("orders", "persistent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.received.WithLabelValues("orders", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.acknowledged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listenerErrors.WithLabelValues("orders")))

	t.Run("double registration fails", func(t *testing.T) {
		_, err := NewMetrics(reg)
		assert.Error(t, err)
	})
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
