package messaging

import (
	"context"
	"time"
)

// Metrics receives delivery statistics. internal/observability provides a Prometheus
// implementation.
type Metrics interface {
	MessageSent(destination, mode string, d time.Duration)
	MessageReceived(destination string, redelivered bool)
	Acknowledged(n int)
	Recovered(n int)
	ListenerError(destination string)
}

type nopMetrics struct{}

func (nopMetrics) MessageSent(string, string, time.Duration) {}
func (nopMetrics) MessageReceived(string, bool)              {}
func (nopMetrics) Acknowledged(int)                          {}
func (nopMetrics) Recovered(int)                             {}
func (nopMetrics) ListenerError(string)                      {}

type deliveryKey struct{}

// withDelivery marks ctx as running inside a delivery of s
func withDelivery(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, deliveryKey{}, s)
}

// deliveringSession returns the session whose delivery worker is running ctx, or nil
func deliveringSession(ctx context.Context) *Session {
	s, _ := ctx.Value(deliveryKey{}).(*Session)
	return s
}
