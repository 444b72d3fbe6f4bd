package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records messaging activity as Prometheus metrics
type Metrics struct {
	sent           *prometheus.CounterVec
	received       *prometheus.CounterVec
	acknowledged   prometheus.Counter
	recovered      prometheus.Counter
	listenerErrors *prometheus.CounterVec
	sendLatency    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mmate_jms_messages_sent_total",
			Help: "Messages written by producers",
		}, []string{"destination", "mode"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mmate_jms_messages_received_total",
			Help: "Messages delivered to consumers",
		}, []string{"destination", "redelivered"}),
		acknowledged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mmate_jms_acknowledged_total",
			Help: "Deliveries acknowledged by sessions",
		}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mmate_jms_recovered_total",
			Help: "Deliveries handed back for redelivery by session recover",
		}),
		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mmate_jms_listener_errors_total",
			Help: "Message listener invocations that failed or panicked",
		}, []string{"destination"}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mmate_jms_send_latency_seconds",
			Help:    "Producer send latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.sent, m.received, m.acknowledged, m.recovered, m.listenerErrors, m.sendLatency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) MessageSent(destination, mode string, d time.Duration) {
	m.sent.WithLabelValues(destination, mode).Inc()
	m.sendLatency.Observe(d.Seconds())
}

func (m *Metrics) MessageReceived(destination string, redelivered bool) {
	m.received.WithLabelValues(destination, strconv.FormatBool(redelivered)).Inc()
}

func (m *Metrics) Acknowledged(n int) {
	m.acknowledged.Add(float64(n))
}

func (m *Metrics) Recovered(n int) {
	m.recovered.Add(float64(n))
}

func (m *Metrics) ListenerError(destination string) {
	m.listenerErrors.WithLabelValues(destination).Inc()
}

// ServeMetrics exposes gatherer over HTTP and returns a shutdown func
func ServeMetrics(cfg MetricsConfig, gatherer prometheus.Gatherer, l *slog.Logger) func(context.Context) error {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics http server", "err", err)
		}
	}()
	l.Info("metrics server started", "addr", cfg.Addr, "path", path)
	return srv.Shutdown
}
