// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-jms/config"
	"github.com/glimte/mmate-jms/internal/durable"
	"github.com/glimte/mmate-jms/internal/observability"
	"github.com/glimte/mmate-jms/messaging"
	"github.com/glimte/mmate-jms/transport"
	"github.com/glimte/mmate-jms/transport/memory"
	natsTransport "github.com/glimte/mmate-jms/transport/nats"
	rabbitmqTransport "github.com/glimte/mmate-jms/transport/rabbitmq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Client wires a configured transport, durable store and metrics into one connection
type Client struct {
	participant transport.Participant
	store       durable.Store
	registry    *prometheus.Registry
	conn        *messaging.Connection
	logger      *slog.Logger
}

// NewClient creates a client from cfg. The connection it owns is stopped until
// Connection().Start is called.
func NewClient(ctx context.Context, cfg config.Config, options ...ClientOption) (*Client, error) {
	opts := &clientConfig{
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range options {
		opt(opts)
	}

	participant, err := newParticipant(ctx, cfg.Transport, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	store, err := newStore(cfg.Durable)
	if err != nil {
		_ = participant.Close()
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}

	metrics, err := observability.NewMetrics(opts.registry)
	if err != nil {
		_ = store.Close()
		_ = participant.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	connOpts := []messaging.ConnectionOption{
		messaging.WithLogger(opts.logger),
		messaging.WithMetrics(metrics),
		messaging.WithDurableStore(store),
		messaging.WithExecutorQueueSize(cfg.Session.QueueSize),
	}
	if cfg.ClientID != "" {
		connOpts = append(connOpts, messaging.WithClientID(cfg.ClientID))
	}
	if opts.tracerProvider != nil {
		connOpts = append(connOpts, messaging.WithTracerProvider(opts.tracerProvider))
	}

	opts.logger.Info("client created",
		"transport", cfg.Transport.Kind,
		"durable_store", cfg.Durable.Kind,
		"client_id", cfg.ClientID)

	return &Client{
		participant: participant,
		store:       store,
		registry:    opts.registry,
		conn:        messaging.NewConnection(participant, connOpts...),
		logger:      opts.logger,
	}, nil
}

func newParticipant(ctx context.Context, cfg config.TransportConfig, opts *clientConfig) (transport.Participant, error) {
	switch cfg.Kind {
	case config.TransportMemory, "":
		domain := opts.domain
		if domain == nil {
			domain = memory.NewDomain(memory.WithLogger(opts.logger))
		}
		return domain.Participant(), nil
	case config.TransportRabbitMQ:
		rabbitOpts := []rabbitmqTransport.Option{rabbitmqTransport.WithLogger(opts.logger)}
		if cfg.Exchange != "" {
			rabbitOpts = append(rabbitOpts, rabbitmqTransport.WithExchange(cfg.Exchange))
		}
		p, err := rabbitmqTransport.NewParticipant(ctx, cfg.URL, rabbitOpts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.TransportNATS:
		natsOpts := []natsTransport.Option{natsTransport.WithLogger(opts.logger)}
		if cfg.SubjectPrefix != "" {
			natsOpts = append(natsOpts, natsTransport.WithSubjectPrefix(cfg.SubjectPrefix))
		}
		p, err := natsTransport.NewParticipant(cfg.URL, natsOpts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %q", config.ErrInvalidConfig, cfg.Kind)
	}
}

func newStore(cfg config.DurableConfig) (durable.Store, error) {
	switch cfg.Kind {
	case config.DurableMemory, "":
		return durable.NewMemoryStore(), nil
	case config.DurableSQLite:
		s, err := durable.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown durable store kind %q", config.ErrInvalidConfig, cfg.Kind)
	}
}

// Connection returns the client's connection
func (c *Client) Connection() *messaging.Connection {
	return c.conn
}

// Gatherer returns the registry holding the client metrics
func (c *Client) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Close closes the connection, the transport and the durable store
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if err := c.conn.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
	}
	if err := c.participant.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close durable store: %w", err))
	}
	c.logger.Debug("client closed")
	return errors.Join(errs...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger         *slog.Logger
	registry       *prometheus.Registry
	tracerProvider trace.TracerProvider
	domain         *memory.Domain
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithRegistry registers the client metrics with registry instead of a private one
func WithRegistry(registry *prometheus.Registry) ClientOption {
	return func(cfg *clientConfig) {
		cfg.registry = registry
	}
}

// WithTracerProvider sets the tracer provider; the global provider is used otherwise
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(cfg *clientConfig) {
		cfg.tracerProvider = tp
	}
}

// WithMemoryDomain attaches memory transports to domain, letting clients in one process
// exchange messages
func WithMemoryDomain(domain *memory.Domain) ClientOption {
	return func(cfg *clientConfig) {
		cfg.domain = domain
	}
}
