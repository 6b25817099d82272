// Package geulpi wires the ML bridge for in-process use by the calendar
// backend: one call dials the broker, declares the topology, and starts the
// bridge, so request handlers can submit ML work and await the result.
package geulpi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/bridge"
	"github.com/dentalking/geulpi-calendar-ai-sub003/health"
	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/rabbitmq"
	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/reliability"
	"github.com/dentalking/geulpi-calendar-ai-sub003/messaging"
)

// Client is the embeddable entry point. It owns the broker connection, the
// channel pool, and the bridge; Close releases all of them.
type Client struct {
	manager *rabbitmq.ConnectionManager
	pool    *rabbitmq.ChannelPool
	bridge  *bridge.Bridge
	monitor *health.Monitor
	logger  *slog.Logger
}

type clientConfig struct {
	logger          *slog.Logger
	topology        rabbitmq.MLTopologyConfig
	prefetchCount   int
	maxChannels     int
	requestTimeout  time.Duration
	sweepInterval   time.Duration
	maxPending      int
	maxRedeliveries int
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger used by every component
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTopology overrides the default exchange and queue naming
func WithTopology(topology rabbitmq.MLTopologyConfig) ClientOption {
	return func(c *clientConfig) {
		c.topology = topology
	}
}

// WithRequestTimeout sets the per-request response budget
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.requestTimeout = timeout
	}
}

// WithSweepInterval sets how often timed-out requests are evicted
func WithSweepInterval(interval time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.sweepInterval = interval
	}
}

// WithMaxPending caps concurrent in-flight requests
func WithMaxPending(max int) ClientOption {
	return func(c *clientConfig) {
		c.maxPending = max
	}
}

// WithMaxRedeliveries caps redelivery cycles before a response is parked
func WithMaxRedeliveries(max int) ClientOption {
	return func(c *clientConfig) {
		c.maxRedeliveries = max
	}
}

// WithPrefetchCount sets the consumer prefetch window
func WithPrefetchCount(count int) ClientOption {
	return func(c *clientConfig) {
		c.prefetchCount = count
	}
}

// NewClient dials the broker, declares the ML topology, and starts the
// bridge. The returned client is ready to submit requests.
func NewClient(ctx context.Context, connectionString string, options ...ClientOption) (*Client, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}

	cfg := &clientConfig{
		logger:          slog.Default(),
		topology:        rabbitmq.DefaultMLTopologyConfig(),
		prefetchCount:   10,
		maxChannels:     10,
		requestTimeout:  30 * time.Second,
		sweepInterval:   30 * time.Second,
		maxPending:      1000,
		maxRedeliveries: 3,
	}
	for _, opt := range options {
		opt(cfg)
	}

	manager := rabbitmq.NewConnectionManager(connectionString,
		rabbitmq.WithConnectionLogger(cfg.logger),
	)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	pool, err := rabbitmq.NewChannelPool(manager,
		rabbitmq.WithMaxChannels(cfg.maxChannels),
	)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	if err := rabbitmq.NewTopologyManager(pool).DeclareTopology(ctx, rabbitmq.MLTopology(cfg.topology)); err != nil {
		pool.Close()
		manager.Close()
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}

	rawPublisher := rabbitmq.NewPublisher(pool)
	publisher := messaging.NewMLPublisher(rawPublisher, cfg.topology,
		messaging.WithPublisherLogger(cfg.logger),
	)

	consumer := rabbitmq.NewConsumer(pool,
		rabbitmq.WithPrefetchCount(cfg.prefetchCount),
		rabbitmq.WithManualAck(true),
		rabbitmq.WithConsumerLogger(cfg.logger),
	)
	parking := reliability.NewParkingHandler(rawPublisher,
		cfg.topology.DeadLetterExchange, cfg.topology.ParkingQueue,
		reliability.WithParkingLogger(cfg.logger),
	)
	subscriber := messaging.NewAMQPSubscriber(consumer, parking,
		messaging.WithSubscriberLogger(cfg.logger),
	)

	b, err := bridge.NewBridge(publisher, subscriber,
		bridge.WithResponseQueue(cfg.topology.ResponseQueue),
		bridge.WithErrorLogQueue(cfg.topology.ErrorLogQueue),
		bridge.WithRequestTimeout(cfg.requestTimeout),
		bridge.WithSweepInterval(cfg.sweepInterval),
		bridge.WithMaxPendingRequests(cfg.maxPending),
		bridge.WithMaxRedeliveries(cfg.maxRedeliveries),
		bridge.WithBridgeCircuitBreaker(reliability.NewCircuitBreaker(
			reliability.WithFailureThreshold(5),
			reliability.WithOpenTimeout(10*time.Second),
		)),
		bridge.WithBridgeRetryPolicy(reliability.NewExponentialBackoff(
			100*time.Millisecond, 2*time.Second, 2.0, 3,
		)),
		bridge.WithBridgeLogger(cfg.logger),
	)
	if err != nil {
		pool.Close()
		manager.Close()
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	if err := b.Start(ctx); err != nil {
		pool.Close()
		manager.Close()
		return nil, fmt.Errorf("failed to start bridge: %w", err)
	}

	monitor := health.NewMonitor(
		health.NewBrokerChecker(manager),
		health.NewQueueChecker(cfg.topology.ResponseQueue, pool, 10000),
		health.NewPendingRequestsChecker(b.PendingRequestCount, cfg.maxPending*8/10, cfg.maxPending),
	)

	return &Client{
		manager: manager,
		pool:    pool,
		bridge:  b,
		monitor: monitor,
		logger:  cfg.logger,
	}, nil
}

// Bridge returns the underlying bridge for direct Submit/Await use.
func (c *Client) Bridge() *bridge.Bridge {
	return c.bridge
}

// Health returns the client's health monitor.
func (c *Client) Health() *health.Monitor {
	return c.monitor
}

// Close shuts the bridge down, cancels pending requests, and releases the
// broker connection.
func (c *Client) Close() error {
	err := c.bridge.Close()
	if poolErr := c.pool.Close(); poolErr != nil && err == nil {
		err = poolErr
	}
	if connErr := c.manager.Close(); connErr != nil && err == nil {
		err = connErr
	}
	return err
}
