package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one broker delivery. When the consumer runs in
// manual-ack mode the handler owns the ack/nack decision completely.
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer consumes deliveries from queues. All consumers created from the
// same Consumer on the same queue compete for messages, which is what gives
// the response queue its one-delivery-per-message group semantics.
type Consumer struct {
	pool          *ChannelPool
	prefetchCount int
	manualAck     bool
	consumerTag   string
	logger        *slog.Logger
	active        sync.Map // queue -> *consumerState
}

type consumerState struct {
	queue   string
	channel *PooledChannel
	cancel  context.CancelFunc
	done    chan struct{}
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the per-channel prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithManualAck leaves acknowledgment entirely to the delivery handler.
// Without it the consumer acks on handler success and nacks for requeue on
// handler error.
func WithManualAck(manual bool) ConsumerOption {
	return func(c *Consumer) {
		c.manualAck = manual
	}
}

// WithConsumerTag sets the consumer tag prefix
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer over the channel pool
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:          pool,
		prefetchCount: 10,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscribe starts consuming from a queue until the context is cancelled or
// Unsubscribe is called.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler DeliveryHandler) error {
	if _, exists := c.active.Load(queue); exists {
		return &ConsumerError{
			Queue:     queue,
			Op:        "subscribe",
			Err:       fmt.Errorf("already consuming"),
			Timestamp: time.Now(),
		}
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{
			Queue:     queue,
			Op:        "subscribe",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Put(ch)
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(queue, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		c.pool.Put(ch)
		return &ConsumerError{
			Queue:     queue,
			Op:        "consume",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	state := &consumerState{
		queue:   queue,
		channel: ch,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.active.Store(queue, state)

	go c.processDeliveries(consumerCtx, state, deliveries, handler)

	c.logger.Info("consuming from queue",
		"queue", queue,
		"prefetchCount", c.prefetchCount,
		"manualAck", c.manualAck,
	)
	return nil
}

func (c *Consumer) processDeliveries(ctx context.Context, state *consumerState, deliveries <-chan amqp.Delivery, handler DeliveryHandler) {
	defer func() {
		close(state.done)
		c.pool.Put(state.channel)
		c.active.Delete(state.queue)
		c.logger.Info("consumer stopped", "queue", state.queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", state.queue)
				return
			}
			c.handleDelivery(ctx, state.queue, delivery, handler)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, queue string, delivery amqp.Delivery, handler DeliveryHandler) {
	err := handler(ctx, delivery)

	if c.manualAck {
		if err != nil {
			c.logger.Error("delivery handler failed",
				"queue", queue,
				"deliveryTag", delivery.DeliveryTag,
				"error", err,
			)
		}
		return
	}

	if err != nil {
		c.logger.Error("delivery handler failed, requeueing",
			"queue", queue,
			"deliveryTag", delivery.DeliveryTag,
			"error", err,
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack delivery", "error", nackErr)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack delivery", "error", ackErr)
	}
}

// Unsubscribe stops consuming from a queue and waits for the loop to exit.
func (c *Consumer) Unsubscribe(queue string) error {
	value, ok := c.active.Load(queue)
	if !ok {
		return fmt.Errorf("no active consumer for queue: %s", queue)
	}

	state := value.(*consumerState)
	state.cancel()
	<-state.done
	return nil
}

// UnsubscribeAll stops every active consumer.
func (c *Consumer) UnsubscribeAll() error {
	var wg sync.WaitGroup
	c.active.Range(func(key, value any) bool {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := c.Unsubscribe(queue); err != nil {
				c.logger.Error("failed to unsubscribe", "queue", queue, "error", err)
			}
		}(key.(string))
		return true
	})
	wg.Wait()
	return nil
}

// DeliveryCount returns how many times the broker has dead-letter-cycled a
// delivery, read from the x-death header. First delivery returns 0.
func DeliveryCount(delivery amqp.Delivery) int {
	deaths, ok := delivery.Headers["x-death"].([]any)
	if !ok || len(deaths) == 0 {
		return 0
	}
	death, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	if count, ok := death["count"].(int64); ok {
		return int(count)
	}
	return 0
}
