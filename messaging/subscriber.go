package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/rabbitmq"
	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSubscriber consumes queues through the shared consumer. Every
// subscriber instance on the same queue competes for deliveries, so running
// one logical consumer group per queue falls out of the queue semantics.
type AMQPSubscriber struct {
	consumer *rabbitmq.Consumer
	parking  *reliability.ParkingHandler
	logger   *slog.Logger
	queues   map[string]struct{}
	mu       sync.Mutex
}

// AMQPSubscriberOption configures the subscriber
type AMQPSubscriberOption func(*AMQPSubscriber)

// WithSubscriberLogger sets the logger
func WithSubscriberLogger(logger *slog.Logger) AMQPSubscriberOption {
	return func(s *AMQPSubscriber) {
		s.logger = logger
	}
}

// NewAMQPSubscriber creates a subscriber. The consumer must run in
// manual-ack mode: settlement belongs to the delivery handler.
func NewAMQPSubscriber(consumer *rabbitmq.Consumer, parking *reliability.ParkingHandler, options ...AMQPSubscriberOption) *AMQPSubscriber {
	s := &AMQPSubscriber{
		consumer: consumer,
		parking:  parking,
		logger:   slog.Default(),
		queues:   make(map[string]struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Subscribe consumes the queue, wrapping each raw delivery in the Delivery
// settlement interface before handing it to the handler.
func (s *AMQPSubscriber) Subscribe(ctx context.Context, queue string, handler DeliveryHandler) error {
	if queue == "" {
		return fmt.Errorf("queue name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	if _, exists := s.queues[queue]; exists {
		s.mu.Unlock()
		return fmt.Errorf("already subscribed to queue: %s", queue)
	}
	s.queues[queue] = struct{}{}
	s.mu.Unlock()

	err := s.consumer.Subscribe(ctx, queue, func(ctx context.Context, delivery amqp.Delivery) error {
		return handler(ctx, &amqpDelivery{
			delivery: delivery,
			queue:    queue,
			parking:  s.parking,
		})
	})
	if err != nil {
		s.mu.Lock()
		delete(s.queues, queue)
		s.mu.Unlock()
		return fmt.Errorf("failed to subscribe to queue %s: %w", queue, err)
	}

	s.logger.Info("subscribed to queue", "queue", queue)
	return nil
}

// Unsubscribe stops consuming the queue
func (s *AMQPSubscriber) Unsubscribe(queue string) error {
	s.mu.Lock()
	_, exists := s.queues[queue]
	delete(s.queues, queue)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("not subscribed to queue: %s", queue)
	}
	return s.consumer.Unsubscribe(queue)
}

// Close stops all subscriptions
func (s *AMQPSubscriber) Close() error {
	s.mu.Lock()
	s.queues = make(map[string]struct{})
	s.mu.Unlock()
	return s.consumer.UnsubscribeAll()
}

// amqpDelivery adapts amqp.Delivery to the Delivery settlement interface.
type amqpDelivery struct {
	delivery amqp.Delivery
	queue    string
	parking  *reliability.ParkingHandler
}

func (d *amqpDelivery) Body() []byte {
	return d.delivery.Body
}

func (d *amqpDelivery) CorrelationID() string {
	return d.delivery.CorrelationId
}

func (d *amqpDelivery) RedeliveryCount() int {
	return rabbitmq.DeliveryCount(d.delivery)
}

func (d *amqpDelivery) Ack() error {
	return d.delivery.Ack(false)
}

// Retry dead-letters the delivery into the retry cycle; the broker routes it
// back to the queue after the retry TTL with its x-death count incremented.
func (d *amqpDelivery) Retry() error {
	return d.delivery.Nack(false, false)
}

func (d *amqpDelivery) Park(ctx context.Context, reason string) error {
	if d.parking == nil {
		return fmt.Errorf("no parking handler configured")
	}
	return d.parking.Park(ctx, d.delivery, d.queue, reason)
}
