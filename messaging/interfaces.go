package messaging

import (
	"context"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
)

// Publisher publishes ML traffic to the broker.
type Publisher interface {
	// PublishRequest sends a request to the ML request queue
	PublishRequest(ctx context.Context, req contracts.Request) error

	// PublishResponse sends a response to the response queue. The backend
	// only uses this in tests and tooling; it is the worker side of the
	// exchange.
	PublishResponse(ctx context.Context, resp contracts.Response) error

	// Close releases publisher resources
	Close() error
}

// Subscriber consumes queues and routes deliveries to handlers.
type Subscriber interface {
	// Subscribe consumes the queue until ctx is cancelled or Unsubscribe
	// is called. The handler owns delivery settlement.
	Subscribe(ctx context.Context, queue string, handler DeliveryHandler) error

	// Unsubscribe stops consuming the queue
	Unsubscribe(queue string) error

	// Close stops all subscriptions
	Close() error
}

// Delivery is one broker delivery with explicit settlement. Exactly one of
// Ack, Retry, or Park must be called per delivery.
type Delivery interface {
	// Body returns the raw message payload
	Body() []byte

	// CorrelationID returns the broker-level correlation id, which may be
	// empty when only the envelope carries it
	CorrelationID() string

	// RedeliveryCount returns how many times this message has already been
	// through the retry cycle
	RedeliveryCount() int

	// Ack marks the delivery processed
	Ack() error

	// Retry sends the delivery through the retry cycle for redelivery
	Retry() error

	// Park moves the delivery to the parking queue and marks it processed
	Park(ctx context.Context, reason string) error
}

// DeliveryHandler processes one delivery and settles it.
type DeliveryHandler func(ctx context.Context, d Delivery) error
