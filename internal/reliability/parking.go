package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessagePublisher republishes raw message bodies. Satisfied by the
// rabbitmq publisher through a thin adapter.
type MessagePublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// ParkingHandler moves poison messages out of the redelivery cycle. A
// response that keeps failing deserialization would otherwise bounce between
// the response queue and its retry queue forever; once the redelivery budget
// is spent the consumer hands the delivery here, and we republish it to the
// parking queue for offline inspection and ack the original.
type ParkingHandler struct {
	publisher    MessagePublisher
	exchange     string
	parkingQueue string
	logger       *slog.Logger
}

// ParkingOption configures the parking handler
type ParkingOption func(*ParkingHandler)

// WithParkingLogger sets the logger
func WithParkingLogger(logger *slog.Logger) ParkingOption {
	return func(h *ParkingHandler) {
		h.logger = logger
	}
}

// NewParkingHandler creates a parking handler that republishes through the
// given exchange to the parking queue's routing key.
func NewParkingHandler(publisher MessagePublisher, exchange, parkingQueue string, options ...ParkingOption) *ParkingHandler {
	h := &ParkingHandler{
		publisher:    publisher,
		exchange:     exchange,
		parkingQueue: parkingQueue,
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// Park republishes the delivery to the parking queue and acks the original.
// The original headers travel along, plus the queue it came from, the reason
// it was parked, and when.
func (h *ParkingHandler) Park(ctx context.Context, delivery amqp.Delivery, originalQueue, reason string) error {
	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers["x-original-queue"] = originalQueue
	headers["x-parked-reason"] = reason
	headers["x-parked-at"] = time.Now().UTC().Format(time.RFC3339)

	msg := amqp.Publishing{
		ContentType:   delivery.ContentType,
		CorrelationId: delivery.CorrelationId,
		MessageId:     delivery.MessageId,
		Timestamp:     delivery.Timestamp,
		Headers:       headers,
		Body:          delivery.Body,
	}

	if err := h.publisher.Publish(ctx, h.exchange, h.parkingQueue, msg); err != nil {
		return fmt.Errorf("failed to park message: %w", err)
	}

	h.logger.Warn("parked poison message",
		"originalQueue", originalQueue,
		"parkingQueue", h.parkingQueue,
		"reason", reason,
		"messageId", delivery.MessageId,
	)

	return delivery.Ack(false)
}
