package messaging

import (
	"fmt"
	"log/slog"
	"time"

	"context"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/rabbitmq"
	"github.com/dentalking/geulpi-calendar-ai-sub003/serialization"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MLPublisher wraps requests and responses in envelopes and publishes them
// to the ML exchange with broker confirms.
type MLPublisher struct {
	publisher       *rabbitmq.Publisher
	serializer      serialization.MessageSerializer
	exchange        string
	requestRouting  string
	responseRouting string
	logger          *slog.Logger
}

// MLPublisherOption configures the publisher
type MLPublisherOption func(*MLPublisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) MLPublisherOption {
	return func(p *MLPublisher) {
		p.logger = logger
	}
}

// WithPublisherSerializer sets the serializer
func WithPublisherSerializer(serializer serialization.MessageSerializer) MLPublisherOption {
	return func(p *MLPublisher) {
		p.serializer = serializer
	}
}

// NewMLPublisher creates a publisher for the given ML topology
func NewMLPublisher(publisher *rabbitmq.Publisher, topo rabbitmq.MLTopologyConfig, options ...MLPublisherOption) *MLPublisher {
	p := &MLPublisher{
		publisher:       publisher,
		serializer:      serialization.NewJSONSerializer(nil),
		exchange:        topo.Exchange,
		requestRouting:  topo.RequestQueue,
		responseRouting: topo.ResponseQueue,
		logger:          slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// PublishRequest sends a request to the ML request queue
func (p *MLPublisher) PublishRequest(ctx context.Context, req contracts.Request) error {
	if req == nil {
		return fmt.Errorf("request cannot be nil")
	}
	if err := p.publish(ctx, p.requestRouting, req); err != nil {
		return err
	}
	p.logger.Debug("published ml request",
		"requestId", req.GetID(),
		"requestType", req.GetType(),
		"routingKey", p.requestRouting,
	)
	return nil
}

// PublishResponse sends a response to the response queue
func (p *MLPublisher) PublishResponse(ctx context.Context, resp contracts.Response) error {
	if resp == nil {
		return fmt.Errorf("response cannot be nil")
	}
	if err := p.publish(ctx, p.responseRouting, resp); err != nil {
		return err
	}
	p.logger.Debug("published ml response",
		"requestId", resp.GetID(),
		"status", resp.GetStatus(),
		"routingKey", p.responseRouting,
	)
	return nil
}

func (p *MLPublisher) publish(ctx context.Context, routingKey string, msg contracts.Message) error {
	data, err := p.serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", msg.GetType(), err)
	}

	return p.publisher.Publish(ctx, p.exchange, routingKey, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.GetID(),
		CorrelationId: msg.GetID(),
		Type:          msg.GetType(),
		Timestamp:     time.Now().UTC(),
		Body:          data,
	})
}

// Close releases publisher resources
func (p *MLPublisher) Close() error {
	return nil
}
