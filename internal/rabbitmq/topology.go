package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology is the set of exchanges, queues, and bindings to declare.
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// MLTopologyConfig names the broker resources of the ML exchange fabric.
type MLTopologyConfig struct {
	Exchange           string // direct exchange requests and responses flow through
	DeadLetterExchange string
	RequestQueue       string
	ResponseQueue      string
	ErrorLogQueue      string
	RetryQueue         string // responses park here between redeliveries
	ParkingQueue       string // exhausted poison responses end up here
	RetryDelayMillis   int32
}

// DefaultMLTopologyConfig returns the queue naming used by the calendar
// backend and the ML workers.
func DefaultMLTopologyConfig() MLTopologyConfig {
	return MLTopologyConfig{
		Exchange:           "geulpi.ml",
		DeadLetterExchange: "geulpi.ml.dlx",
		RequestQueue:       "ml.requests",
		ResponseQueue:      "ml.responses",
		ErrorLogQueue:      "ml.errors",
		RetryQueue:         "ml.responses.retry",
		ParkingQueue:       "ml.responses.parked",
		RetryDelayMillis:   5000,
	}
}

// MLTopology builds the declaration set for the ML fabric. A response nacked
// without requeue dead-letters into the retry queue, sits out the TTL, and is
// routed back onto the response queue with its x-death count incremented.
// That count is what lets the consumer cap redeliveries and park poison
// messages instead of cycling them forever.
func MLTopology(cfg MLTopologyConfig) Topology {
	return Topology{
		Exchanges: []ExchangeDeclaration{
			{Name: cfg.Exchange, Type: "direct", Durable: true},
			{Name: cfg.DeadLetterExchange, Type: "direct", Durable: true},
		},
		Queues: []QueueDeclaration{
			{Name: cfg.RequestQueue, Durable: true},
			{
				Name:    cfg.ResponseQueue,
				Durable: true,
				Arguments: amqp.Table{
					"x-dead-letter-exchange":    cfg.DeadLetterExchange,
					"x-dead-letter-routing-key": cfg.RetryQueue,
				},
			},
			{
				Name:    cfg.RetryQueue,
				Durable: true,
				Arguments: amqp.Table{
					"x-message-ttl":             cfg.RetryDelayMillis,
					"x-dead-letter-exchange":    cfg.Exchange,
					"x-dead-letter-routing-key": cfg.ResponseQueue,
				},
			},
			{Name: cfg.ErrorLogQueue, Durable: true},
			{Name: cfg.ParkingQueue, Durable: true},
		},
		Bindings: []Binding{
			{Queue: cfg.RequestQueue, Exchange: cfg.Exchange, RoutingKey: cfg.RequestQueue},
			{Queue: cfg.ResponseQueue, Exchange: cfg.Exchange, RoutingKey: cfg.ResponseQueue},
			{Queue: cfg.ErrorLogQueue, Exchange: cfg.Exchange, RoutingKey: cfg.ErrorLogQueue},
			{Queue: cfg.RetryQueue, Exchange: cfg.DeadLetterExchange, RoutingKey: cfg.RetryQueue},
			{Queue: cfg.ParkingQueue, Exchange: cfg.DeadLetterExchange, RoutingKey: cfg.ParkingQueue},
		},
	}
}

// TopologyManager declares broker topology through the channel pool.
type TopologyManager struct {
	pool *ChannelPool
}

// NewTopologyManager creates a topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// DeclareTopology declares every exchange, queue, and binding in order.
func (tm *TopologyManager) DeclareTopology(ctx context.Context, topology Topology) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		for _, exchange := range topology.Exchanges {
			if err := ch.ExchangeDeclare(
				exchange.Name,
				exchange.Type,
				exchange.Durable,
				exchange.AutoDelete,
				false,
				false,
				exchange.Arguments,
			); err != nil {
				return fmt.Errorf("failed to declare exchange %s: %w", exchange.Name, err)
			}
		}

		for _, queue := range topology.Queues {
			if _, err := ch.QueueDeclare(
				queue.Name,
				queue.Durable,
				queue.AutoDelete,
				queue.Exclusive,
				false,
				queue.Arguments,
			); err != nil {
				return fmt.Errorf("failed to declare queue %s: %w", queue.Name, err)
			}
		}

		for _, binding := range topology.Bindings {
			if err := ch.QueueBind(
				binding.Queue,
				binding.RoutingKey,
				binding.Exchange,
				false,
				binding.Arguments,
			); err != nil {
				return fmt.Errorf("failed to bind queue %s to exchange %s: %w",
					binding.Queue, binding.Exchange, err)
			}
		}

		return nil
	})
}
