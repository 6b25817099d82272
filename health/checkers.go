package health

import (
	"context"
	"fmt"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/rabbitmq"
)

// BrokerChecker checks broker connectivity through the connection manager.
type BrokerChecker struct {
	manager *rabbitmq.ConnectionManager
}

// NewBrokerChecker creates a broker connectivity checker
func NewBrokerChecker(manager *rabbitmq.ConnectionManager) *BrokerChecker {
	return &BrokerChecker{manager: manager}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	conn, err := c.manager.GetConnection()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "broker connection unavailable"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = "broker connection is up"
	result.Details["connection_open"] = !conn.IsClosed()
	result.Duration = time.Since(start)
	return result
}

// QueueChecker verifies a queue exists and is not backing up.
type QueueChecker struct {
	queueName string
	pool      *rabbitmq.ChannelPool
	depthWarn int
}

// NewQueueChecker creates a queue checker that degrades above depthWarn
// messages
func NewQueueChecker(queueName string, pool *rabbitmq.ChannelPool, depthWarn int) *QueueChecker {
	if depthWarn <= 0 {
		depthWarn = 10000
	}
	return &QueueChecker{queueName: queueName, pool: pool, depthWarn: depthWarn}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "failed to get channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer c.pool.Put(ch)

	queue, err := ch.QueueInspect(c.queueName)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("queue %s not accessible", c.queueName)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("queue %s is accessible", c.queueName)
	if queue.Messages > c.depthWarn {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("queue %s is backing up", c.queueName)
	}
	result.Details["message_count"] = queue.Messages
	result.Details["consumer_count"] = queue.Consumers
	result.Duration = time.Since(start)
	return result
}

// PendingRequestsChecker watches the bridge's in-flight request count. A
// registry pinned at its cap means submits are being rejected.
type PendingRequestsChecker struct {
	counter  func() int
	warnAt   int
	rejectAt int
}

// NewPendingRequestsChecker creates a checker over the bridge's pending
// count. warnAt degrades the status; rejectAt marks it unhealthy.
func NewPendingRequestsChecker(counter func() int, warnAt, rejectAt int) *PendingRequestsChecker {
	return &PendingRequestsChecker{counter: counter, warnAt: warnAt, rejectAt: rejectAt}
}

func (c *PendingRequestsChecker) Name() string {
	return "pending_requests"
}

func (c *PendingRequestsChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	pending := c.counter()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Status:    StatusHealthy,
		Message:   "pending request registry is healthy",
		Details:   map[string]any{"pending": pending},
		Duration:  time.Since(start),
	}

	switch {
	case c.rejectAt > 0 && pending >= c.rejectAt:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("pending registry at capacity: %d", pending)
	case c.warnAt > 0 && pending >= c.warnAt:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("pending registry filling up: %d", pending)
	}
	return result
}
