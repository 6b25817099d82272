package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/reliability"
	"github.com/dentalking/geulpi-calendar-ai-sub003/messaging"
	"github.com/dentalking/geulpi-calendar-ai-sub003/serialization"
	"github.com/google/uuid"
)

// Bridge correlates outbound ML requests with inbound responses. One bridge
// owns one registry, one response-queue subscription, one error-log
// subscription, and one sweeper goroutine.
type Bridge struct {
	publisher  messaging.Publisher
	subscriber messaging.Subscriber
	serializer *serialization.JSONSerializer
	registry   *Registry
	logger     *slog.Logger

	circuitBreaker *reliability.CircuitBreaker
	retryPolicy    reliability.RetryPolicy

	responseQueue   string
	errorLogQueue   string
	requestTimeout  time.Duration
	sweepInterval   time.Duration
	maxPending      int
	maxRedeliveries int

	ticker    *time.Ticker
	done      chan struct{}
	started   bool
	mu        sync.Mutex
	closeOnce sync.Once
}

// BridgeOption configures the bridge
type BridgeOption func(*Bridge)

// WithResponseQueue sets the queue responses are consumed from
func WithResponseQueue(queue string) BridgeOption {
	return func(b *Bridge) {
		b.responseQueue = queue
	}
}

// WithErrorLogQueue sets the queue worker error logs are consumed from
func WithErrorLogQueue(queue string) BridgeOption {
	return func(b *Bridge) {
		b.errorLogQueue = queue
	}
}

// WithRequestTimeout sets the budget after which a pending request is
// failed by the sweeper
func WithRequestTimeout(timeout time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.requestTimeout = timeout
	}
}

// WithSweepInterval sets how often the sweeper runs
func WithSweepInterval(interval time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.sweepInterval = interval
	}
}

// WithMaxPendingRequests caps concurrent in-flight requests
func WithMaxPendingRequests(max int) BridgeOption {
	return func(b *Bridge) {
		b.maxPending = max
	}
}

// WithMaxRedeliveries caps how often a malformed response cycles through
// redelivery before it is parked
func WithMaxRedeliveries(max int) BridgeOption {
	return func(b *Bridge) {
		b.maxRedeliveries = max
	}
}

// WithBridgeCircuitBreaker guards the publish path with a circuit breaker
func WithBridgeCircuitBreaker(cb *reliability.CircuitBreaker) BridgeOption {
	return func(b *Bridge) {
		b.circuitBreaker = cb
	}
}

// WithBridgeRetryPolicy retries failed publishes before giving up
func WithBridgeRetryPolicy(policy reliability.RetryPolicy) BridgeOption {
	return func(b *Bridge) {
		b.retryPolicy = policy
	}
}

// WithBridgeLogger sets the logger
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithBridgeSerializer sets the serializer used to decode responses
func WithBridgeSerializer(serializer *serialization.JSONSerializer) BridgeOption {
	return func(b *Bridge) {
		b.serializer = serializer
	}
}

// NewBridge creates a bridge. Call Start before submitting requests.
func NewBridge(publisher messaging.Publisher, subscriber messaging.Subscriber, opts ...BridgeOption) (*Bridge, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber cannot be nil")
	}

	b := &Bridge{
		publisher:       publisher,
		subscriber:      subscriber,
		serializer:      serialization.NewJSONSerializer(nil),
		registry:        NewRegistry(),
		logger:          slog.Default(),
		responseQueue:   "ml.responses",
		errorLogQueue:   "ml.errors",
		requestTimeout:  30 * time.Second,
		sweepInterval:   30 * time.Second,
		maxPending:      1000,
		maxRedeliveries: 3,
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Start subscribes to the response and error-log queues and starts the
// sweeper. It must be called exactly once.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("bridge already started")
	}

	if err := b.subscriber.Subscribe(ctx, b.responseQueue, b.handleResponse); err != nil {
		return fmt.Errorf("failed to subscribe to response queue: %w", err)
	}

	if err := b.subscriber.Subscribe(ctx, b.errorLogQueue, b.handleErrorLog); err != nil {
		b.subscriber.Unsubscribe(b.responseQueue)
		return fmt.Errorf("failed to subscribe to error log queue: %w", err)
	}

	b.ticker = time.NewTicker(b.sweepInterval)
	go b.sweepLoop()

	b.started = true
	b.logger.Info("ml bridge started",
		"responseQueue", b.responseQueue,
		"errorLogQueue", b.errorLogQueue,
		"requestTimeout", b.requestTimeout,
		"sweepInterval", b.sweepInterval,
	)
	return nil
}

// Submit registers the request under a fresh correlation id and publishes
// it. Registration happens before the publish so a response arriving
// immediately cannot miss the registry entry. If the publish fails the
// entry is rolled back and the returned handle is already failed with a
// SubmissionError.
func (b *Bridge) Submit(ctx context.Context, req contracts.Request) (*CompletionHandle, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if b.registry.Len() >= b.maxPending {
		return nil, ErrTooManyPending
	}

	correlationID := uuid.New().String()
	req.SetRequestID(correlationID)

	handle := newHandle(correlationID)
	if err := b.registry.Register(handle); err != nil {
		return nil, err
	}

	if err := b.publish(ctx, req); err != nil {
		b.registry.Remove(correlationID)
		subErr := &SubmissionError{
			RequestID:   correlationID,
			RequestType: req.GetType(),
			Err:         err,
		}
		handle.fail(subErr)
		b.logger.Error("ml request submission failed",
			"requestId", correlationID,
			"requestType", req.GetType(),
			"error", err,
		)
		return handle, subErr
	}

	b.logger.Debug("ml request submitted",
		"requestId", correlationID,
		"requestType", req.GetType(),
	)
	return handle, nil
}

// publish runs the publisher through the configured retry policy and
// circuit breaker.
func (b *Bridge) publish(ctx context.Context, req contracts.Request) error {
	publishFn := func() error {
		return b.publisher.PublishRequest(ctx, req)
	}

	attempt := func() error {
		if b.retryPolicy != nil {
			return reliability.Retry(ctx, b.retryPolicy, publishFn)
		}
		return publishFn()
	}

	if b.circuitBreaker != nil {
		return b.circuitBreaker.Execute(ctx, attempt)
	}
	return attempt()
}

// Cancel abandons a pending request: the registry entry is removed and the
// handle resolves Cancelled. The remote computation is not affected; a
// response that arrives later is treated as an orphan. Returns false if the
// id was no longer pending.
func (b *Bridge) Cancel(correlationID string) bool {
	handle := b.registry.Remove(correlationID)
	if handle == nil {
		return false
	}
	handle.cancel()
	b.logger.Debug("ml request cancelled", "requestId", correlationID)
	return true
}

// PendingRequestCount returns the number of in-flight requests.
func (b *Bridge) PendingRequestCount() int {
	return b.registry.Len()
}

// handleResponse consumes the response queue. Decision table:
// resolved entry -> ack; orphan -> warn and ack; undecodable -> retry until
// the redelivery budget is spent, then park.
func (b *Bridge) handleResponse(ctx context.Context, d messaging.Delivery) error {
	envelope, err := b.serializer.DeserializeEnvelope(d.Body())
	if err != nil {
		return b.rejectMalformed(ctx, d, fmt.Errorf("undecodable envelope: %w", err))
	}

	msg, err := b.serializer.ExtractMessage(envelope)
	if err != nil {
		return b.rejectMalformed(ctx, d, fmt.Errorf("undecodable body for type %s: %w", envelope.Type, err))
	}

	resp, ok := msg.(contracts.Response)
	if !ok {
		return b.rejectMalformed(ctx, d, fmt.Errorf("message type %s is not a response", envelope.Type))
	}

	correlationID := envelope.CorrelationID
	if correlationID == "" {
		correlationID = resp.GetID()
	}
	if correlationID == "" {
		return b.rejectMalformed(ctx, d, fmt.Errorf("response missing correlation id"))
	}

	if b.registry.Complete(correlationID, resp) {
		b.logger.Debug("ml response resolved pending request",
			"requestId", correlationID,
			"status", resp.GetStatus(),
		)
	} else {
		// Already resolved, timed out, or submitted by another instance.
		// Not retryable: redelivery would find the same empty registry.
		b.logger.Warn("no pending request found for response",
			"requestId", correlationID,
			"status", resp.GetStatus(),
		)
	}
	return d.Ack()
}

// rejectMalformed settles a delivery that cannot be processed. Redelivery
// gives transient decode problems another chance; a message that keeps
// failing is parked so it stops cycling.
func (b *Bridge) rejectMalformed(ctx context.Context, d messaging.Delivery, cause error) error {
	count := d.RedeliveryCount()
	if count >= b.maxRedeliveries {
		b.logger.Error("parking malformed ml response",
			"correlationId", d.CorrelationID(),
			"redeliveries", count,
			"error", cause,
		)
		return d.Park(ctx, cause.Error())
	}

	b.logger.Error("malformed ml response, leaving for redelivery",
		"correlationId", d.CorrelationID(),
		"redeliveries", count,
		"error", cause,
	)
	return d.Retry()
}

// handleErrorLog consumes the worker error-log queue. Logging is best
// effort; the delivery is always acknowledged.
func (b *Bridge) handleErrorLog(ctx context.Context, d messaging.Delivery) error {
	b.logger.Error("ml worker reported error",
		"source", d.CorrelationID(),
		"message", string(d.Body()),
	)
	return d.Ack()
}

// sweepLoop runs Sweep on the configured interval until Close.
func (b *Bridge) sweepLoop() {
	for {
		select {
		case <-b.ticker.C:
			b.Sweep()
		case <-b.done:
			return
		}
	}
}

// Sweep evicts registry entries in two passes: pending entries past the
// request timeout are failed with a TimeoutError, and entries whose handle
// already resolved through a path that skipped removal are dropped.
func (b *Bridge) Sweep() (timedOut, stale int) {
	now := time.Now()

	expired := b.registry.Sweep(func(h *CompletionHandle) bool {
		return h.State() == StatePending && now.Sub(h.SubmittedAt()) > b.requestTimeout
	})
	for _, h := range expired {
		h.fail(&TimeoutError{RequestID: h.ID(), After: b.requestTimeout})
	}

	resolved := b.registry.Sweep(func(h *CompletionHandle) bool {
		return h.State() != StatePending
	})

	if len(expired) > 0 || len(resolved) > 0 {
		b.logger.Info("swept pending request registry",
			"timedOut", len(expired),
			"stale", len(resolved),
			"remaining", b.registry.Len(),
		)
	}
	return len(expired), len(resolved)
}

// Close stops the sweeper, cancels every pending request, and drops the
// queue subscriptions.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		if b.ticker != nil {
			b.ticker.Stop()
		}

		abandoned := b.registry.Sweep(func(*CompletionHandle) bool { return true })
		for _, h := range abandoned {
			h.cancel()
		}

		b.mu.Lock()
		started := b.started
		b.mu.Unlock()
		if started {
			if unsubErr := b.subscriber.Unsubscribe(b.responseQueue); unsubErr != nil {
				err = unsubErr
			}
			if unsubErr := b.subscriber.Unsubscribe(b.errorLogQueue); unsubErr != nil && err == nil {
				err = unsubErr
			}
		}

		b.logger.Info("ml bridge closed", "abandonedRequests", len(abandoned))
	})
	return err
}
