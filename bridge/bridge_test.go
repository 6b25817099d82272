package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
	"github.com/dentalking/geulpi-calendar-ai-sub003/messaging"
	"github.com/dentalking/geulpi-calendar-ai-sub003/serialization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishRequest(ctx context.Context, req contracts.Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *mockPublisher) PublishResponse(ctx context.Context, resp contracts.Response) error {
	args := m.Called(ctx, resp)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) Subscribe(ctx context.Context, queue string, handler messaging.DeliveryHandler) error {
	args := m.Called(ctx, queue, handler)
	return args.Error(0)
}

func (m *mockSubscriber) Unsubscribe(queue string) error {
	args := m.Called(queue)
	return args.Error(0)
}

func (m *mockSubscriber) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeDelivery records which settlement path the handler chose.
type fakeDelivery struct {
	body        []byte
	correlation string
	redelivered int

	acked      bool
	retried    bool
	parked     bool
	parkReason string
}

func (d *fakeDelivery) Body() []byte          { return d.body }
func (d *fakeDelivery) CorrelationID() string { return d.correlation }
func (d *fakeDelivery) RedeliveryCount() int  { return d.redelivered }

func (d *fakeDelivery) Ack() error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Retry() error {
	d.retried = true
	return nil
}

func (d *fakeDelivery) Park(ctx context.Context, reason string) error {
	d.parked = true
	d.parkReason = reason
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(t *testing.T, opts ...BridgeOption) (*Bridge, *mockPublisher, *mockSubscriber) {
	t.Helper()

	pub := &mockPublisher{}
	sub := &mockSubscriber{}

	opts = append([]BridgeOption{WithBridgeLogger(quietLogger())}, opts...)
	b, err := NewBridge(pub, sub, opts...)
	require.NoError(t, err)
	return b, pub, sub
}

func encodeResponse(t *testing.T, resp contracts.Response) []byte {
	t.Helper()

	data, err := serialization.NewJSONSerializer(nil).Serialize(resp)
	require.NoError(t, err)
	return data
}

func TestNewBridge(t *testing.T) {
	t.Run("rejects nil publisher", func(t *testing.T) {
		_, err := NewBridge(nil, &mockSubscriber{})
		assert.Error(t, err)
	})

	t.Run("rejects nil subscriber", func(t *testing.T) {
		_, err := NewBridge(&mockPublisher{}, nil)
		assert.Error(t, err)
	})
}

func TestBridgeStart(t *testing.T) {
	t.Run("subscribes to response and error log queues", func(t *testing.T) {
		b, _, sub := newTestBridge(t,
			WithResponseQueue("ml.responses"),
			WithErrorLogQueue("ml.errors"),
		)

		sub.On("Subscribe", mock.Anything, "ml.responses", mock.Anything).Return(nil)
		sub.On("Subscribe", mock.Anything, "ml.errors", mock.Anything).Return(nil)
		sub.On("Unsubscribe", "ml.responses").Return(nil)
		sub.On("Unsubscribe", "ml.errors").Return(nil)

		require.NoError(t, b.Start(context.Background()))
		assert.Error(t, b.Start(context.Background()), "second start must fail")

		require.NoError(t, b.Close())
		sub.AssertExpectations(t)
	})

	t.Run("rolls back the response subscription when the error log subscribe fails", func(t *testing.T) {
		b, _, sub := newTestBridge(t)

		sub.On("Subscribe", mock.Anything, "ml.responses", mock.Anything).Return(nil)
		sub.On("Subscribe", mock.Anything, "ml.errors", mock.Anything).Return(errors.New("queue missing"))
		sub.On("Unsubscribe", "ml.responses").Return(nil)

		assert.Error(t, b.Start(context.Background()))
		sub.AssertExpectations(t)
	})
}

func TestBridgeSubmit(t *testing.T) {
	t.Run("stamps a fresh correlation id and registers before publishing", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)

		var observedPending int
		pub.On("PublishRequest", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			// The entry must already be registered while the publish is in
			// flight, or a zero-latency response could find nothing to resolve.
			observedPending = b.PendingRequestCount()
		}).Return(nil)

		req := contracts.NewNLPRequest("user-1", "lunch with Kim tomorrow", "CREATE_EVENT")
		originalID := req.GetID()

		handle, err := b.Submit(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, 1, observedPending)
		assert.NotEqual(t, originalID, handle.ID())
		assert.Equal(t, handle.ID(), req.GetID())
		assert.Equal(t, StatePending, handle.State())
		assert.Equal(t, 1, b.PendingRequestCount())
	})

	t.Run("zero latency response resolves the handle", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)

		pub.On("PublishRequest", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			req := args.Get(1).(contracts.Request)
			resp := &contracts.NLPResponse{
				BaseResponse: contracts.NewBaseResponse(contracts.TypeNLPResponse, req.GetID(), contracts.StatusSuccess),
			}
			d := &fakeDelivery{body: encodeResponse(t, resp)}
			require.NoError(t, b.handleResponse(context.Background(), d))
			assert.True(t, d.acked)
		}).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "dinner friday", ""))
		require.NoError(t, err)

		assert.Equal(t, StateCompleted, handle.State())
		assert.Equal(t, 0, b.PendingRequestCount())
	})

	t.Run("publish failure rolls back the registration and fails the handle", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)

		cause := errors.New("broker unreachable")
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(cause)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "gym at 7", ""))
		require.Error(t, err)

		var subErr *SubmissionError
		require.ErrorAs(t, err, &subErr)
		assert.Equal(t, handle.ID(), subErr.RequestID)
		assert.ErrorIs(t, err, cause)

		assert.Equal(t, StateFailed, handle.State())
		assert.Equal(t, 0, b.PendingRequestCount())

		// A response for the rolled-back id is an orphan, not a resolution.
		resp := successResponse(handle.ID())
		d := &fakeDelivery{body: encodeResponse(t, resp)}
		require.NoError(t, b.handleResponse(context.Background(), d))
		assert.True(t, d.acked)
	})

	t.Run("rejects submits while the registry is full", func(t *testing.T) {
		b, pub, _ := newTestBridge(t, WithMaxPendingRequests(1))

		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		_, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "first", ""))
		require.NoError(t, err)

		_, err = b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "second", ""))
		assert.ErrorIs(t, err, ErrTooManyPending)
	})

	t.Run("rejects a nil request", func(t *testing.T) {
		b, _, _ := newTestBridge(t)
		_, err := b.Submit(context.Background(), nil)
		assert.Error(t, err)
	})
}

func TestBridgeCancel(t *testing.T) {
	b, pub, _ := newTestBridge(t)
	pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

	handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "haircut", ""))
	require.NoError(t, err)

	assert.True(t, b.Cancel(handle.ID()))
	assert.Equal(t, StateCancelled, handle.State())
	assert.Equal(t, 0, b.PendingRequestCount())

	assert.False(t, b.Cancel(handle.ID()), "second cancel finds nothing")
}

func TestBridgeHandleResponse(t *testing.T) {
	t.Run("acks and resolves a pending request", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "standup at 10", ""))
		require.NoError(t, err)

		resp := successResponse(handle.ID())
		d := &fakeDelivery{body: encodeResponse(t, resp)}
		require.NoError(t, b.handleResponse(context.Background(), d))

		assert.True(t, d.acked)
		assert.Equal(t, StateCompleted, handle.State())

		got, handleErr, resolved := handle.Result()
		require.True(t, resolved)
		assert.NoError(t, handleErr)
		assert.Equal(t, handle.ID(), got.GetID())
	})

	t.Run("acks a duplicate delivery without double resolution", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "review PR", ""))
		require.NoError(t, err)

		body := encodeResponse(t, successResponse(handle.ID()))

		first := &fakeDelivery{body: body}
		require.NoError(t, b.handleResponse(context.Background(), first))
		assert.True(t, first.acked)

		second := &fakeDelivery{body: body, redelivered: 1}
		require.NoError(t, b.handleResponse(context.Background(), second))
		assert.True(t, second.acked)
		assert.False(t, second.retried)
	})

	t.Run("acks an orphan response", func(t *testing.T) {
		b, _, _ := newTestBridge(t)

		d := &fakeDelivery{body: encodeResponse(t, successResponse("never-submitted"))}
		require.NoError(t, b.handleResponse(context.Background(), d))

		assert.True(t, d.acked)
		assert.False(t, d.retried)
		assert.False(t, d.parked)
	})

	t.Run("failed worker response resolves the handle with the response", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "parse this", ""))
		require.NoError(t, err)

		resp := &contracts.NLPResponse{
			BaseResponse: contracts.BaseResponse{
				RequestID: handle.ID(),
				Type:      contracts.TypeNLPResponse,
				Status:    contracts.StatusFailed,
				Error:     "model unavailable",
				Timestamp: time.Now().UTC(),
			},
		}
		d := &fakeDelivery{body: encodeResponse(t, resp)}
		require.NoError(t, b.handleResponse(context.Background(), d))

		assert.True(t, d.acked)
		got, handleErr, resolved := handle.Result()
		require.True(t, resolved)
		assert.NoError(t, handleErr, "worker failure is a completed exchange, not a bridge error")
		assert.False(t, got.Succeeded())
		assert.EqualError(t, got.Err(), "model unavailable")
	})

	t.Run("retries a malformed response inside the redelivery budget", func(t *testing.T) {
		b, _, _ := newTestBridge(t, WithMaxRedeliveries(3))

		d := &fakeDelivery{body: []byte("not json"), redelivered: 0}
		require.NoError(t, b.handleResponse(context.Background(), d))

		assert.True(t, d.retried)
		assert.False(t, d.acked)
		assert.False(t, d.parked)
	})

	t.Run("parks a malformed response once the budget is spent", func(t *testing.T) {
		b, _, _ := newTestBridge(t, WithMaxRedeliveries(3))

		d := &fakeDelivery{body: []byte("not json"), correlation: "poison-1", redelivered: 3}
		require.NoError(t, b.handleResponse(context.Background(), d))

		assert.True(t, d.parked)
		assert.NotEmpty(t, d.parkReason)
		assert.False(t, d.retried)
	})

	t.Run("parks a response of an unregistered type once the budget is spent", func(t *testing.T) {
		b, _, _ := newTestBridge(t, WithMaxRedeliveries(2))

		body := []byte(`{"id":"e-1","type":"UNKNOWN_RESPONSE","body":{}}`)
		d := &fakeDelivery{body: body, redelivered: 2}
		require.NoError(t, b.handleResponse(context.Background(), d))

		assert.True(t, d.parked)
	})

	t.Run("retries a response missing its correlation id", func(t *testing.T) {
		b, _, _ := newTestBridge(t)

		resp := successResponse("")
		d := &fakeDelivery{body: encodeResponse(t, resp)}
		require.NoError(t, b.handleResponse(context.Background(), d))

		assert.True(t, d.retried)
	})
}

func TestBridgeHandleErrorLog(t *testing.T) {
	b, _, _ := newTestBridge(t)

	d := &fakeDelivery{body: []byte("worker crashed: OOM"), correlation: "worker-3"}
	require.NoError(t, b.handleErrorLog(context.Background(), d))
	assert.True(t, d.acked)
}

func TestBridgeSweep(t *testing.T) {
	t.Run("fails pending requests past the timeout", func(t *testing.T) {
		b, pub, _ := newTestBridge(t, WithRequestTimeout(100*time.Millisecond))
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "slow request", ""))
		require.NoError(t, err)
		handle.submittedAt = time.Now().Add(-time.Second)

		timedOut, stale := b.Sweep()
		assert.Equal(t, 1, timedOut)
		assert.Equal(t, 0, stale)
		assert.Equal(t, 0, b.PendingRequestCount())

		_, handleErr, resolved := handle.Result()
		require.True(t, resolved)
		var timeoutErr *TimeoutError
		require.ErrorAs(t, handleErr, &timeoutErr)
		assert.Equal(t, handle.ID(), timeoutErr.RequestID)

		// The evicted id is gone: a late response is an orphan.
		d := &fakeDelivery{body: encodeResponse(t, successResponse(handle.ID()))}
		require.NoError(t, b.handleResponse(context.Background(), d))
		assert.True(t, d.acked)
		assert.Equal(t, StateFailed, handle.State())
	})

	t.Run("leaves fresh pending requests alone", func(t *testing.T) {
		b, pub, _ := newTestBridge(t, WithRequestTimeout(time.Minute))
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		_, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "fresh", ""))
		require.NoError(t, err)

		timedOut, stale := b.Sweep()
		assert.Equal(t, 0, timedOut)
		assert.Equal(t, 0, stale)
		assert.Equal(t, 1, b.PendingRequestCount())
	})

	t.Run("drops entries whose handle already resolved", func(t *testing.T) {
		b, pub, _ := newTestBridge(t, WithRequestTimeout(time.Minute))
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "resolved out of band", ""))
		require.NoError(t, err)
		handle.cancel()

		timedOut, stale := b.Sweep()
		assert.Equal(t, 0, timedOut)
		assert.Equal(t, 1, stale)
		assert.Equal(t, 0, b.PendingRequestCount())
	})
}

func TestBridgeClose(t *testing.T) {
	b, pub, sub := newTestBridge(t)

	sub.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sub.On("Unsubscribe", mock.Anything).Return(nil)
	pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, b.Start(context.Background()))

	handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "in flight", ""))
	require.NoError(t, err)

	require.NoError(t, b.Close())

	assert.Equal(t, StateCancelled, handle.State())
	assert.Equal(t, 0, b.PendingRequestCount())
	sub.AssertCalled(t, "Unsubscribe", "ml.responses")
	sub.AssertCalled(t, "Unsubscribe", "ml.errors")

	assert.NoError(t, b.Close(), "close is idempotent")
}
