package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAwaitTyped(t *testing.T) {
	t.Run("returns the typed response", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "dentist monday 9am", ""))
		require.NoError(t, err)

		resp := &contracts.NLPResponse{
			BaseResponse: contracts.NewBaseResponse(contracts.TypeNLPResponse, handle.ID(), contracts.StatusSuccess),
			Confidence:   0.93,
		}
		require.NoError(t, b.handleResponse(context.Background(), &fakeDelivery{body: encodeResponse(t, resp)}))

		got, err := AwaitTyped[*contracts.NLPResponse](context.Background(), b, handle)
		require.NoError(t, err)
		assert.Equal(t, handle.ID(), got.GetID())
		assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	})

	t.Run("rejects a response of the wrong concrete type", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "classify me", ""))
		require.NoError(t, err)

		resp := &contracts.EventClassificationResponse{
			BaseResponse: contracts.NewBaseResponse(contracts.TypeEventClassificationResponse, handle.ID(), contracts.StatusSuccess),
		}
		require.NoError(t, b.handleResponse(context.Background(), &fakeDelivery{body: encodeResponse(t, resp)}))

		_, err = AwaitTyped[*contracts.NLPResponse](context.Background(), b, handle)
		assert.ErrorContains(t, err, "unexpected response type")
	})

	t.Run("abandoning the wait cancels the pending entry", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "never answered", ""))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err = AwaitTyped[*contracts.NLPResponse](ctx, b, handle)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		assert.Equal(t, StateCancelled, handle.State())
		assert.Equal(t, 0, b.PendingRequestCount())
	})

	t.Run("applies the bridge request timeout when ctx has no deadline", func(t *testing.T) {
		b, pub, _ := newTestBridge(t, WithRequestTimeout(30*time.Millisecond))
		pub.On("PublishRequest", mock.Anything, mock.Anything).Return(nil)

		handle, err := b.Submit(context.Background(), contracts.NewNLPRequest("user-1", "never answered", ""))
		require.NoError(t, err)

		start := time.Now()
		_, err = AwaitTyped[*contracts.NLPResponse](context.Background(), b, handle)
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestTypedHelpers(t *testing.T) {
	answer := func(t *testing.T, b *Bridge, pub *mockPublisher, build func(requestID string) contracts.Response) {
		pub.On("PublishRequest", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			req := args.Get(1).(contracts.Request)
			body := encodeResponse(t, build(req.GetID()))
			_ = b.handleResponse(context.Background(), &fakeDelivery{body: body})
		}).Return(nil)
	}

	t.Run("ExtractEvents", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		answer(t, b, pub, func(requestID string) contracts.Response {
			return &contracts.NLPResponse{
				BaseResponse: contracts.NewBaseResponse(contracts.TypeNLPResponse, requestID, contracts.StatusSuccess),
				SuggestedEvents: []contracts.EventData{
					{Title: "Lunch with Kim"},
				},
			}
		})

		resp, err := b.ExtractEvents(context.Background(), "user-1", "lunch with Kim tomorrow", "CREATE_EVENT")
		require.NoError(t, err)
		require.Len(t, resp.SuggestedEvents, 1)
		assert.Equal(t, "Lunch with Kim", resp.SuggestedEvents[0].Title)
	})

	t.Run("ClassifyEvent", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		answer(t, b, pub, func(requestID string) contracts.Response {
			return &contracts.EventClassificationResponse{
				BaseResponse: contracts.NewBaseResponse(contracts.TypeEventClassificationResponse, requestID, contracts.StatusSuccess),
				EventID:      "event-9",
				LifeAreaID:   "work",
			}
		})

		start := time.Now()
		resp, err := b.ClassifyEvent(context.Background(), "user-1", "event-9", "Sprint review", "", start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "work", resp.LifeAreaID)
	})

	t.Run("OptimizeSchedule", func(t *testing.T) {
		b, pub, _ := newTestBridge(t)
		answer(t, b, pub, func(requestID string) contracts.Response {
			return &contracts.ScheduleOptimizationResponse{
				BaseResponse:      contracts.NewBaseResponse(contracts.TypeScheduleOptimizationResponse, requestID, contracts.StatusPartial),
				OptimizationScore: 0.7,
			}
		})

		now := time.Now()
		resp, err := b.OptimizeSchedule(context.Background(), "user-1", now, now.AddDate(0, 0, 7), "BALANCE")
		require.NoError(t, err)
		assert.True(t, resp.Succeeded(), "partial results are usable results")
	})
}
