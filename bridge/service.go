package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
)

// Typed request helpers. These are what resolver-level code calls: they hide
// correlation ids, queues, and acknowledgment behind a synchronous-looking
// call that submits, awaits, and asserts the response type.

// AwaitTyped waits for the handle and asserts the concrete response type.
// When ctx carries no deadline the bridge's request timeout applies. A wait
// abandoned by ctx cancels the pending entry locally; the remote worker is
// unaffected.
func AwaitTyped[T contracts.Response](ctx context.Context, b *Bridge, handle *CompletionHandle) (T, error) {
	var zero T

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.requestTimeout)
		defer cancel()
	}

	resp, err := handle.Await(ctx)
	if err != nil {
		b.Cancel(handle.ID())
		return zero, fmt.Errorf("awaiting ml response %s: %w", handle.ID(), err)
	}

	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type for request %s: got %T", handle.ID(), resp)
	}
	return typed, nil
}

// ExtractEvents runs NLP event extraction over free-form user input.
func (b *Bridge) ExtractEvents(ctx context.Context, userID, input, intent string) (*contracts.NLPResponse, error) {
	handle, err := b.Submit(ctx, contracts.NewNLPRequest(userID, input, intent))
	if err != nil {
		return nil, err
	}
	return AwaitTyped[*contracts.NLPResponse](ctx, b, handle)
}

// ClassifyEvent asks the workers to classify a single calendar event.
func (b *Bridge) ClassifyEvent(ctx context.Context, userID, eventID, title, description string, start, end time.Time) (*contracts.EventClassificationResponse, error) {
	req := contracts.NewEventClassificationRequest(userID, eventID, title)
	req.Description = description
	req.StartTime = start
	req.EndTime = end

	handle, err := b.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return AwaitTyped[*contracts.EventClassificationResponse](ctx, b, handle)
}

// OptimizeSchedule asks the workers to propose schedule changes for a range.
func (b *Bridge) OptimizeSchedule(ctx context.Context, userID string, start, end time.Time, optimizationType string) (*contracts.ScheduleOptimizationResponse, error) {
	req := contracts.NewScheduleOptimizationRequest(userID, start, end)
	req.OptimizationType = optimizationType

	handle, err := b.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return AwaitTyped[*contracts.ScheduleOptimizationResponse](ctx, b, handle)
}
