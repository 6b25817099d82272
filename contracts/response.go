package contracts

import (
	"errors"
	"time"
)

// Response type discriminators.
const (
	TypeNLPResponse                  = "NLP_RESPONSE"
	TypeEventClassificationResponse  = "EVENT_CLASSIFICATION_RESPONSE"
	TypeScheduleOptimizationResponse = "SCHEDULE_OPTIMIZATION_RESPONSE"
)

// BaseResponse provides the fields common to all ML responses. RequestID
// echoes the id of the request being answered.
type BaseResponse struct {
	RequestID string    `json:"requestId"`
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseResponse creates a base response answering the given request id.
func NewBaseResponse(responseType, requestID string, status Status) BaseResponse {
	return BaseResponse{
		RequestID: requestID,
		Type:      responseType,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// GetID returns the request id this response answers.
func (r BaseResponse) GetID() string {
	return r.RequestID
}

// GetType returns the response type discriminator.
func (r BaseResponse) GetType() string {
	return r.Type
}

// GetTimestamp returns the time the worker produced the response.
func (r BaseResponse) GetTimestamp() time.Time {
	return r.Timestamp
}

// GetStatus returns the worker-reported status.
func (r BaseResponse) GetStatus() Status {
	return r.Status
}

// Succeeded reports whether the worker completed the request. PARTIAL counts
// as success: the worker produced a usable, if incomplete, result.
func (r BaseResponse) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusPartial
}

// Err returns the worker error for failed responses, nil otherwise.
func (r BaseResponse) Err() error {
	if r.Succeeded() {
		return nil
	}
	if r.Error != "" {
		return errors.New(r.Error)
	}
	if r.Message != "" {
		return errors.New(r.Message)
	}
	return errors.New("ml request failed")
}

// EventData is a calendar event proposed by the NLP extractor.
type EventData struct {
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	AllDay       bool      `json:"allDay,omitempty"`
	LifeAreaID   string    `json:"lifeAreaId,omitempty"`
	AIConfidence float64   `json:"aiConfidence,omitempty"`
	Attendees    []string  `json:"attendees,omitempty"`
	Location     string    `json:"location,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Color        string    `json:"color,omitempty"`
}

// EventUpdate is a field-level update to an existing event proposed by the
// NLP extractor.
type EventUpdate struct {
	EventID string         `json:"eventId"`
	Updates map[string]any `json:"updates"`
}

// EventChange is a single change proposed by the schedule optimizer.
type EventChange struct {
	EventID      string    `json:"eventId"`
	ChangeType   string    `json:"changeType"` // RESCHEDULE, DELETE, MERGE
	NewStartTime time.Time `json:"newStartTime,omitempty"`
	NewEndTime   time.Time `json:"newEndTime,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// NLPResponse carries the result of natural language event extraction.
type NLPResponse struct {
	BaseResponse
	SuggestedEvents []EventData    `json:"suggestedEvents,omitempty"`
	EventUpdates    []EventUpdate  `json:"eventUpdates,omitempty"`
	Confidence      float64        `json:"confidence,omitempty"`
	AdditionalData  map[string]any `json:"additionalData,omitempty"`
}

// EventClassificationResponse carries the result of classifying one event.
type EventClassificationResponse struct {
	BaseResponse
	EventID       string   `json:"eventId"`
	LifeAreaID    string   `json:"lifeAreaId,omitempty"`
	Confidence    float64  `json:"confidence,omitempty"`
	SuggestedTags []string `json:"suggestedTags,omitempty"`
	BalanceImpact float64  `json:"balanceImpact,omitempty"`
}

// ScheduleOptimizationResponse carries the optimizer's proposed changes.
type ScheduleOptimizationResponse struct {
	BaseResponse
	ProposedChanges   []EventChange      `json:"proposedChanges,omitempty"`
	OptimizationScore float64            `json:"optimizationScore,omitempty"`
	BalanceScores     map[string]float64 `json:"balanceScores,omitempty"`
}
