package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Request type discriminators. These values appear in the envelope's type
// field and in the "type" property of the JSON body, and must match what the
// ML workers expect.
const (
	TypeNLPRequest                  = "NLP_REQUEST"
	TypeEventClassificationRequest  = "EVENT_CLASSIFICATION"
	TypeScheduleOptimizationRequest = "SCHEDULE_OPTIMIZATION"
)

// BaseRequest provides the fields common to all ML requests.
type BaseRequest struct {
	RequestID string    `json:"requestId"`
	Type      string    `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseRequest creates a base request with a generated request id and the
// current UTC time.
func NewBaseRequest(requestType, userID string) BaseRequest {
	return BaseRequest{
		RequestID: uuid.New().String(),
		Type:      requestType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// GetID returns the request id.
func (r BaseRequest) GetID() string {
	return r.RequestID
}

// GetType returns the request type discriminator.
func (r BaseRequest) GetType() string {
	return r.Type
}

// GetTimestamp returns the submission timestamp.
func (r BaseRequest) GetTimestamp() time.Time {
	return r.Timestamp
}

// GetUserID returns the id of the user the request is processed for.
func (r BaseRequest) GetUserID() string {
	return r.UserID
}

// SetRequestID overrides the generated request id. The bridge uses this to
// stamp the correlation id it tracks the request under.
func (r *BaseRequest) SetRequestID(id string) {
	r.RequestID = id
}

// NLPRequest asks the workers to extract calendar events from natural
// language input.
type NLPRequest struct {
	BaseRequest
	Input             string         `json:"input"`
	Intent            string         `json:"intent,omitempty"`
	ExtractedEntities map[string]any `json:"extractedEntities,omitempty"`
	Context           string         `json:"context,omitempty"`
}

// NewNLPRequest creates an NLP extraction request.
func NewNLPRequest(userID, input, intent string) *NLPRequest {
	return &NLPRequest{
		BaseRequest: NewBaseRequest(TypeNLPRequest, userID),
		Input:       input,
		Intent:      intent,
	}
}

// EventClassificationRequest asks the workers to assign a life area and tags
// to a single calendar event.
type EventClassificationRequest struct {
	BaseRequest
	EventID     string    `json:"eventId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// NewEventClassificationRequest creates a classification request for one event.
func NewEventClassificationRequest(userID, eventID, title string) *EventClassificationRequest {
	return &EventClassificationRequest{
		BaseRequest: NewBaseRequest(TypeEventClassificationRequest, userID),
		EventID:     eventID,
		Title:       title,
	}
}

// ScheduleOptimizationRequest asks the workers to propose schedule changes
// over a date range.
type ScheduleOptimizationRequest struct {
	BaseRequest
	StartDate        time.Time      `json:"startDate"`
	EndDate          time.Time      `json:"endDate"`
	OptimizationType string         `json:"optimizationType,omitempty"`
	Constraints      map[string]any `json:"constraints,omitempty"`
}

// NewScheduleOptimizationRequest creates an optimization request for a range.
func NewScheduleOptimizationRequest(userID string, start, end time.Time) *ScheduleOptimizationRequest {
	return &ScheduleOptimizationRequest{
		BaseRequest: NewBaseRequest(TypeScheduleOptimizationRequest, userID),
		StartDate:   start,
		EndDate:     end,
	}
}
