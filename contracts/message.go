package contracts

import (
	"time"
)

// Message is the base interface for everything that travels over the broker.
type Message interface {
	GetID() string
	GetType() string
	GetTimestamp() time.Time
}

// Request is an ML task sent to the worker pool. GetID returns the request
// id, which doubles as the correlation id for the eventual response.
type Request interface {
	Message
	GetUserID() string
	SetRequestID(id string)
}

// Response is a worker result consumed from the response queue. GetID
// returns the request id of the request this response answers.
type Response interface {
	Message
	GetStatus() Status
	Succeeded() bool
	Err() error
}

// Status is the worker-reported outcome of a request.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusPartial Status = "PARTIAL"
)
