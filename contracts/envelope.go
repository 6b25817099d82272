package contracts

import (
	"encoding/json"
)

// Envelope wraps a request or response for transport. CorrelationID carries
// the request id of the message inside Body; consumers route on it without
// having to decode the body first.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     string          `json:"timestamp"`
	Headers       map[string]any  `json:"headers,omitempty"`
	Body          json.RawMessage `json:"body"`
}
