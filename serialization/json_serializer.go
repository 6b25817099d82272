package serialization

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
	"github.com/google/uuid"
)

// MessageSerializer converts messages to and from transport envelopes.
type MessageSerializer interface {
	// Serialize wraps a message in an envelope and marshals it
	Serialize(msg contracts.Message) ([]byte, error)

	// Deserialize unmarshals an envelope and decodes the typed message inside
	Deserialize(data []byte) (contracts.Message, error)

	// DeserializeEnvelope unmarshals only the envelope, leaving the body raw
	DeserializeEnvelope(data []byte) (*contracts.Envelope, error)
}

// JSONSerializer implements MessageSerializer using JSON and a type registry.
type JSONSerializer struct {
	registry TypeRegistry
}

// NewJSONSerializer creates a serializer backed by the given registry. A nil
// registry gets the default ML type registry.
func NewJSONSerializer(registry TypeRegistry) *JSONSerializer {
	if registry == nil {
		registry = NewMLTypeRegistry()
	}
	return &JSONSerializer{registry: registry}
}

// Serialize wraps a message in an envelope and marshals it
func (s *JSONSerializer) Serialize(msg contracts.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	if !s.registry.IsRegistered(msg.GetType()) {
		return nil, fmt.Errorf("type %s not registered", msg.GetType())
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message body: %w", err)
	}

	envelope := &contracts.Envelope{
		ID:            uuid.New().String(),
		Type:          msg.GetType(),
		CorrelationID: msg.GetID(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Body:          body,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Deserialize unmarshals an envelope and decodes the typed message inside
func (s *JSONSerializer) Deserialize(data []byte) (contracts.Message, error) {
	envelope, err := s.DeserializeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return s.ExtractMessage(envelope)
}

// DeserializeEnvelope unmarshals only the envelope, leaving the body raw
func (s *JSONSerializer) DeserializeEnvelope(data []byte) (*contracts.Envelope, error) {
	var envelope contracts.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &envelope, nil
}

// ExtractMessage decodes the envelope body into the concrete type registered
// for the envelope's type discriminator.
func (s *JSONSerializer) ExtractMessage(envelope *contracts.Envelope) (contracts.Message, error) {
	if envelope == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}

	msg, err := s.registry.CreateInstance(envelope.Type)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(envelope.Body, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s body: %w", envelope.Type, err)
	}
	return msg, nil
}
