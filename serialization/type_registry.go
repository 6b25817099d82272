package serialization

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
)

// TypeRegistry maps wire type discriminators to concrete message types so
// the consumer can decode a response body into the right Go struct.
type TypeRegistry interface {
	// Register registers a message type under a type name
	Register(typeName string, msgType contracts.Message) error

	// Get retrieves the type for a given type name
	Get(typeName string) (reflect.Type, error)

	// CreateInstance creates a new pointer instance of the registered type
	CreateInstance(typeName string) (contracts.Message, error)

	// IsRegistered checks if a type name is registered
	IsRegistered(typeName string) bool

	// ListTypes returns all registered type names
	ListTypes() []string
}

// DefaultTypeRegistry is the default implementation of TypeRegistry
type DefaultTypeRegistry struct {
	types map[string]reflect.Type
	mu    sync.RWMutex
}

// NewTypeRegistry creates an empty type registry
func NewTypeRegistry() *DefaultTypeRegistry {
	return &DefaultTypeRegistry{
		types: make(map[string]reflect.Type),
	}
}

// NewMLTypeRegistry creates a registry pre-populated with the request and
// response types the ML workers speak.
func NewMLTypeRegistry() *DefaultTypeRegistry {
	r := NewTypeRegistry()
	r.Register(contracts.TypeNLPRequest, &contracts.NLPRequest{})
	r.Register(contracts.TypeEventClassificationRequest, &contracts.EventClassificationRequest{})
	r.Register(contracts.TypeScheduleOptimizationRequest, &contracts.ScheduleOptimizationRequest{})
	r.Register(contracts.TypeNLPResponse, &contracts.NLPResponse{})
	r.Register(contracts.TypeEventClassificationResponse, &contracts.EventClassificationResponse{})
	r.Register(contracts.TypeScheduleOptimizationResponse, &contracts.ScheduleOptimizationResponse{})
	return r
}

// Register registers a message type under a type name
func (r *DefaultTypeRegistry) Register(typeName string, msgType contracts.Message) error {
	if typeName == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if msgType == nil {
		return fmt.Errorf("message type cannot be nil")
	}

	t := reflect.TypeOf(msgType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("message type must be a struct, got %v", t.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.types[typeName]; exists {
		if existing == t {
			return nil
		}
		return fmt.Errorf("type name %s already registered to %v", typeName, existing)
	}

	r.types[typeName] = t
	return nil
}

// Get retrieves the type for a given type name
func (r *DefaultTypeRegistry) Get(typeName string) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.types[typeName]
	if !exists {
		return nil, fmt.Errorf("type %s not registered", typeName)
	}
	return t, nil
}

// CreateInstance creates a new pointer instance of the registered type
func (r *DefaultTypeRegistry) CreateInstance(typeName string) (contracts.Message, error) {
	t, err := r.Get(typeName)
	if err != nil {
		return nil, err
	}

	instance, ok := reflect.New(t).Interface().(contracts.Message)
	if !ok {
		return nil, fmt.Errorf("type %s does not implement contracts.Message", typeName)
	}
	return instance, nil
}

// IsRegistered checks if a type name is registered
func (r *DefaultTypeRegistry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.types[typeName]
	return exists
}

// ListTypes returns all registered type names
func (r *DefaultTypeRegistry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for typeName := range r.types {
		types = append(types, typeName)
	}
	return types
}
