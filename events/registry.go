package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-oracle/core"
)

type definition struct {
	sender  core.Role
	factory func() Event
}

type Registry struct {
	mu    sync.RWMutex
	types map[string]definition
}

// NewRegistry returns a registry preloaded with every oracle event.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	for _, def := range []struct {
		sender  core.Role
		factory func() Event
	}{
		{core.RoleJobLauncher, func() Event { return &EscrowCreated{} }},
		{core.RoleJobLauncher, func() Event { return &EscrowCanceled{} }},
		{core.RoleExchangeOracle, func() Event { return &TaskCreationFailed{} }},
		{core.RoleExchangeOracle, func() Event { return &EscrowCleaned{} }},
		{core.RoleExchangeOracle, func() Event { return &TaskFinished{} }},
		{core.RoleRecordingOracle, func() Event { return &TaskCompleted{} }},
		{core.RoleRecordingOracle, func() Event { return &TaskRejected{} }},
		{core.RoleReputationOracle, func() Event { return &EscrowCompleted{} }},
	} {
		if err := r.Register(def.sender, def.factory); err != nil {
			panic(err)
		}
	}
	return r
}

func NewEmptyRegistry() *Registry {
	return &Registry{types: make(map[string]definition)}
}

// Register binds the event produced by factory to the role allowed to emit it.
// factory must return a pointer so payloads can be decoded into it.
func (r *Registry) Register(sender core.Role, factory func() Event) error {
	if factory == nil {
		return fmt.Errorf("events: factory is required")
	}
	if !sender.Valid() {
		return fmt.Errorf("events: invalid sender role %q", sender)
	}
	sample := factory()
	if sample == nil {
		return fmt.Errorf("events: factory returned nil")
	}
	eventType := strings.TrimSpace(sample.EventType())
	if eventType == "" {
		return fmt.Errorf("events: event type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[eventType]; exists {
		return fmt.Errorf("events: event type already registered: %s", eventType)
	}
	r.types[eventType] = definition{sender: sender, factory: factory}
	return nil
}

// Sender returns the role allowed to emit eventType.
func (r *Registry) Sender(eventType string) (core.Role, bool) {
	def, ok := r.lookup(eventType)
	return def.sender, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for eventType := range r.types {
		out = append(out, eventType)
	}
	sort.Strings(out)
	return out
}

// Validate checks that sender may emit eventType and that payload matches
// the registered shape.
func (r *Registry) Validate(sender core.Role, eventType string, payload map[string]any) error {
	def, ok := r.lookup(eventType)
	if !ok {
		return core.NewUnknownEventTypeError(eventType)
	}
	if def.sender != sender {
		return core.NewValidationError(
			fmt.Sprintf("%s cannot emit %s", sender, eventType),
			goerrors.FieldError{Field: "event_type", Message: "event type not allowed for sender", Value: eventType},
		)
	}
	_, err := r.Parse(eventType, payload)
	return err
}

// ValidatePayload checks the payload shape only.
func (r *Registry) ValidatePayload(eventType string, payload map[string]any) error {
	_, err := r.Parse(eventType, payload)
	return err
}

// Parse strictly decodes payload into the typed event for eventType.
func (r *Registry) Parse(eventType string, payload map[string]any) (Event, error) {
	def, ok := r.lookup(eventType)
	if !ok {
		return nil, core.NewUnknownEventTypeError(eventType)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewSchemaError(eventType, goerrors.FieldError{Field: "event_data", Message: err.Error()})
	}
	event := def.factory()
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(event); err != nil {
		return nil, core.NewSchemaError(eventType, goerrors.FieldError{Field: "event_data", Message: err.Error()})
	}
	if checked, ok := event.(validatable); ok {
		if err := checked.validate(); err != nil {
			return nil, core.NewSchemaError(eventType, goerrors.FieldError{Field: "event_data", Message: err.Error()})
		}
	}
	return deref(event), nil
}

// Serialize turns a typed event into the generic payload map stored on a
// webhook row. It applies the same checks as Parse, so every payload it
// returns parses back.
func (r *Registry) Serialize(event Event) (map[string]any, error) {
	if event == nil {
		return nil, fmt.Errorf("events: event is required")
	}
	if _, ok := r.lookup(event.EventType()); !ok {
		return nil, core.NewUnknownEventTypeError(event.EventType())
	}
	if checked, ok := event.(validatable); ok {
		if err := checked.validate(); err != nil {
			return nil, core.NewSchemaError(event.EventType(), goerrors.FieldError{Field: "event_data", Message: err.Error()})
		}
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", event.EventType(), err)
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("events: unmarshal %s: %w", event.EventType(), err)
	}
	return payload, nil
}

func (r *Registry) lookup(eventType string) (definition, bool) {
	if r == nil {
		return definition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[strings.TrimSpace(eventType)]
	return def, ok
}

// deref returns events by value so callers can type switch on plain structs.
func deref(event Event) Event {
	switch typed := event.(type) {
	case *EscrowCreated:
		return *typed
	case *EscrowCanceled:
		return *typed
	case *TaskCreationFailed:
		return *typed
	case *EscrowCleaned:
		return *typed
	case *TaskFinished:
		return *typed
	case *TaskCompleted:
		return *typed
	case *TaskRejected:
		return *typed
	case *EscrowCompleted:
		return *typed
	default:
		return event
	}
}

var _ core.PayloadValidator = (*Registry)(nil)
