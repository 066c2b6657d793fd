package events

import (
	"reflect"
	"testing"

	"github.com/goliatone/go-oracle/core"
)

func TestRegistry_RoundTripsEveryEventType(t *testing.T) {
	registry := NewRegistry()
	samples := []Event{
		EscrowCreated{},
		EscrowCanceled{},
		TaskCreationFailed{Reason: "cvat unavailable"},
		EscrowCleaned{},
		TaskFinished{},
		TaskCompleted{},
		TaskRejected{RejectedJobIDs: []int64{3, 7}},
		EscrowCompleted{},
	}
	if len(samples) != len(registry.Types()) {
		t.Fatalf("expected a sample per registered type, have %d for %v", len(samples), registry.Types())
	}
	for _, sample := range samples {
		t.Run(sample.EventType(), func(t *testing.T) {
			payload, err := registry.Serialize(sample)
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			parsed, err := registry.Parse(sample.EventType(), payload)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !reflect.DeepEqual(parsed, sample) {
				t.Fatalf("round trip mismatch: %#v != %#v", parsed, sample)
			}
		})
	}
}

func TestRegistry_SerializeRefusesPayloadsParseWouldReject(t *testing.T) {
	registry := NewRegistry()
	tests := []struct {
		name  string
		event Event
		ok    bool
	}{
		{name: "zero task_rejected", event: TaskRejected{}},
		{name: "non positive job id", event: TaskRejected{RejectedJobIDs: []int64{4, 0}}},
		{name: "blank failure reason", event: TaskCreationFailed{Reason: "  "}},
		{name: "empty rejection list", event: TaskRejected{RejectedJobIDs: []int64{}}, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := registry.Serialize(tt.event)
			if !tt.ok {
				if !core.IsSchemaError(err) {
					t.Fatalf("expected schema error, got payload=%v err=%v", payload, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			if _, err := registry.Parse(tt.event.EventType(), payload); err != nil {
				t.Fatalf("parse: %v", err)
			}
		})
	}
}

func TestRegistry_RejectsUnknownAndExtraFields(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Parse("escrow_exploded", nil)
	if !core.IsUnknownEventTypeError(err) {
		t.Fatalf("expected unknown event type, got %v", err)
	}

	_, err = registry.Parse(TypeEscrowCreated, map[string]any{"surprise": true})
	if !core.IsSchemaError(err) {
		t.Fatalf("expected schema error for extra field, got %v", err)
	}

	_, err = registry.Parse(TypeTaskRejected, map[string]any{"rejected_job_ids": "1,2"})
	if !core.IsSchemaError(err) {
		t.Fatalf("expected schema error for wrong shape, got %v", err)
	}

	_, err = registry.Parse(TypeTaskCreationFailed, map[string]any{})
	if !core.IsSchemaError(err) {
		t.Fatalf("expected schema error for missing reason, got %v", err)
	}
}

func TestRegistry_ValidateChecksSenderRole(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Validate(core.RoleJobLauncher, TypeEscrowCreated, nil); err != nil {
		t.Fatalf("expected job launcher escrow_created to validate: %v", err)
	}
	err := registry.Validate(core.RoleRecordingOracle, TypeEscrowCreated, nil)
	if !core.IsValidationError(err) {
		t.Fatalf("expected validation error for wrong sender, got %v", err)
	}
	err = registry.Validate(core.RoleRecordingOracle, TypeTaskRejected, map[string]any{"rejected_job_ids": []any{float64(4)}})
	if err != nil {
		t.Fatalf("expected task_rejected to validate: %v", err)
	}
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(core.RoleJobLauncher, func() Event { return &EscrowCreated{} }); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if sender, ok := registry.Sender(TypeTaskFinished); !ok || sender != core.RoleExchangeOracle {
		t.Fatalf("expected exchange oracle sender, got %q", sender)
	}
}
