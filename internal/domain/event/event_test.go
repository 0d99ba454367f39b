package event

import (
	"testing"
	"time"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"requested", TypeApprovalRequested, true},
		{"step activated", TypeApprovalStepActivated, true},
		{"decided", TypeApprovalDecided, true},
		{"completed", TypeApprovalCompleted, true},
		{"cancelled", TypeApprovalCancelled, true},
		{"expired", TypeApprovalExpired, true},
		{"order transitioned", TypeOrderTransitioned, true},
		{"unknown", Type("unknown.type"), false},
		{"empty", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(TypeApprovalCompleted, "req-1", "PO-7", map[string]interface{}{
		"final_decision": "approved",
	})

	if event.ID == "" || event.CorrelationID == "" {
		t.Fatal("event and correlation ids should be generated")
	}
	if event.ID == event.CorrelationID {
		t.Error("event id and correlation id should differ")
	}
	if event.AggregateID != "req-1" || event.ObjectID != "PO-7" {
		t.Errorf("unexpected ids: %s %s", event.AggregateID, event.ObjectID)
	}
	if event.GetPayloadString("final_decision") != "approved" {
		t.Errorf("payload final_decision = %v", event.Payload["final_decision"])
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("Event Timestamp should be recent")
	}
}

func TestNewEvent_NilPayload(t *testing.T) {
	event := NewEvent(TypeApprovalRequested, "req-1", "", nil)
	if event.Payload == nil {
		t.Fatal("payload should be initialised")
	}
}

func TestNewEventWithCorrelation(t *testing.T) {
	event := NewEventWithCorrelation(TypeOrderTransitioned, "PO-1", "PO-1", nil, "corr-1")
	if event.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %v, want corr-1", event.CorrelationID)
	}
}

func TestEvent_PayloadAccessors(t *testing.T) {
	event := NewEvent(TypeApprovalStepActivated, "req-1", "", map[string]interface{}{
		"approvers": []interface{}{"a", 3, "b"},
		"typed":     []string{"x"},
		"step_id":   "s1",
	})

	if got := event.GetPayloadStrings("approvers"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("GetPayloadStrings() = %v", got)
	}
	if got := event.GetPayloadStrings("typed"); len(got) != 1 || got[0] != "x" {
		t.Errorf("GetPayloadStrings() = %v", got)
	}
	if got := event.GetPayloadStrings("step_id"); got != nil {
		t.Errorf("GetPayloadStrings() on a string = %v, want nil", got)
	}
	if event.GetPayloadString("missing") != "" {
		t.Error("missing key should be empty")
	}
}
