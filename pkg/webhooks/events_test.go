package webhooks

import "testing"

func TestEventTypeValid(t *testing.T) {
	if !EventResumeCreated.Valid() {
		t.Error("Expected resume.created to be valid")
	}
	if !EventUserPasswordChanged.Valid() {
		t.Error("Expected user.password_changed to be valid")
	}
	if EventType("order.created").Valid() {
		t.Error("Expected unknown event type to be invalid")
	}
	if EventType("").Valid() {
		t.Error("Expected empty event type to be invalid")
	}
}

func TestAllEventTypes(t *testing.T) {
	types := AllEventTypes()
	if len(types) != 11 {
		t.Fatalf("Expected 11 event types, got %d", len(types))
	}
	if types[0] != EventResumeCreated {
		t.Errorf("Expected catalog to start with %s, got %s", EventResumeCreated, types[0])
	}

	seen := make(map[EventType]bool)
	for _, e := range types {
		if !e.Valid() {
			t.Errorf("Catalog event %s is not valid", e)
		}
		if e.Description() == "" {
			t.Errorf("Catalog event %s has no description", e)
		}
		if seen[e] {
			t.Errorf("Catalog event %s appears twice", e)
		}
		seen[e] = true
	}
}

func TestEventTypeSet(t *testing.T) {
	set := NewEventTypeSet([]EventType{EventResumeCreated, EventExportFailed})

	if !set.Contains(EventResumeCreated) {
		t.Error("Expected set to contain resume.created")
	}
	if !set.Contains(EventExportFailed) {
		t.Error("Expected set to contain export.failed")
	}
	if set.Contains(EventResumeDeleted) {
		t.Error("Expected set not to contain resume.deleted")
	}

	empty := NewEventTypeSet(nil)
	if empty.Contains(EventResumeCreated) {
		t.Error("Expected empty set to contain nothing")
	}
}
