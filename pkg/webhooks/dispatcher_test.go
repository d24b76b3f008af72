package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/resumeforge/dispatch/pkg/observability"
)

func newTestDispatcher(store *MemoryStore) (*Dispatcher, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewDispatcher(store.Subscriptions(), store.Deliveries(), metrics), metrics
}

func TestDispatcherTriggerEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedSubscription(t, store, "sub-1", "owner-1", true, EventResumeCreated)
	custom := seedSubscription(t, store, "sub-2", "owner-2", true, EventResumeCreated)
	custom.MaxAttempts = 7
	if err := store.Subscriptions().Update(ctx, custom); err != nil {
		t.Fatalf("Failed to update subscription: %v", err)
	}
	seedSubscription(t, store, "sub-paused", "owner-1", false, EventResumeCreated)
	seedSubscription(t, store, "sub-other", "owner-1", true, EventExportCompleted)

	dispatcher, metrics := newTestDispatcher(store)

	payload := map[string]interface{}{"title": "Senior Engineer"}
	created, err := dispatcher.TriggerEvent(ctx, EventResumeCreated, "resume-42", payload, "")
	if err != nil {
		t.Fatalf("Failed to trigger event: %v", err)
	}
	if created != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", created)
	}

	dispatched := testutil.ToFloat64(metrics.EventsDispatchedTotal.WithLabelValues("resume.created"))
	if dispatched != 2 {
		t.Errorf("Expected 2 dispatched events in metrics, got %v", dispatched)
	}

	for _, subID := range []string{"sub-1", "sub-2"} {
		events, err := store.Deliveries().ListBySubscription(ctx, subID, "", 10, 0)
		if err != nil {
			t.Fatalf("Failed to list deliveries: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("Expected 1 delivery for %s, got %d", subID, len(events))
		}
		event := events[0]
		if event.ID == "" {
			t.Error("Expected a generated delivery id")
		}
		if event.Status != DeliveryStatusPending {
			t.Errorf("Expected pending status, got %s", event.Status)
		}
		if event.EventType != EventResumeCreated || event.EntityID != "resume-42" {
			t.Errorf("Expected event fields to be copied, got %s/%s", event.EventType, event.EntityID)
		}
		if event.Payload["title"] != "Senior Engineer" {
			t.Error("Expected payload to be carried on the delivery")
		}
		if event.AttemptCount != 0 {
			t.Errorf("Expected no attempts yet, got %d", event.AttemptCount)
		}
	}

	t.Run("policy captured at fan-out", func(t *testing.T) {
		events, err := store.Deliveries().ListBySubscription(ctx, "sub-2", "", 10, 0)
		if err != nil {
			t.Fatalf("Failed to list deliveries: %v", err)
		}
		if events[0].MaxAttempts != 7 {
			t.Errorf("Expected the subscription's max attempts 7, got %d", events[0].MaxAttempts)
		}
	})

	t.Run("paused and unrelated subscriptions skipped", func(t *testing.T) {
		for _, subID := range []string{"sub-paused", "sub-other"} {
			events, err := store.Deliveries().ListBySubscription(ctx, subID, "", 10, 0)
			if err != nil {
				t.Fatalf("Failed to list deliveries: %v", err)
			}
			if len(events) != 0 {
				t.Errorf("Expected no deliveries for %s, got %d", subID, len(events))
			}
		}
	})
}

func TestDispatcherTriggerEventOwnerScope(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "owner-1", true, EventResumeCreated)
	seedSubscription(t, store, "sub-2", "owner-2", true, EventResumeCreated)

	dispatcher, _ := newTestDispatcher(store)

	created, err := dispatcher.TriggerEvent(ctx, EventResumeCreated, "resume-1", nil, "owner-2")
	if err != nil {
		t.Fatalf("Failed to trigger event: %v", err)
	}
	if created != 1 {
		t.Fatalf("Expected 1 delivery, got %d", created)
	}

	events, err := store.Deliveries().ListBySubscription(ctx, "sub-1", "", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list deliveries: %v", err)
	}
	if len(events) != 0 {
		t.Error("Expected owner-1's subscription to be out of scope")
	}
}

func TestDispatcherTriggerEventNoMatches(t *testing.T) {
	store := NewMemoryStore()
	dispatcher, _ := newTestDispatcher(store)

	created, err := dispatcher.TriggerEvent(context.Background(), EventResumeCreated, "resume-1", nil, "")
	if err != nil {
		t.Fatalf("Expected no error for zero matches, got %v", err)
	}
	if created != 0 {
		t.Errorf("Expected 0 deliveries, got %d", created)
	}
}

func TestDispatcherTriggerEventValidation(t *testing.T) {
	store := NewMemoryStore()
	dispatcher, _ := newTestDispatcher(store)
	ctx := context.Background()

	if _, err := dispatcher.TriggerEvent(ctx, "resume.exploded", "resume-1", nil, ""); !IsValidationError(err) {
		t.Errorf("Expected a validation error for an unknown event type, got %v", err)
	}
	if _, err := dispatcher.TriggerEvent(ctx, EventResumeCreated, "", nil, ""); !IsValidationError(err) {
		t.Errorf("Expected a validation error for an empty entity id, got %v", err)
	}
}

func TestDispatcherFanOutTimestamps(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedSubscription(t, store, "sub-1", "owner-1", true, EventResumeCreated)

	dispatcher, _ := newTestDispatcher(store)
	before := time.Now().UTC()
	if _, err := dispatcher.TriggerEvent(ctx, EventResumeCreated, "resume-1", nil, ""); err != nil {
		t.Fatalf("Failed to trigger event: %v", err)
	}

	events, err := store.Deliveries().ListBySubscription(ctx, "sub-1", "", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list deliveries: %v", err)
	}
	if events[0].CreatedAt.Before(before) || events[0].CreatedAt.After(time.Now().UTC()) {
		t.Error("Expected created_at to be stamped at fan-out time")
	}
}
