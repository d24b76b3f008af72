package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/resumeforge/dispatch/pkg/observability"
)

// Dispatcher fans domain events out into delivery events, one per matching
// active subscription.
type Dispatcher struct {
	subscriptions SubscriptionStore
	deliveries    DeliveryStore
	metrics       *observability.Metrics
}

// NewDispatcher creates a dispatcher over the given stores.
func NewDispatcher(subscriptions SubscriptionStore, deliveries DeliveryStore, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{subscriptions: subscriptions, deliveries: deliveries, metrics: metrics}
}

// TriggerEvent creates one pending delivery per active subscription that
// listens for eventType, scoped to ownerID when non-empty. The fan-out is
// atomic: either every matching subscription gets a delivery or none do.
// It returns the number of deliveries created; zero matches is a valid
// result. Delivery outcomes are never reported back to the producer.
func (d *Dispatcher) TriggerEvent(ctx context.Context, eventType EventType, entityID string, payload map[string]interface{}, ownerID string) (int, error) {
	if !eventType.Valid() {
		return 0, newValidationError("event_type", "unknown event type %q", string(eventType))
	}
	if entityID == "" {
		return 0, newValidationError("entity_id", "entity id is required")
	}

	subs, err := d.subscriptions.FindActiveForEvent(ctx, eventType, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to find subscriptions for %s: %w", eventType, err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	events := make([]*DeliveryEvent, 0, len(subs))
	for _, sub := range subs {
		events = append(events, &DeliveryEvent{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			EventType:      eventType,
			EntityID:       entityID,
			Payload:        payload,
			Status:         DeliveryStatusPending,
			// Policy is captured at fan-out time; later subscription
			// changes never alter already-created deliveries.
			MaxAttempts: sub.MaxAttempts,
			CreatedAt:   now,
		})
	}

	if err := d.deliveries.CreateBatch(ctx, events); err != nil {
		return 0, fmt.Errorf("failed to create deliveries for %s: %w", eventType, err)
	}

	d.metrics.EventsDispatchedTotal.WithLabelValues(string(eventType)).Add(float64(len(events)))
	return len(events), nil
}
