package webhooks

import (
	"context"
	"time"
)

// SubscriptionStore is the persistence surface for webhook subscriptions.
// Implementations must return ErrSubscriptionNotFound for missing rows.
type SubscriptionStore interface {
	// Create persists a new subscription.
	Create(ctx context.Context, sub *WebhookSubscription) error

	// Get fetches a subscription by id regardless of owner.
	Get(ctx context.Context, id string) (*WebhookSubscription, error)

	// GetForOwner fetches a subscription only if it belongs to owner.
	GetForOwner(ctx context.Context, ownerID, id string) (*WebhookSubscription, error)

	// Update persists the mutable fields of an existing subscription.
	Update(ctx context.Context, sub *WebhookSubscription) error

	// Delete removes an owner's subscription and cascades its deliveries.
	Delete(ctx context.Context, ownerID, id string) error

	// List returns an owner's subscriptions, optionally only active ones.
	List(ctx context.Context, ownerID string, activeOnly bool) ([]*WebhookSubscription, error)

	// FindActiveForEvent returns active subscriptions whose event filter
	// includes eventType. An empty ownerID means global fan-out.
	FindActiveForEvent(ctx context.Context, eventType EventType, ownerID string) ([]*WebhookSubscription, error)
}

// DeliveryStore is the persistence surface for delivery events.
type DeliveryStore interface {
	// CreateBatch inserts every event or none of them. Partial fan-out must
	// never be observable.
	CreateBatch(ctx context.Context, events []*DeliveryEvent) error

	// Get fetches one delivery event by id.
	Get(ctx context.Context, id string) (*DeliveryEvent, error)

	// ClaimPending atomically claims up to limit pending events, oldest
	// first, leasing each until now+lease. Claimed events are invisible to
	// other claimers until the lease expires or the claim is released.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*DeliveryEvent, error)

	// ClaimDueRetries atomically claims up to limit retrying events whose
	// next_retry_at has passed, ordered by next_retry_at.
	ClaimDueRetries(ctx context.Context, limit int, lease time.Duration) ([]*DeliveryEvent, error)

	// ReleaseClaim makes a claimed event immediately eligible again without
	// recording an attempt.
	ReleaseClaim(ctx context.Context, id string) error

	// RecordOutcome applies one attempt outcome to the event and the owning
	// subscription's statistics in a single atomic unit. It must leave both
	// untouched on error and must refuse to touch terminal events.
	RecordOutcome(ctx context.Context, id string, outcome AttemptOutcome) error

	// ListBySubscription returns a subscription's deliveries newest first.
	// An empty status matches all statuses.
	ListBySubscription(ctx context.Context, subscriptionID string, status DeliveryStatus, limit, offset int) ([]*DeliveryEvent, error)

	// CountByStatus returns per-status delivery counts for a subscription.
	CountByStatus(ctx context.Context, subscriptionID string) (map[DeliveryStatus]int64, error)

	// FetchArchivable returns terminal events completed before the cutoff,
	// oldest first, for retention processing.
	FetchArchivable(ctx context.Context, before time.Time, limit int) ([]*DeliveryEvent, error)

	// DeleteByIDs removes events by id and reports how many went away.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}
