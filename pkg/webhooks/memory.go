package webhooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds subscriptions and delivery events in process memory
// behind a single lock, so RecordOutcome can update a delivery and its
// subscription's statistics as one atomic unit. The Subscriptions and
// Deliveries views satisfy the store interfaces. It backs unit tests and
// no-database deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*WebhookSubscription
	deliveries    map[string]*DeliveryEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*WebhookSubscription),
		deliveries:    make(map[string]*DeliveryEvent),
	}
}

// Subscriptions returns the SubscriptionStore view of the store.
func (m *MemoryStore) Subscriptions() SubscriptionStore {
	return memorySubscriptions{m}
}

// Deliveries returns the DeliveryStore view of the store.
func (m *MemoryStore) Deliveries() DeliveryStore {
	return memoryDeliveries{m}
}

// memorySubscriptions is the SubscriptionStore view over a MemoryStore.
// A separate view type keeps the two stores' Get methods from colliding.
type memorySubscriptions struct {
	*MemoryStore
}

// Create persists a new subscription.
func (m memorySubscriptions) Create(ctx context.Context, sub *WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[sub.ID]; exists {
		return fmt.Errorf("subscription %s already exists", sub.ID)
	}
	m.subscriptions[sub.ID] = sub.Clone()
	return nil
}

// Get fetches a subscription by id.
func (m memorySubscriptions) Get(ctx context.Context, id string) (*WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

// GetForOwner fetches a subscription only if it belongs to owner.
func (m memorySubscriptions) GetForOwner(ctx context.Context, ownerID, id string) (*WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[id]
	if !ok || sub.OwnerID != ownerID {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

// Update persists the mutable fields of an existing subscription.
func (m memorySubscriptions) Update(ctx context.Context, sub *WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.subscriptions[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	next := sub.Clone()
	// Statistics are owned by RecordOutcome, never by Update.
	next.TotalDeliveries = current.TotalDeliveries
	next.SuccessfulDeliveries = current.SuccessfulDeliveries
	next.FailedDeliveries = current.FailedDeliveries
	next.LastDeliveryAt = copyTime(current.LastDeliveryAt)
	next.LastSuccessAt = copyTime(current.LastSuccessAt)
	next.LastFailureAt = copyTime(current.LastFailureAt)
	m.subscriptions[sub.ID] = next
	return nil
}

// Delete removes an owner's subscription and cascades its deliveries.
func (m memorySubscriptions) Delete(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[id]
	if !ok || sub.OwnerID != ownerID {
		return ErrSubscriptionNotFound
	}
	delete(m.subscriptions, id)
	for deliveryID, delivery := range m.deliveries {
		if delivery.SubscriptionID == id {
			delete(m.deliveries, deliveryID)
		}
	}
	return nil
}

// List returns an owner's subscriptions, newest first.
func (m memorySubscriptions) List(ctx context.Context, ownerID string, activeOnly bool) ([]*WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WebhookSubscription
	for _, sub := range m.subscriptions {
		if sub.OwnerID != ownerID {
			continue
		}
		if activeOnly && !sub.Active {
			continue
		}
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// FindActiveForEvent returns active subscriptions matching eventType,
// optionally scoped to one owner.
func (m memorySubscriptions) FindActiveForEvent(ctx context.Context, eventType EventType, ownerID string) ([]*WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WebhookSubscription
	for _, sub := range m.subscriptions {
		if !sub.Active {
			continue
		}
		if ownerID != "" && sub.OwnerID != ownerID {
			continue
		}
		if !sub.EventSet().Contains(eventType) {
			continue
		}
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// memoryDeliveries is the DeliveryStore view over a MemoryStore.
type memoryDeliveries struct {
	*MemoryStore
}

// CreateBatch inserts every event or none of them.
func (m memoryDeliveries) CreateBatch(ctx context.Context, events []*DeliveryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, event := range events {
		if _, exists := m.deliveries[event.ID]; exists {
			return fmt.Errorf("delivery %s already exists", event.ID)
		}
	}
	for _, event := range events {
		m.deliveries[event.ID] = event.Clone()
	}
	return nil
}

// Get fetches one delivery event by id.
func (m memoryDeliveries) Get(ctx context.Context, id string) (*DeliveryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, ok := m.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return event.Clone(), nil
}

// ClaimPending claims up to limit pending events, oldest first.
func (m memoryDeliveries) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*DeliveryEvent, error) {
	return m.claim(limit, lease, func(e *DeliveryEvent, now time.Time) bool {
		return e.Status == DeliveryStatusPending
	}, func(a, b *DeliveryEvent) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// ClaimDueRetries claims up to limit retry-ready events ordered by
// next_retry_at.
func (m memoryDeliveries) ClaimDueRetries(ctx context.Context, limit int, lease time.Duration) ([]*DeliveryEvent, error) {
	return m.claim(limit, lease, func(e *DeliveryEvent, now time.Time) bool {
		return e.Status == DeliveryStatusRetrying &&
			e.NextRetryAt != nil && !e.NextRetryAt.After(now) &&
			e.AttemptCount < e.MaxAttempts
	}, func(a, b *DeliveryEvent) bool {
		return a.NextRetryAt.Before(*b.NextRetryAt)
	})
}

func (m *MemoryStore) claim(limit int, lease time.Duration, eligible func(*DeliveryEvent, time.Time) bool, less func(a, b *DeliveryEvent) bool) ([]*DeliveryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var due []*DeliveryEvent
	for _, event := range m.deliveries {
		if event.ClaimedUntil != nil && event.ClaimedUntil.After(now) {
			continue
		}
		if eligible(event, now) {
			due = append(due, event)
		}
	}
	sort.Slice(due, func(i, j int) bool { return less(due[i], due[j]) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimedUntil := now.Add(lease)
	out := make([]*DeliveryEvent, 0, len(due))
	for _, event := range due {
		event.ClaimedUntil = &claimedUntil
		out = append(out, event.Clone())
	}
	return out, nil
}

// ReleaseClaim makes a claimed event immediately eligible again.
func (m memoryDeliveries) ReleaseClaim(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	event.ClaimedUntil = nil
	return nil
}

// RecordOutcome applies one attempt to the event and the owning
// subscription's statistics atomically.
func (m memoryDeliveries) RecordOutcome(ctx context.Context, id string, outcome AttemptOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	if event.Status.Terminal() {
		return fmt.Errorf("delivery %s is already terminal", id)
	}

	now := time.Now()
	event.ApplyAttempt(outcome, now)

	if sub, ok := m.subscriptions[event.SubscriptionID]; ok {
		sub.TotalDeliveries++
		sub.LastDeliveryAt = &now
		if outcome.Success {
			sub.SuccessfulDeliveries++
			sub.LastSuccessAt = &now
		} else {
			sub.FailedDeliveries++
			sub.LastFailureAt = &now
		}
	}
	return nil
}

// ListBySubscription returns a subscription's deliveries newest first.
func (m memoryDeliveries) ListBySubscription(ctx context.Context, subscriptionID string, status DeliveryStatus, limit, offset int) ([]*DeliveryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DeliveryEvent
	for _, event := range m.deliveries {
		if event.SubscriptionID != subscriptionID {
			continue
		}
		if status != "" && event.Status != status {
			continue
		}
		out = append(out, event.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus returns per-status delivery counts for a subscription.
func (m memoryDeliveries) CountByStatus(ctx context.Context, subscriptionID string) (map[DeliveryStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[DeliveryStatus]int64)
	for _, event := range m.deliveries {
		if event.SubscriptionID == subscriptionID {
			counts[event.Status]++
		}
	}
	return counts, nil
}

// FetchArchivable returns terminal events completed before the cutoff,
// oldest first.
func (m memoryDeliveries) FetchArchivable(ctx context.Context, before time.Time, limit int) ([]*DeliveryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DeliveryEvent
	for _, event := range m.deliveries {
		if !event.Status.Terminal() || event.CompletedAt == nil {
			continue
		}
		if !event.CompletedAt.Before(before) {
			continue
		}
		out = append(out, event.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteByIDs removes events by id.
func (m memoryDeliveries) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if _, ok := m.deliveries[id]; ok {
			delete(m.deliveries, id)
			deleted++
		}
	}
	return deleted, nil
}
