package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/resumeforge/dispatch/pkg/webhooks"
)

// selectSubscription is the shared column list for subscription scans. Every
// query that feeds scanSubscription must keep this column order.
const selectSubscription = `
	SELECT id, owner_id, url, description, events, secret, active,
	       timeout_seconds, max_attempts,
	       total_deliveries, successful_deliveries, failed_deliveries,
	       last_delivery_at, last_success_at, last_failure_at,
	       created_at, updated_at
	FROM webhook_subscriptions`

// SubscriptionStore is the PostgreSQL implementation of
// webhooks.SubscriptionStore. All queries run against the primary: owners
// read their own writes, and event fan-out must see fresh active flags.
type SubscriptionStore struct {
	cm *ConnectionManager
}

// NewSubscriptionStore creates the store and ensures its schema exists.
func NewSubscriptionStore(cm *ConnectionManager) (*SubscriptionStore, error) {
	s := &SubscriptionStore{cm: cm}
	if err := s.ensureTable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SubscriptionStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		url TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		events TEXT[] NOT NULL,
		secret VARCHAR(64) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		total_deliveries BIGINT NOT NULL DEFAULT 0,
		successful_deliveries BIGINT NOT NULL DEFAULT 0,
		failed_deliveries BIGINT NOT NULL DEFAULT 0,
		last_delivery_at TIMESTAMP WITH TIME ZONE,
		last_success_at TIMESTAMP WITH TIME ZONE,
		last_failure_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_owner_id
		ON webhook_subscriptions(owner_id);
	CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_active
		ON webhook_subscriptions(active);
	CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_events
		ON webhook_subscriptions USING GIN (events);
	`

	if _, err := s.cm.Primary().Exec(query); err != nil {
		return fmt.Errorf("failed to create webhook_subscriptions table: %w", err)
	}

	return nil
}

// Create persists a new subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub *webhooks.WebhookSubscription) error {
	query := `
		INSERT INTO webhook_subscriptions (
			id, owner_id, url, description, events, secret, active,
			timeout_seconds, max_attempts,
			total_deliveries, successful_deliveries, failed_deliveries,
			last_delivery_at, last_success_at, last_failure_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.cm.Primary().ExecContext(ctx, query,
		sub.ID, sub.OwnerID, sub.URL, sub.Description,
		pq.Array(eventTypeStrings(sub.Events)), sub.Secret, sub.Active,
		sub.TimeoutSeconds, sub.MaxAttempts,
		sub.TotalDeliveries, sub.SuccessfulDeliveries, sub.FailedDeliveries,
		sub.LastDeliveryAt, sub.LastSuccessAt, sub.LastFailureAt,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// Get fetches a subscription by id regardless of owner.
func (s *SubscriptionStore) Get(ctx context.Context, id string) (*webhooks.WebhookSubscription, error) {
	row := s.cm.Primary().QueryRowContext(ctx, selectSubscription+` WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, webhooks.ErrSubscriptionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// GetForOwner fetches a subscription only if it belongs to owner.
func (s *SubscriptionStore) GetForOwner(ctx context.Context, ownerID, id string) (*webhooks.WebhookSubscription, error) {
	row := s.cm.Primary().QueryRowContext(ctx,
		selectSubscription+` WHERE id = $1 AND owner_id = $2`, id, ownerID)

	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, webhooks.ErrSubscriptionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// Update persists the mutable fields of an existing subscription. Delivery
// statistics are owned by the delivery store and never written here.
func (s *SubscriptionStore) Update(ctx context.Context, sub *webhooks.WebhookSubscription) error {
	query := `
		UPDATE webhook_subscriptions
		SET url = $2, description = $3, events = $4, secret = $5, active = $6,
		    timeout_seconds = $7, max_attempts = $8, updated_at = $9
		WHERE id = $1`

	result, err := s.cm.Primary().ExecContext(ctx, query,
		sub.ID, sub.URL, sub.Description,
		pq.Array(eventTypeStrings(sub.Events)), sub.Secret, sub.Active,
		sub.TimeoutSeconds, sub.MaxAttempts, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return webhooks.ErrSubscriptionNotFound
	}

	return nil
}

// Delete removes an owner's subscription. Delivery rows go with it via the
// foreign key cascade.
func (s *SubscriptionStore) Delete(ctx context.Context, ownerID, id string) error {
	result, err := s.cm.Primary().ExecContext(ctx,
		`DELETE FROM webhook_subscriptions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return webhooks.ErrSubscriptionNotFound
	}

	return nil
}

// List returns an owner's subscriptions, newest first.
func (s *SubscriptionStore) List(ctx context.Context, ownerID string, activeOnly bool) ([]*webhooks.WebhookSubscription, error) {
	query := selectSubscription + ` WHERE owner_id = $1`
	if activeOnly {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.cm.Primary().QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// FindActiveForEvent returns active subscriptions whose event filter includes
// eventType. An empty ownerID fans out across all owners.
func (s *SubscriptionStore) FindActiveForEvent(ctx context.Context, eventType webhooks.EventType, ownerID string) ([]*webhooks.WebhookSubscription, error) {
	query := selectSubscription + ` WHERE active = TRUE AND events @> $1`
	args := []interface{}{pq.Array([]string{string(eventType)})}

	if ownerID != "" {
		query += ` AND owner_id = $2`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.cm.Primary().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscriptions for event: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*webhooks.WebhookSubscription, error) {
	var sub webhooks.WebhookSubscription
	var events pq.StringArray

	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.URL, &sub.Description, &events,
		&sub.Secret, &sub.Active, &sub.TimeoutSeconds, &sub.MaxAttempts,
		&sub.TotalDeliveries, &sub.SuccessfulDeliveries, &sub.FailedDeliveries,
		&sub.LastDeliveryAt, &sub.LastSuccessAt, &sub.LastFailureAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Events = eventTypesFromStrings(events)
	return &sub, nil
}

func collectSubscriptions(rows *sql.Rows) ([]*webhooks.WebhookSubscription, error) {
	var subs []*webhooks.WebhookSubscription

	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}

	return subs, nil
}

func eventTypeStrings(events []webhooks.EventType) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func eventTypesFromStrings(ss []string) []webhooks.EventType {
	out := make([]webhooks.EventType, len(ss))
	for i, s := range ss {
		out[i] = webhooks.EventType(s)
	}
	return out
}
