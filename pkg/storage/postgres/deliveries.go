package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/resumeforge/dispatch/pkg/webhooks"
)

// selectDelivery is the shared column list for delivery scans. Every query
// that feeds scanDelivery must keep this column order.
const selectDelivery = `
	SELECT id, subscription_id, event_type, entity_id, payload, status,
	       attempt_count, max_attempts, http_status, response_body,
	       error_message, response_time_ms, next_retry_at, claimed_until,
	       created_at, last_attempt_at, completed_at
	FROM webhook_deliveries`

// DeliveryStore is the PostgreSQL implementation of webhooks.DeliveryStore.
// Claims and outcome writes run on the primary; delivery history and
// statistics reads go to a replica because they tolerate replication lag.
type DeliveryStore struct {
	cm *ConnectionManager
}

// NewDeliveryStore creates the store and ensures its schema exists. The
// webhook_subscriptions table must already exist for the foreign key, so
// construct the subscription store first.
func NewDeliveryStore(cm *ConnectionManager) (*DeliveryStore, error) {
	s := &DeliveryStore{cm: cm}
	if err := s.ensureTable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DeliveryStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id UUID PRIMARY KEY,
		subscription_id UUID NOT NULL REFERENCES webhook_subscriptions(id) ON DELETE CASCADE,
		event_type VARCHAR(100) NOT NULL,
		entity_id VARCHAR(255) NOT NULL,
		payload JSONB NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		http_status INTEGER NOT NULL DEFAULT 0,
		response_body TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP WITH TIME ZONE,
		claimed_until TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_attempt_at TIMESTAMP WITH TIME ZONE,
		completed_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_subscription
		ON webhook_deliveries(subscription_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_pending
		ON webhook_deliveries(created_at) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_retrying
		ON webhook_deliveries(next_retry_at) WHERE status = 'retrying';
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_completed
		ON webhook_deliveries(completed_at) WHERE status IN ('success', 'failed');
	`

	if _, err := s.cm.Primary().Exec(query); err != nil {
		return fmt.Errorf("failed to create webhook_deliveries table: %w", err)
	}

	return nil
}

// CreateBatch inserts every event in one transaction so a partial fan-out is
// never observable.
func (s *DeliveryStore) CreateBatch(ctx context.Context, events []*webhooks.DeliveryEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO webhook_deliveries (
			id, subscription_id, event_type, entity_id, payload, status,
			attempt_count, max_attempts, http_status, response_body,
			error_message, response_time_ms, next_retry_at, claimed_until,
			created_at, last_attempt_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	for _, event := range events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for delivery %s: %w", event.ID, err)
		}

		_, err = tx.ExecContext(ctx, query,
			event.ID, event.SubscriptionID, string(event.EventType), event.EntityID,
			payload, string(event.Status),
			event.AttemptCount, event.MaxAttempts, event.HTTPStatus, event.ResponseBody,
			event.ErrorMessage, event.ResponseTimeMS, event.NextRetryAt, event.ClaimedUntil,
			event.CreatedAt, event.LastAttemptAt, event.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert delivery %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery batch: %w", err)
	}

	return nil
}

// Get fetches one delivery event by id.
func (s *DeliveryStore) Get(ctx context.Context, id string) (*webhooks.DeliveryEvent, error) {
	row := s.cm.Primary().QueryRowContext(ctx, selectDelivery+` WHERE id = $1`, id)

	event, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, webhooks.ErrDeliveryNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}

	return event, nil
}

// ClaimPending atomically claims up to limit pending events, oldest first.
// FOR UPDATE SKIP LOCKED keeps concurrent workers from fighting over rows,
// and the lease keeps a crashed worker's claims from sticking forever.
func (s *DeliveryStore) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*webhooks.DeliveryEvent, error) {
	query := `
		UPDATE webhook_deliveries
		SET claimed_until = NOW() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'pending'
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subscription_id, event_type, entity_id, payload, status,
		          attempt_count, max_attempts, http_status, response_body,
		          error_message, response_time_ms, next_retry_at, claimed_until,
		          created_at, last_attempt_at, completed_at`

	return s.claim(ctx, query, limit, lease)
}

// ClaimDueRetries atomically claims up to limit retrying events whose
// next_retry_at has passed, most overdue first.
func (s *DeliveryStore) ClaimDueRetries(ctx context.Context, limit int, lease time.Duration) ([]*webhooks.DeliveryEvent, error) {
	query := `
		UPDATE webhook_deliveries
		SET claimed_until = NOW() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'retrying'
			  AND next_retry_at <= NOW()
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY next_retry_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subscription_id, event_type, entity_id, payload, status,
		          attempt_count, max_attempts, http_status, response_body,
		          error_message, response_time_ms, next_retry_at, claimed_until,
		          created_at, last_attempt_at, completed_at`

	return s.claim(ctx, query, limit, lease)
}

func (s *DeliveryStore) claim(ctx context.Context, query string, limit int, lease time.Duration) ([]*webhooks.DeliveryEvent, error) {
	rows, err := s.cm.Primary().QueryContext(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// ReleaseClaim makes a claimed event immediately eligible again without
// recording an attempt.
func (s *DeliveryStore) ReleaseClaim(ctx context.Context, id string) error {
	result, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE webhook_deliveries SET claimed_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check release result: %w", err)
	}
	if rows == 0 {
		return webhooks.ErrDeliveryNotFound
	}

	return nil
}

// RecordOutcome applies one attempt outcome to the event and the owning
// subscription's statistics in a single transaction. Terminal events are
// refused so a duplicate claim can never double-count an attempt.
func (s *DeliveryStore) RecordOutcome(ctx context.Context, id string, outcome webhooks.AttemptOutcome) error {
	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectDelivery+` WHERE id = $1 FOR UPDATE`, id)
	event, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return webhooks.ErrDeliveryNotFound
	} else if err != nil {
		return fmt.Errorf("failed to lock delivery: %w", err)
	}

	if event.Status.Terminal() {
		return fmt.Errorf("delivery %s is already terminal", id)
	}

	now := time.Now().UTC()
	event.ApplyAttempt(outcome, now)

	updateQuery := `
		UPDATE webhook_deliveries
		SET status = $2, attempt_count = $3, http_status = $4, response_body = $5,
		    error_message = $6, response_time_ms = $7, next_retry_at = $8,
		    claimed_until = NULL, last_attempt_at = $9, completed_at = $10
		WHERE id = $1`

	_, err = tx.ExecContext(ctx, updateQuery,
		event.ID, string(event.Status), event.AttemptCount, event.HTTPStatus,
		event.ResponseBody, event.ErrorMessage, event.ResponseTimeMS,
		event.NextRetryAt, event.LastAttemptAt, event.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}

	statsQuery := `
		UPDATE webhook_subscriptions
		SET total_deliveries = total_deliveries + 1,
		    failed_deliveries = failed_deliveries + 1,
		    last_delivery_at = $2, last_failure_at = $2, updated_at = $2
		WHERE id = $1`
	if outcome.Success {
		statsQuery = `
		UPDATE webhook_subscriptions
		SET total_deliveries = total_deliveries + 1,
		    successful_deliveries = successful_deliveries + 1,
		    last_delivery_at = $2, last_success_at = $2, updated_at = $2
		WHERE id = $1`
	}

	if _, err := tx.ExecContext(ctx, statsQuery, event.SubscriptionID, now); err != nil {
		return fmt.Errorf("failed to update subscription statistics: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery outcome: %w", err)
	}

	return nil
}

// ListBySubscription returns a subscription's deliveries newest first. An
// empty status matches all statuses. Served from a replica.
func (s *DeliveryStore) ListBySubscription(ctx context.Context, subscriptionID string, status webhooks.DeliveryStatus, limit, offset int) ([]*webhooks.DeliveryEvent, error) {
	query := selectDelivery + ` WHERE subscription_id = $1`
	args := []interface{}{subscriptionID}

	if status != "" {
		query += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(status))
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.cm.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// CountByStatus returns per-status delivery counts for a subscription.
// Served from a replica.
func (s *DeliveryStore) CountByStatus(ctx context.Context, subscriptionID string) (map[webhooks.DeliveryStatus]int64, error) {
	rows, err := s.cm.Replica().QueryContext(ctx,
		`SELECT status, COUNT(*) FROM webhook_deliveries WHERE subscription_id = $1 GROUP BY status`,
		subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	defer rows.Close()

	counts := make(map[webhooks.DeliveryStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan delivery count: %w", err)
		}
		counts[webhooks.DeliveryStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read delivery counts: %w", err)
	}

	return counts, nil
}

// FetchArchivable returns terminal events completed before the cutoff, oldest
// first. Runs on the primary so the janitor never re-archives rows a lagging
// replica still shows.
func (s *DeliveryStore) FetchArchivable(ctx context.Context, before time.Time, limit int) ([]*webhooks.DeliveryEvent, error) {
	query := selectDelivery + `
		WHERE status IN ('success', 'failed') AND completed_at < $1
		ORDER BY completed_at
		LIMIT $2`

	rows, err := s.cm.Primary().QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archivable deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// DeleteByIDs removes events by id and reports how many went away.
func (s *DeliveryStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := s.cm.Primary().ExecContext(ctx,
		`DELETE FROM webhook_deliveries WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete deliveries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check delete result: %w", err)
	}

	return rows, nil
}

func scanDelivery(row rowScanner) (*webhooks.DeliveryEvent, error) {
	var event webhooks.DeliveryEvent
	var eventType string
	var status string
	var payload []byte

	err := row.Scan(
		&event.ID, &event.SubscriptionID, &eventType, &event.EntityID,
		&payload, &status,
		&event.AttemptCount, &event.MaxAttempts, &event.HTTPStatus,
		&event.ResponseBody, &event.ErrorMessage, &event.ResponseTimeMS,
		&event.NextRetryAt, &event.ClaimedUntil,
		&event.CreatedAt, &event.LastAttemptAt, &event.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	event.EventType = webhooks.EventType(eventType)
	event.Status = webhooks.DeliveryStatus(status)

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for delivery %s: %w", event.ID, err)
		}
	}

	return &event, nil
}

func collectDeliveries(rows *sql.Rows) ([]*webhooks.DeliveryEvent, error) {
	var events []*webhooks.DeliveryEvent

	for rows.Next() {
		event, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deliveries: %w", err)
	}

	return events, nil
}
