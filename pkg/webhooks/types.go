package webhooks

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// DeliveryStatus represents the state of a delivery event.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

// Valid reports whether s is one of the known delivery statuses.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusRetrying, DeliveryStatusSuccess, DeliveryStatusFailed:
		return true
	}
	return false
}

// Subscription policy bounds. Timeout is the per-call HTTP budget in
// seconds; max attempts counts total attempts per event, not retries.
const (
	DefaultTimeoutSeconds = 30
	MinTimeoutSeconds     = 5
	MaxTimeoutSeconds     = 300

	DefaultMaxAttempts = 3
	MinMaxAttempts     = 1
	MaxMaxAttempts     = 10

	MaxURLLength         = 2000
	MaxDescriptionLength = 500
)

// Stored snippet caps. Bodies beyond the cap keep the leading bytes plus a
// truncation marker so operators can still see what the endpoint returned.
const (
	maxResponseBodyLength = 10000
	maxErrorMessageLength = 5000
	truncationSuffix      = "... (truncated)"
)

const secretByteLength = 32

// WebhookSubscription is one registered callback target with its delivery
// policy and aggregate statistics.
type WebhookSubscription struct {
	ID             string      `json:"id"`
	OwnerID        string      `json:"owner_id"`
	URL            string      `json:"url"`
	Description    string      `json:"description,omitempty"`
	Events         []EventType `json:"events"`
	Secret         string      `json:"secret,omitempty"`
	Active         bool        `json:"active"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	MaxAttempts    int         `json:"max_attempts"`

	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastDeliveryAt       *time.Time `json:"last_delivery_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventSet returns the subscription's event filter as a typed set.
func (s *WebhookSubscription) EventSet() EventTypeSet {
	return NewEventTypeSet(s.Events)
}

// Timeout returns the per-call timeout as a duration.
func (s *WebhookSubscription) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Clone returns a deep copy of the subscription.
func (s *WebhookSubscription) Clone() *WebhookSubscription {
	out := *s
	out.Events = append([]EventType(nil), s.Events...)
	out.LastDeliveryAt = copyTime(s.LastDeliveryAt)
	out.LastSuccessAt = copyTime(s.LastSuccessAt)
	out.LastFailureAt = copyTime(s.LastFailureAt)
	return &out
}

// Redacted returns a copy with the secret blanked for list/read responses.
func (s *WebhookSubscription) Redacted() *WebhookSubscription {
	out := s.Clone()
	out.Secret = ""
	return out
}

// DeliveryEvent is one fan-out instance of a domain event addressed to one
// subscription. The payload is immutable after creation; the status machine
// is pending -> retrying* -> success|failed.
type DeliveryEvent struct {
	ID             string                 `json:"id"`
	SubscriptionID string                 `json:"subscription_id"`
	EventType      EventType              `json:"event_type"`
	EntityID       string                 `json:"entity_id"`
	Payload        map[string]interface{} `json:"payload"`
	Status         DeliveryStatus         `json:"status"`
	AttemptCount   int                    `json:"attempt_count"`
	MaxAttempts    int                    `json:"max_attempts"`
	HTTPStatus     int                    `json:"http_status,omitempty"`
	ResponseBody   string                 `json:"response_body,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	ResponseTimeMS int64                  `json:"response_time_ms,omitempty"`
	NextRetryAt    *time.Time             `json:"next_retry_at,omitempty"`
	ClaimedUntil   *time.Time             `json:"-"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAttemptAt  *time.Time             `json:"last_attempt_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the delivery event.
func (e *DeliveryEvent) Clone() *DeliveryEvent {
	out := *e
	if e.Payload != nil {
		payload := make(map[string]interface{}, len(e.Payload))
		for k, v := range e.Payload {
			payload[k] = v
		}
		out.Payload = payload
	}
	out.NextRetryAt = copyTime(e.NextRetryAt)
	out.ClaimedUntil = copyTime(e.ClaimedUntil)
	out.LastAttemptAt = copyTime(e.LastAttemptAt)
	out.CompletedAt = copyTime(e.CompletedAt)
	return &out
}

// AttemptOutcome carries the observable result of one delivery attempt.
// NextRetryAt is the precomputed backoff target; it is only honored when the
// attempt fails short of the attempt budget.
type AttemptOutcome struct {
	Success        bool
	HTTPStatus     int
	ResponseBody   string
	ErrorMessage   string
	ResponseTimeMS int64
	NextRetryAt    *time.Time
}

// ApplyAttempt folds one attempt outcome into the event: bumps the attempt
// count, records the response snippet, and advances the status machine.
// Every attempt increments the count, successful ones included. Callers must
// not apply attempts to terminal events.
func (e *DeliveryEvent) ApplyAttempt(outcome AttemptOutcome, now time.Time) {
	e.AttemptCount++
	e.LastAttemptAt = &now
	e.HTTPStatus = outcome.HTTPStatus
	e.ResponseTimeMS = outcome.ResponseTimeMS
	e.ResponseBody = truncate(outcome.ResponseBody, maxResponseBodyLength)
	e.ErrorMessage = truncate(outcome.ErrorMessage, maxErrorMessageLength)

	switch {
	case outcome.Success:
		e.Status = DeliveryStatusSuccess
		e.CompletedAt = &now
		e.NextRetryAt = nil
	case e.AttemptCount >= e.MaxAttempts:
		e.Status = DeliveryStatusFailed
		e.CompletedAt = &now
		e.NextRetryAt = nil
	default:
		e.Status = DeliveryStatusRetrying
		e.NextRetryAt = outcome.NextRetryAt
	}
	e.ClaimedUntil = nil
}

// DeliveryStats summarizes per-status delivery counts for one subscription.
type DeliveryStats struct {
	Pending     int64   `json:"pending"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	Retrying    int64   `json:"retrying"`
	Total       int64   `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

// NewDeliveryStats builds the stats summary from per-status counts.
func NewDeliveryStats(counts map[DeliveryStatus]int64) DeliveryStats {
	stats := DeliveryStats{
		Pending:  counts[DeliveryStatusPending],
		Success:  counts[DeliveryStatusSuccess],
		Failed:   counts[DeliveryStatusFailed],
		Retrying: counts[DeliveryStatusRetrying],
	}
	stats.Total = stats.Pending + stats.Success + stats.Failed + stats.Retrying
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Success) / float64(stats.Total)
	}
	return stats
}

// GenerateSecret returns a new URL-safe random subscription secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + truncationSuffix
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
