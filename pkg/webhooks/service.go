package webhooks

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// RegisterRequest carries the fields for registering a subscription.
type RegisterRequest struct {
	URL            string      `json:"url"`
	Events         []EventType `json:"events"`
	Description    string      `json:"description,omitempty"`
	TimeoutSeconds int         `json:"timeout_seconds,omitempty"`
	MaxAttempts    int         `json:"max_attempts,omitempty"`
}

// UpdateRequest carries a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	URL            *string     `json:"url,omitempty"`
	Events         []EventType `json:"events,omitempty"`
	Description    *string     `json:"description,omitempty"`
	Active         *bool       `json:"active,omitempty"`
	TimeoutSeconds *int        `json:"timeout_seconds,omitempty"`
	MaxAttempts    *int        `json:"max_attempts,omitempty"`
}

// SubscriptionService implements the owner-facing subscription operations
// over a SubscriptionStore.
type SubscriptionService struct {
	store SubscriptionStore
}

// NewSubscriptionService creates a subscription service.
func NewSubscriptionService(store SubscriptionStore) *SubscriptionService {
	return &SubscriptionService{store: store}
}

// Register validates the request, generates a fresh secret, and persists the
// subscription. The returned subscription carries the secret; this is the
// only time it is shown outside of an explicit regeneration.
func (s *SubscriptionService) Register(ctx context.Context, ownerID string, req RegisterRequest) (*WebhookSubscription, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	if err := validateEvents(req.Events); err != nil {
		return nil, err
	}
	if err := validateDescription(req.Description); err != nil {
		return nil, err
	}

	timeout := req.TimeoutSeconds
	if timeout == 0 {
		timeout = DefaultTimeoutSeconds
	}
	if err := validateTimeout(timeout); err != nil {
		return nil, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if err := validateMaxAttempts(maxAttempts); err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &WebhookSubscription{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		URL:            req.URL,
		Description:    req.Description,
		Events:         append([]EventType(nil), req.Events...),
		Secret:         secret,
		Active:         true,
		TimeoutSeconds: timeout,
		MaxAttempts:    maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, nil
}

// Get fetches one of the owner's subscriptions.
func (s *SubscriptionService) Get(ctx context.Context, ownerID, id string) (*WebhookSubscription, error) {
	return s.store.GetForOwner(ctx, ownerID, id)
}

// List returns the owner's subscriptions, optionally only active ones.
func (s *SubscriptionService) List(ctx context.Context, ownerID string, activeOnly bool) ([]*WebhookSubscription, error) {
	return s.store.List(ctx, ownerID, activeOnly)
}

// Update applies a partial update to one of the owner's subscriptions. The
// secret is never touched here.
func (s *SubscriptionService) Update(ctx context.Context, ownerID, id string, req UpdateRequest) (*WebhookSubscription, error) {
	sub, err := s.store.GetForOwner(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if req.URL != nil {
		if err := validateURL(*req.URL); err != nil {
			return nil, err
		}
		sub.URL = *req.URL
	}
	if req.Events != nil {
		if err := validateEvents(req.Events); err != nil {
			return nil, err
		}
		sub.Events = append([]EventType(nil), req.Events...)
	}
	if req.Description != nil {
		if err := validateDescription(*req.Description); err != nil {
			return nil, err
		}
		sub.Description = *req.Description
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if req.TimeoutSeconds != nil {
		if err := validateTimeout(*req.TimeoutSeconds); err != nil {
			return nil, err
		}
		sub.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.MaxAttempts != nil {
		if err := validateMaxAttempts(*req.MaxAttempts); err != nil {
			return nil, err
		}
		sub.MaxAttempts = *req.MaxAttempts
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}

// Activate enables event fan-out for the subscription.
func (s *SubscriptionService) Activate(ctx context.Context, ownerID, id string) (*WebhookSubscription, error) {
	return s.setActive(ctx, ownerID, id, true)
}

// Deactivate pauses event fan-out for the subscription. Already-created
// deliveries are left untouched and resume once reactivated.
func (s *SubscriptionService) Deactivate(ctx context.Context, ownerID, id string) (*WebhookSubscription, error) {
	return s.setActive(ctx, ownerID, id, false)
}

func (s *SubscriptionService) setActive(ctx context.Context, ownerID, id string, active bool) (*WebhookSubscription, error) {
	sub, err := s.store.GetForOwner(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	sub.Active = active
	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}

// RegenerateSecret replaces the subscription's secret and returns the new
// value exactly once. The old secret stops signing immediately.
func (s *SubscriptionService) RegenerateSecret(ctx context.Context, ownerID, id string) (string, error) {
	sub, err := s.store.GetForOwner(ctx, ownerID, id)
	if err != nil {
		return "", err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	sub.Secret = secret
	sub.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to regenerate secret: %w", err)
	}
	return secret, nil
}

// Delete removes one of the owner's subscriptions and its delivery history.
func (s *SubscriptionService) Delete(ctx context.Context, ownerID, id string) error {
	return s.store.Delete(ctx, ownerID, id)
}

func validateURL(raw string) error {
	if raw == "" {
		return newValidationError("url", "url is required")
	}
	if len(raw) > MaxURLLength {
		return newValidationError("url", "url must be at most %d characters", MaxURLLength)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return newValidationError("url", "invalid url: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return newValidationError("url", "url scheme must be http or https")
	}
	if parsed.Host == "" {
		return newValidationError("url", "url must be absolute")
	}
	return nil
}

func validateEvents(events []EventType) error {
	if len(events) == 0 {
		return newValidationError("events", "at least one event type is required")
	}
	for _, e := range events {
		if !e.Valid() {
			return newValidationError("events", "unknown event type %q", string(e))
		}
	}
	return nil
}

func validateDescription(description string) error {
	if len(description) > MaxDescriptionLength {
		return newValidationError("description", "description must be at most %d characters", MaxDescriptionLength)
	}
	return nil
}

func validateTimeout(seconds int) error {
	if seconds < MinTimeoutSeconds || seconds > MaxTimeoutSeconds {
		return newValidationError("timeout_seconds", "timeout must be between %d and %d seconds", MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	return nil
}

func validateMaxAttempts(attempts int) error {
	if attempts < MinMaxAttempts || attempts > MaxMaxAttempts {
		return newValidationError("max_attempts", "max attempts must be between %d and %d", MinMaxAttempts, MaxMaxAttempts)
	}
	return nil
}
