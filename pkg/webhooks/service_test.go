package webhooks

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func newTestService() *SubscriptionService {
	return NewSubscriptionService(NewMemoryStore().Subscriptions())
}

func TestServiceRegisterDefaults(t *testing.T) {
	svc := newTestService()

	sub, err := svc.Register(context.Background(), "owner-1", RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []EventType{EventResumeCreated},
	})
	if err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}

	if sub.ID == "" {
		t.Error("Expected a generated subscription id")
	}
	if !sub.Active {
		t.Error("Expected new subscriptions to start active")
	}
	if sub.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("Expected default timeout %d, got %d", DefaultTimeoutSeconds, sub.TimeoutSeconds)
	}
	if sub.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Expected default max attempts %d, got %d", DefaultMaxAttempts, sub.MaxAttempts)
	}
	if len(sub.Secret) != 43 {
		t.Errorf("Expected a 43 character secret, got %d characters", len(sub.Secret))
	}
	if sub.CreatedAt.IsZero() || sub.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}
}

func TestServiceRegisterExplicitValues(t *testing.T) {
	svc := newTestService()

	sub, err := svc.Register(context.Background(), "owner-1", RegisterRequest{
		URL:            "https://example.com/hook",
		Events:         []EventType{EventResumeCreated, EventExportCompleted},
		Description:    "CI notifications",
		TimeoutSeconds: 60,
		MaxAttempts:    5,
	})
	if err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}

	if sub.TimeoutSeconds != 60 || sub.MaxAttempts != 5 {
		t.Errorf("Expected explicit timeout/attempts to be kept, got %d/%d", sub.TimeoutSeconds, sub.MaxAttempts)
	}
	if sub.Description != "CI notifications" {
		t.Errorf("Expected description to be kept, got %q", sub.Description)
	}
	if len(sub.Events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(sub.Events))
	}
}

func TestServiceRegisterValidation(t *testing.T) {
	svc := newTestService()

	valid := RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []EventType{EventResumeCreated},
	}

	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
	}{
		{"empty url", func(r *RegisterRequest) { r.URL = "" }},
		{"ftp scheme", func(r *RegisterRequest) { r.URL = "ftp://example.com/hook" }},
		{"relative url", func(r *RegisterRequest) { r.URL = "/hook" }},
		{"url too long", func(r *RegisterRequest) { r.URL = "https://example.com/" + strings.Repeat("a", MaxURLLength) }},
		{"no events", func(r *RegisterRequest) { r.Events = nil }},
		{"unknown event", func(r *RegisterRequest) { r.Events = []EventType{"resume.exploded"} }},
		{"timeout too low", func(r *RegisterRequest) { r.TimeoutSeconds = MinTimeoutSeconds - 1 }},
		{"timeout too high", func(r *RegisterRequest) { r.TimeoutSeconds = MaxTimeoutSeconds + 1 }},
		{"negative attempts", func(r *RegisterRequest) { r.MaxAttempts = -1 }},
		{"too many attempts", func(r *RegisterRequest) { r.MaxAttempts = MaxMaxAttempts + 1 }},
		{"description too long", func(r *RegisterRequest) { r.Description = strings.Repeat("d", MaxDescriptionLength+1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := svc.Register(context.Background(), "owner-1", req)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !IsValidationError(err) {
				t.Errorf("Expected a validation error, got %v", err)
			}
		})
	}
}

func TestServiceUpdate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Register(ctx, "owner-1", RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []EventType{EventResumeCreated},
	})
	if err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}
	originalSecret := sub.Secret

	t.Run("partial update leaves other fields alone", func(t *testing.T) {
		updated, err := svc.Update(ctx, "owner-1", sub.ID, UpdateRequest{
			Description: strPtr("payroll hooks"),
		})
		if err != nil {
			t.Fatalf("Failed to update subscription: %v", err)
		}
		if updated.Description != "payroll hooks" {
			t.Errorf("Expected updated description, got %q", updated.Description)
		}
		if updated.URL != sub.URL {
			t.Error("Expected url to be unchanged")
		}
		if len(updated.Events) != 1 || updated.Events[0] != EventResumeCreated {
			t.Error("Expected events to be unchanged")
		}
		if updated.Secret != originalSecret {
			t.Error("Expected secret to be unchanged by update")
		}
	})

	t.Run("full update", func(t *testing.T) {
		updated, err := svc.Update(ctx, "owner-1", sub.ID, UpdateRequest{
			URL:            strPtr("https://example.org/v2"),
			Events:         []EventType{EventExportCompleted},
			Active:         boolPtr(false),
			TimeoutSeconds: intPtr(10),
			MaxAttempts:    intPtr(7),
		})
		if err != nil {
			t.Fatalf("Failed to update subscription: %v", err)
		}
		if updated.URL != "https://example.org/v2" {
			t.Errorf("Expected updated url, got %s", updated.URL)
		}
		if updated.Active {
			t.Error("Expected subscription to be deactivated")
		}
		if updated.TimeoutSeconds != 10 || updated.MaxAttempts != 7 {
			t.Errorf("Expected 10/7, got %d/%d", updated.TimeoutSeconds, updated.MaxAttempts)
		}
	})

	t.Run("invalid field rejected", func(t *testing.T) {
		_, err := svc.Update(ctx, "owner-1", sub.ID, UpdateRequest{
			TimeoutSeconds: intPtr(MaxTimeoutSeconds + 1),
		})
		if !IsValidationError(err) {
			t.Errorf("Expected a validation error, got %v", err)
		}
	})

	t.Run("wrong owner", func(t *testing.T) {
		_, err := svc.Update(ctx, "owner-2", sub.ID, UpdateRequest{Description: strPtr("nope")})
		if !errors.Is(err, ErrSubscriptionNotFound) {
			t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
		}
	})

	t.Run("missing subscription", func(t *testing.T) {
		_, err := svc.Update(ctx, "owner-1", "nope", UpdateRequest{})
		if !errors.Is(err, ErrSubscriptionNotFound) {
			t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
		}
	})
}

func TestServiceActivateDeactivate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Register(ctx, "owner-1", RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []EventType{EventResumeCreated},
	})
	if err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}

	paused, err := svc.Deactivate(ctx, "owner-1", sub.ID)
	if err != nil {
		t.Fatalf("Failed to deactivate subscription: %v", err)
	}
	if paused.Active {
		t.Error("Expected subscription to be inactive")
	}

	resumed, err := svc.Activate(ctx, "owner-1", sub.ID)
	if err != nil {
		t.Fatalf("Failed to activate subscription: %v", err)
	}
	if !resumed.Active {
		t.Error("Expected subscription to be active")
	}

	if _, err := svc.Activate(ctx, "owner-2", sub.ID); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound for wrong owner, got %v", err)
	}
}

func TestServiceRegenerateSecret(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Register(ctx, "owner-1", RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []EventType{EventResumeCreated},
	})
	if err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}

	secret, err := svc.RegenerateSecret(ctx, "owner-1", sub.ID)
	if err != nil {
		t.Fatalf("Failed to regenerate secret: %v", err)
	}
	if secret == sub.Secret {
		t.Error("Expected a fresh secret")
	}
	if len(secret) != 43 {
		t.Errorf("Expected a 43 character secret, got %d characters", len(secret))
	}

	stored, err := svc.Get(ctx, "owner-1", sub.ID)
	if err != nil {
		t.Fatalf("Failed to get subscription: %v", err)
	}
	if stored.Secret != secret {
		t.Error("Expected the new secret to be persisted")
	}
}

func TestServiceDelete(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sub, err := svc.Register(ctx, "owner-1", RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []EventType{EventResumeCreated},
	})
	if err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}

	if err := svc.Delete(ctx, "owner-2", sub.ID); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound for wrong owner, got %v", err)
	}
	if err := svc.Delete(ctx, "owner-1", sub.ID); err != nil {
		t.Fatalf("Failed to delete subscription: %v", err)
	}
	if _, err := svc.Get(ctx, "owner-1", sub.ID); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound after delete, got %v", err)
	}
}

func TestServiceListScopedToOwner(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for _, owner := range []string{"owner-1", "owner-1", "owner-2"} {
		if _, err := svc.Register(ctx, owner, RegisterRequest{
			URL:    "https://example.com/hook",
			Events: []EventType{EventResumeCreated},
		}); err != nil {
			t.Fatalf("Failed to register subscription: %v", err)
		}
	}

	subs, err := svc.List(ctx, "owner-1", false)
	if err != nil {
		t.Fatalf("Failed to list subscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("Expected 2 subscriptions for owner-1, got %d", len(subs))
	}
	for _, sub := range subs {
		if sub.OwnerID != "owner-1" {
			t.Errorf("Expected only owner-1 subscriptions, got %s", sub.OwnerID)
		}
	}
}
