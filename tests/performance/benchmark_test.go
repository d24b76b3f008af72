package performance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

const benchSecret = "bench-secret-0123456789abcdef0123456789abcdef"

func benchPayload(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	return payload
}

func BenchmarkSign(b *testing.B) {
	sizes := []struct {
		name string
		size int
	}{
		{"256B", 256},
		{"4KB", 4 << 10},
		{"64KB", 64 << 10},
	}

	for _, tc := range sizes {
		b.Run(tc.name, func(b *testing.B) {
			payload := benchPayload(tc.size)
			b.SetBytes(int64(tc.size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				webhooks.Sign(payload, benchSecret)
			}
		})
	}
}

func BenchmarkVerifySignature(b *testing.B) {
	payload := benchPayload(4 << 10)
	signature := webhooks.Sign(payload, benchSecret)
	if !webhooks.VerifySignature(payload, signature, benchSecret) {
		b.Fatal("Signature did not verify")
	}

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		webhooks.VerifySignature(payload, signature, benchSecret)
	}
}

func BenchmarkEnvelopeMarshal(b *testing.B) {
	event := &webhooks.DeliveryEvent{
		ID:             "evt-bench",
		SubscriptionID: "sub-bench",
		EventType:      webhooks.EventResumeCreated,
		EntityID:       "resume-bench",
		Payload: map[string]interface{}{
			"title":    "Senior Engineer",
			"template": "modern",
			"sections": []string{"summary", "experience", "education", "skills"},
		},
	}
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := json.Marshal(webhooks.NewEnvelope(event, now)); err != nil {
			b.Fatalf("Failed to marshal envelope: %v", err)
		}
	}
}

// BenchmarkEventFanOut measures dispatch cost with 100 active subscriptions
// listening for the triggered event type.
func BenchmarkEventFanOut(b *testing.B) {
	ctx := context.Background()
	store := webhooks.NewMemoryStore()
	service := webhooks.NewSubscriptionService(store.Subscriptions())
	dispatcher := webhooks.NewDispatcher(store.Subscriptions(), store.Deliveries(),
		observability.NewMetrics(prometheus.NewRegistry()))

	for i := 0; i < 100; i++ {
		_, err := service.Register(ctx, fmt.Sprintf("owner-%d", i%10), webhooks.RegisterRequest{
			URL:    fmt.Sprintf("https://example.com/hooks/%d", i),
			Events: []webhooks.EventType{webhooks.EventResumeCreated},
		})
		if err != nil {
			b.Fatalf("Failed to register subscription: %v", err)
		}
	}

	payload := map[string]interface{}{"title": "Senior Engineer"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		created, err := dispatcher.TriggerEvent(ctx, webhooks.EventResumeCreated,
			fmt.Sprintf("resume-%d", i), payload, "")
		if err != nil {
			b.Fatalf("Failed to trigger event: %v", err)
		}
		if created != 100 {
			b.Fatalf("Expected 100 deliveries, got %d", created)
		}
	}
}

// BenchmarkDelivery measures a full signed delivery round trip against a
// local receiver, including the outcome write.
func BenchmarkDelivery(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping delivery benchmark in short mode")
	}

	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := webhooks.NewMemoryStore()
	sub := &webhooks.WebhookSubscription{
		ID:             "sub-bench",
		OwnerID:        "owner-bench",
		URL:            server.URL,
		Secret:         benchSecret,
		Events:         []webhooks.EventType{webhooks.EventResumeCreated},
		Active:         true,
		TimeoutSeconds: webhooks.DefaultTimeoutSeconds,
		MaxAttempts:    webhooks.DefaultMaxAttempts,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := store.Subscriptions().Create(ctx, sub); err != nil {
		b.Fatalf("Failed to create subscription: %v", err)
	}

	events := make([]*webhooks.DeliveryEvent, b.N)
	for i := range events {
		events[i] = &webhooks.DeliveryEvent{
			ID:             fmt.Sprintf("evt-bench-%d", i),
			SubscriptionID: sub.ID,
			EventType:      webhooks.EventResumeCreated,
			EntityID:       fmt.Sprintf("resume-%d", i),
			Payload:        map[string]interface{}{"title": "Senior Engineer"},
			Status:         webhooks.DeliveryStatusPending,
			MaxAttempts:    sub.MaxAttempts,
			CreatedAt:      time.Now().UTC(),
		}
	}
	if err := store.Deliveries().CreateBatch(ctx, events); err != nil {
		b.Fatalf("Failed to seed deliveries: %v", err)
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine := webhooks.NewEngine(store.Deliveries(), logger, metrics)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		success, err := engine.Deliver(ctx, events[i], sub)
		if err != nil {
			b.Fatalf("Failed to deliver: %v", err)
		}
		if !success {
			b.Fatal("Expected a successful delivery")
		}
	}
}
