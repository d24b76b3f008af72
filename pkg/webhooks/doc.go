// Package webhooks provides event-driven webhook delivery for resume
// platform events.
//
// # Overview
//
// This package manages webhook subscriptions, event fan-out, signed
// delivery, retries with exponential backoff, and per-subscription
// delivery statistics. Producers trigger domain events; the dispatcher
// creates one delivery per matching active subscription; the worker
// drains the delivery queues and posts signed envelopes to subscriber
// endpoints.
//
// # Webhook Events
//
// resume.created, resume.updated, resume.deleted
// analysis.completed, analysis.failed
// generation.completed, generation.failed
// export.completed, export.failed
// user.email_verified, user.password_changed
//
// # Usage Example
//
// Register a subscription:
//
//	service := webhooks.NewSubscriptionService(store.Subscriptions())
//	sub, err := service.Register(ctx, ownerID, webhooks.RegisterRequest{
//		URL:    "https://api.example.com/hooks",
//		Events: []webhooks.EventType{webhooks.EventResumeCreated},
//	})
//
// Trigger an event:
//
//	dispatcher := webhooks.NewDispatcher(store.Subscriptions(), store.Deliveries(), metrics)
//	created, err := dispatcher.TriggerEvent(ctx, webhooks.EventResumeCreated,
//		resumeID, payload, ownerID)
//
// Verify a signature (receiver side):
//
//	sig := r.Header.Get(webhooks.HeaderSignature)
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry Policy
//
// Exponential backoff: 2m, 4m, 8m, doubling per attempt
// Attempts per delivery: the subscription's max_attempts, 3 by default
// Timeout per attempt: the subscription's timeout_seconds, 30s by default
//
// # Related Packages
//
//   - pkg/storage/postgres: durable subscription and delivery stores
//   - pkg/archive: retention and S3 archival of finished deliveries
package webhooks
