package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Outbound request headers. Receivers should de-duplicate on
// HeaderEventID since delivery is at-least-once.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderEventID   = "X-Webhook-Event-ID"

	signaturePrefix = "sha256="
	userAgent       = "ResumeForge-Webhooks/1.0"
)

// Envelope is the JSON body posted to subscription endpoints. The signature
// always covers the exact serialized bytes of one envelope instance.
type Envelope struct {
	EventID   string                 `json:"event_id"`
	EventType EventType              `json:"event_type"`
	EntityID  string                 `json:"entity_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEnvelope builds the delivery envelope for one attempt. The timestamp is
// taken fresh so retried attempts carry their own send time.
func NewEnvelope(event *DeliveryEvent, now time.Time) Envelope {
	return Envelope{
		EventID:   event.ID,
		EventType: event.EventType,
		EntityID:  event.EntityID,
		Timestamp: now.UTC(),
		Data:      event.Payload,
	}
}

// Sign computes the hex HMAC-SHA256 of payload under secret, without the
// header prefix.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader returns the full X-Webhook-Signature value for payload.
func SignatureHeader(payload []byte, secret string) string {
	return signaturePrefix + Sign(payload, secret)
}

// VerifySignature checks a received signature header against the exact
// request body. It accepts the value with or without the sha256= prefix and
// compares in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(signature, signaturePrefix)
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
