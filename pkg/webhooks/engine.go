package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/resumeforge/dispatch/pkg/observability"
)

// backoffDelay returns the wait before the next attempt once n attempts
// have been made: 2^n minutes, uncapped. One failure waits 2m, two wait
// 4m, three wait 8m.
func backoffDelay(attemptCount int) time.Duration {
	return time.Duration(1<<attemptCount) * time.Minute
}

// Engine posts delivery events to subscription endpoints and records each
// attempt's outcome. A single Engine is shared by all worker goroutines;
// the underlying client pools connections across attempts.
type Engine struct {
	deliveries DeliveryStore
	client     *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewEngine creates a delivery engine over the given store. The HTTP client
// carries OpenTelemetry instrumentation and never follows redirects, so a
// 3xx answer is recorded as the endpoint's own response. Timeouts come from
// each subscription, not from the client.
func NewEngine(deliveries DeliveryStore, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		deliveries: deliveries,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Deliver executes one delivery attempt for event against sub and records
// the outcome. The endpoint call runs under the subscription's timeout; the
// outcome write runs under the parent context so a finished attempt is
// always recorded. It returns whether the endpoint accepted the event.
// A non-nil error means no attempt was recorded and the event is untouched.
func (e *Engine) Deliver(ctx context.Context, event *DeliveryEvent, sub *WebhookSubscription) (bool, error) {
	envelope := NewEnvelope(event, time.Now())
	body, err := json.Marshal(envelope)
	if err != nil {
		return false, fmt.Errorf("failed to marshal envelope for event %s: %w", event.ID, err)
	}

	timeoutSeconds := sub.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}

	outcome, err := e.attempt(ctx, event, sub, body, timeoutSeconds)
	if err != nil {
		return false, err
	}

	// Backoff targets the attempt count this attempt is about to produce.
	// The last permitted attempt gets no retry slot.
	if !outcome.Success && event.AttemptCount+1 < event.MaxAttempts {
		next := time.Now().UTC().Add(backoffDelay(event.AttemptCount + 1))
		outcome.NextRetryAt = &next
	}

	if err := e.deliveries.RecordOutcome(ctx, event.ID, outcome); err != nil {
		return false, fmt.Errorf("failed to record outcome for event %s: %w", event.ID, err)
	}

	result := attemptResult(outcome, event)
	e.metrics.DeliveryAttemptsTotal.WithLabelValues(string(event.EventType), string(result)).Inc()
	e.metrics.DeliveryDuration.WithLabelValues(string(event.EventType)).Observe(float64(outcome.ResponseTimeMS) / 1000)

	logger := observability.UpdateLoggerWithTraceContext(ctx, e.logger).WithFields(map[string]interface{}{
		"event_id":         event.ID,
		"subscription_id":  event.SubscriptionID,
		"event_type":       string(event.EventType),
		"attempt":          event.AttemptCount + 1,
		"max_attempts":     event.MaxAttempts,
		"http_status":      outcome.HTTPStatus,
		"response_time_ms": outcome.ResponseTimeMS,
		"result":           string(result),
	})
	if outcome.Success {
		logger.Info("Webhook delivered")
	} else if outcome.ErrorMessage != "" {
		logger.WithField("error_message", outcome.ErrorMessage).Warn("Webhook delivery attempt failed")
	} else {
		logger.Warn("Webhook delivery attempt failed")
	}

	return outcome.Success, nil
}

// attempt performs the HTTP call and classifies the result. It only returns
// an error when the parent context was canceled, so an interrupted call is
// never charged against the event's attempt budget.
func (e *Engine) attempt(ctx context.Context, event *DeliveryEvent, sub *WebhookSubscription, body []byte, timeoutSeconds int) (AttemptOutcome, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return AttemptOutcome{ErrorMessage: fmt.Sprintf("Request error: %v", err)}, nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, SignatureHeader(body, sub.Secret))
	req.Header.Set(HeaderEvent, string(event.EventType))
	req.Header.Set(HeaderEventID, event.ID)

	start := time.Now()
	resp, err := e.client.Do(req)
	outcome := AttemptOutcome{ResponseTimeMS: time.Since(start).Milliseconds()}

	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return AttemptOutcome{}, fmt.Errorf("delivery of event %s interrupted: %w", event.ID, err)
		case errors.Is(err, context.DeadlineExceeded):
			outcome.ErrorMessage = fmt.Sprintf("Timeout after %ds", timeoutSeconds)
		default:
			outcome.ErrorMessage = fmt.Sprintf("Request error: %v", err)
		}
		return outcome, nil
	}
	defer resp.Body.Close()

	outcome.HTTPStatus = resp.StatusCode

	snippet, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLength+1))
	if err != nil {
		outcome.ErrorMessage = fmt.Sprintf("Request error: %v", err)
		return outcome, nil
	}

	outcome.ResponseBody = string(snippet)
	// Any 2xx means the receiver accepted the event. Everything else,
	// including redirects, counts as a failed attempt with no error
	// message: the status and body tell the story.
	outcome.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	return outcome, nil
}

// attemptResult maps one attempt's outcome to the status the event lands in.
func attemptResult(outcome AttemptOutcome, event *DeliveryEvent) DeliveryStatus {
	switch {
	case outcome.Success:
		return DeliveryStatusSuccess
	case event.AttemptCount+1 >= event.MaxAttempts:
		return DeliveryStatusFailed
	default:
		return DeliveryStatusRetrying
	}
}
