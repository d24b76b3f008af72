package webhooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/resumeforge/dispatch/pkg/observability"
)

// Worker loop defaults.
const (
	DefaultPendingBatchSize = 100
	DefaultRetryBatchSize   = 100
	DefaultPollInterval     = 10 * time.Second
	DefaultConcurrency      = 8

	// DefaultClaimLease must outlive the longest possible attempt
	// (MaxTimeoutSeconds plus recording) so a live claim is never
	// re-handed to another worker.
	DefaultClaimLease = 10 * time.Minute

	statsLogInterval = time.Hour
)

// Claim queues drained by the worker.
const (
	queuePending = "pending"
	queueRetry   = "retry"
)

// WorkerConfig configures the delivery worker loop.
type WorkerConfig struct {
	PendingBatchSize int
	RetryBatchSize   int
	PollInterval     time.Duration
	Concurrency      int
	ClaimLease       time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PendingBatchSize <= 0 {
		c.PendingBatchSize = DefaultPendingBatchSize
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = DefaultRetryBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = DefaultClaimLease
	}
	return c
}

// WorkerStats is a snapshot of the worker counters.
type WorkerStats struct {
	UptimeSeconds    float64   `json:"uptime_seconds"`
	TotalCycles      int64     `json:"total_cycles"`
	PendingProcessed int64     `json:"pending_processed"`
	RetryProcessed   int64     `json:"retry_processed"`
	LastCycle        time.Time `json:"last_cycle"`
}

// Worker drains the delivery queues: each cycle it claims a batch of
// pending events and a batch of retry-due events, delivers them with
// bounded concurrency, then sleeps until the next poll.
type Worker struct {
	subscriptions SubscriptionStore
	deliveries    DeliveryStore
	engine        *Engine
	limiter       *RateLimiter
	config        WorkerConfig
	logger        *observability.Logger
	metrics       *observability.Metrics

	stopCh   chan struct{}
	stopOnce sync.Once

	mu                    sync.Mutex
	startTime             time.Time
	lastCycleTime         time.Time
	totalCycles           int64
	totalPendingProcessed int64
	totalRetryProcessed   int64
}

// NewWorker creates a delivery worker. A nil limiter disables per
// subscription rate limiting.
func NewWorker(subscriptions SubscriptionStore, deliveries DeliveryStore, engine *Engine, limiter *RateLimiter, config WorkerConfig, logger *observability.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		engine:        engine,
		limiter:       limiter,
		config:        config.withDefaults(),
		logger:        logger,
		metrics:       metrics,
		stopCh:        make(chan struct{}),
	}
}

// Run executes the worker loop until ctx is canceled or Stop is called.
// Callers that want in-flight deliveries to finish during shutdown should
// pass a context that is not tied to the shutdown signal and call Stop;
// the loop then exits between cycles with every claimed event resolved.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	w.startTime = time.Now()
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"pending_batch_size": w.config.PendingBatchSize,
		"retry_batch_size":   w.config.RetryBatchSize,
		"poll_interval":      w.config.PollInterval.String(),
		"concurrency":        w.config.Concurrency,
	}).Info("Webhook worker started")

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	statsDeadline := time.Now().Add(statsLogInterval)

	for {
		w.processCycle(ctx)

		if time.Now().After(statsDeadline) {
			w.logStatistics()
			statsDeadline = time.Now().Add(statsLogInterval)
		}

		select {
		case <-ctx.Done():
			w.logStatistics()
			w.logger.Info("Webhook worker stopped")
			return ctx.Err()
		case <-w.stopCh:
			w.logStatistics()
			w.logger.Info("Webhook worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop signals the loop to exit after the current cycle. Safe to call more
// than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// processCycle runs one poll cycle over both queues.
func (w *Worker) processCycle(ctx context.Context) {
	cycleStart := time.Now()

	pending := w.processBatch(ctx, queuePending)
	retries := w.processBatch(ctx, queueRetry)

	w.mu.Lock()
	w.totalCycles++
	w.totalPendingProcessed += int64(pending)
	w.totalRetryProcessed += int64(retries)
	w.lastCycleTime = time.Now()
	cycle := w.totalCycles
	w.mu.Unlock()

	w.metrics.WorkerCyclesTotal.Inc()
	w.metrics.WorkerLastCycleTimestamp.Set(float64(time.Now().Unix()))

	if pending > 0 || retries > 0 {
		w.logger.WithFields(map[string]interface{}{
			"cycle":   cycle,
			"pending": pending,
			"retry":   retries,
			"elapsed": time.Since(cycleStart).String(),
		}).Info("Cycle complete")
	}
}

// processBatch claims one batch from the named queue and delivers it with
// bounded concurrency. It returns how many attempts were recorded.
func (w *Worker) processBatch(ctx context.Context, queue string) int {
	var (
		events []*DeliveryEvent
		err    error
	)
	if queue == queuePending {
		events, err = w.deliveries.ClaimPending(ctx, w.config.PendingBatchSize, w.config.ClaimLease)
	} else {
		events, err = w.deliveries.ClaimDueRetries(ctx, w.config.RetryBatchSize, w.config.ClaimLease)
	}
	if err != nil {
		w.logger.WithError(err).Errorf("Failed to claim %s events", queue)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	var processed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(w.config.Concurrency)

	for _, event := range events {
		event := event
		g.Go(func() error {
			defer observability.RecoverPanic(w.logger, "delivery attempt")
			if w.deliverOne(ctx, event) {
				processed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	n := int(processed.Load())
	if n > 0 {
		w.metrics.WorkerEventsProcessedTotal.WithLabelValues(queue).Add(float64(n))
	}
	return n
}

// deliverOne loads the event's subscription and runs one attempt. It
// returns whether an attempt was recorded. Skipped events get their claim
// released so they stay eligible.
func (w *Worker) deliverOne(ctx context.Context, event *DeliveryEvent) bool {
	sub, err := w.subscriptions.Get(ctx, event.SubscriptionID)
	if err != nil {
		w.release(ctx, event)
		if errors.Is(err, ErrSubscriptionNotFound) {
			w.logger.WithFields(map[string]interface{}{
				"event_id":        event.ID,
				"subscription_id": event.SubscriptionID,
			}).Warn("Skipping delivery for missing subscription")
		} else {
			w.logger.WithError(err).Errorf("Failed to load subscription %s", event.SubscriptionID)
		}
		return false
	}

	if !sub.Active {
		// The event stays queued; deactivation pauses delivery rather
		// than dropping it.
		w.release(ctx, event)
		w.logger.WithFields(map[string]interface{}{
			"event_id":        event.ID,
			"subscription_id": sub.ID,
		}).Debug("Skipping delivery for inactive subscription")
		return false
	}

	if w.limiter != nil && !w.limiter.Allow(sub.ID) {
		w.release(ctx, event)
		w.metrics.RateLimitDeferralsTotal.WithLabelValues("subscription").Inc()
		return false
	}

	if _, err := w.engine.Deliver(ctx, event, sub); err != nil {
		// Nothing was recorded; the claim lease lapses and the event
		// becomes eligible again.
		w.logger.WithError(err).WithField("event_id", event.ID).Error("Delivery attempt did not complete")
		return false
	}
	return true
}

func (w *Worker) release(ctx context.Context, event *DeliveryEvent) {
	if err := w.deliveries.ReleaseClaim(ctx, event.ID); err != nil {
		w.logger.WithError(err).WithField("event_id", event.ID).Warn("Failed to release claim")
	}
}

// LastCycle returns when the last cycle completed.
func (w *Worker) LastCycle() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCycleTime
}

// Healthy reports whether the loop is keeping up. The last cycle, or the
// start when no cycle has completed yet, must fall within twice the poll
// interval.
func (w *Worker) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	window := 2 * w.config.PollInterval
	if w.lastCycleTime.IsZero() {
		return !w.startTime.IsZero() && time.Since(w.startTime) < window
	}
	return time.Since(w.lastCycleTime) < window
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := WorkerStats{
		TotalCycles:      w.totalCycles,
		PendingProcessed: w.totalPendingProcessed,
		RetryProcessed:   w.totalRetryProcessed,
		LastCycle:        w.lastCycleTime,
	}
	if !w.startTime.IsZero() {
		stats.UptimeSeconds = time.Since(w.startTime).Seconds()
	}
	return stats
}

func (w *Worker) logStatistics() {
	stats := w.Stats()
	w.logger.WithFields(map[string]interface{}{
		"uptime_seconds":    int64(stats.UptimeSeconds),
		"total_cycles":      stats.TotalCycles,
		"pending_processed": stats.PendingProcessed,
		"retry_processed":   stats.RetryProcessed,
		"total_processed":   stats.PendingProcessed + stats.RetryProcessed,
	}).Info("Webhook worker statistics")
}
