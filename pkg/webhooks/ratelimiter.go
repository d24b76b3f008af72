package webhooks

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Bucket table sizing. Buckets live in an expirable LRU so subscriptions
// that stop seeing traffic give their slot back after the idle TTL.
const (
	rateLimiterMaxEntries = 16384
	rateLimiterIdleTTL    = 30 * time.Minute
)

// RateLimiter caps delivery attempts per subscription with token buckets.
// Each bucket holds up to maxTokens and refills one token per refill
// period, so maxTokens is the burst size and the period sets the
// steady-state rate.
type RateLimiter struct {
	mu           sync.Mutex
	buckets      *lru.LRU[string, *TokenBucket]
	maxTokens    int
	refillPeriod time.Duration
}

// TokenBucket represents a token bucket for one subscription
type TokenBucket struct {
	tokens       int
	maxTokens    int
	refillPeriod time.Duration
	lastRefill   time.Time
	mutex        sync.Mutex
}

// NewRateLimiter creates a rate limiter with the given burst size and
// refill period.
func NewRateLimiter(maxTokens int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:      lru.NewLRU[string, *TokenBucket](rateLimiterMaxEntries, nil, rateLimiterIdleTTL),
		maxTokens:    maxTokens,
		refillPeriod: refillPeriod,
	}
}

// Allow reports whether a delivery attempt for the subscription may proceed
// now, consuming a token when it may.
func (rl *RateLimiter) Allow(subscriptionID string) bool {
	return rl.bucket(subscriptionID).Take()
}

// GetRemaining returns the number of tokens currently available for the
// subscription.
func (rl *RateLimiter) GetRemaining(subscriptionID string) int {
	return rl.bucket(subscriptionID).Remaining()
}

func (rl *RateLimiter) bucket(subscriptionID string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets.Get(subscriptionID)
	if !ok {
		bucket = &TokenBucket{
			tokens:       rl.maxTokens,
			maxTokens:    rl.maxTokens,
			refillPeriod: rl.refillPeriod,
			lastRefill:   time.Now(),
		}
		rl.buckets.Add(subscriptionID, bucket)
	}
	return bucket
}

// Take attempts to take a token from the bucket
func (tb *TokenBucket) Take() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Remaining returns the tokens available after refill.
func (tb *TokenBucket) Remaining() int {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	return tb.tokens
}

// refill credits one token per elapsed refill period. Callers hold the lock.
func (tb *TokenBucket) refill() {
	elapsed := time.Since(tb.lastRefill)
	if elapsed < tb.refillPeriod {
		return
	}
	periods := int(elapsed / tb.refillPeriod)
	tb.tokens = min(tb.tokens+periods, tb.maxTokens)
	tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.refillPeriod)
}
