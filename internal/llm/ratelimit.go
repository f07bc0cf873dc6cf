package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter smooths outbound request rate with a token bucket and caps
// concurrent in-flight calls. One limiter guards the single configured
// provider; Acquire blocks until a slot is free or the context ends.
type Limiter struct {
	mu            sync.Mutex
	tokens        float64
	maxTokens     float64
	refillRate    float64 // requests per second
	lastRefill    time.Time
	activeCount   int
	maxConcurrent int

	metrics LimiterMetrics
}

// LimiterMetrics tracks usage for the health endpoint and logs.
type LimiterMetrics struct {
	TotalRequests int64     `json:"total_requests"`
	TotalTokens   int64     `json:"total_tokens"`
	RejectedCount int64     `json:"rejected_count"`
	LastRequestAt time.Time `json:"last_request_at"`
}

// NewLimiter builds a limiter allowing requestsPerMinute sustained with the
// given burst, and at most maxConcurrent in-flight requests.
func NewLimiter(requestsPerMinute, burst, maxConcurrent int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		tokens:        float64(burst),
		maxTokens:     float64(burst),
		refillRate:    float64(requestsPerMinute) / 60.0,
		lastRefill:    time.Now(),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire takes one request slot, waiting for bucket refill when empty.
// Release must be called once per successful Acquire.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 && (l.maxConcurrent == 0 || l.activeCount < l.maxConcurrent) {
			l.tokens--
			l.activeCount++
			l.metrics.TotalRequests++
			l.metrics.LastRequestAt = time.Now()
			l.mu.Unlock()
			return nil
		}
		wait := l.timeToNextToken()
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.metrics.RejectedCount++
			l.mu.Unlock()
			return fmt.Errorf("rate limiter: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Release frees a concurrency slot.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.activeCount > 0 {
		l.activeCount--
	}
	l.mu.Unlock()
}

// RecordUsage adds the provider-reported token count to the running total.
func (l *Limiter) RecordUsage(tokens int64) {
	l.mu.Lock()
	l.metrics.TotalTokens += tokens
	l.mu.Unlock()
}

// Metrics returns a snapshot of usage counters.
func (l *Limiter) Metrics() LimiterMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics
}

// refill adds tokens for elapsed time. Caller holds the lock.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}

// timeToNextToken estimates how long until one token is available. Caller
// holds the lock.
func (l *Limiter) timeToNextToken() time.Duration {
	if l.tokens >= 1 {
		return 10 * time.Millisecond
	}
	if l.refillRate <= 0 {
		return 100 * time.Millisecond
	}
	deficit := 1 - l.tokens
	return time.Duration(deficit / l.refillRate * float64(time.Second))
}
