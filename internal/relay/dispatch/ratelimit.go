package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the number of model calls a sender may make per
	// minute when RELAY_RATE_LIMIT is unset.
	DefaultRateLimit = 20

	defaultRateWindow = time.Minute
)

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter caps model calls per sender with a token bucket. The bucket
// holds limit tokens and refills one every window/limit. Confirm and cancel
// replies never consume tokens.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	every   rate.Limit
	buckets map[string]*senderBucket
	now     func() time.Time
}

// NewRateLimiter allows limit model calls per sender per window. A
// non-positive limit selects DefaultRateLimit; a non-positive window selects
// one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		buckets: make(map[string]*senderBucket),
		now:     time.Now,
	}
}

// Allow consumes one token for sender and reports whether one was available.
func (r *RateLimiter) Allow(sender string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[sender]
	if !ok {
		b = &senderBucket{limiter: rate.NewLimiter(r.every, r.limit)}
		r.buckets[sender] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Prune forgets senders idle for longer than idle and returns how many were
// dropped. A forgotten sender starts again with a full bucket.
func (r *RateLimiter) Prune(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	dropped := 0
	for sender, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, sender)
			dropped++
		}
	}
	return dropped
}
