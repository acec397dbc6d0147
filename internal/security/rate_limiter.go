package security

import (
	"context"
	"sync"
	"time"

	"github.com/medixscan/anonymizer/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per client
type RateLimiter struct {
	enabled bool
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	mu      sync.Mutex
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	r := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
	r.apply(cfg)
	return r
}

func (r *RateLimiter) apply(cfg config.RateLimitConfig) {
	r.enabled = cfg.Enabled
	r.limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	r.burst = max(cfg.Burst, 1)
}

// Update swaps in new limits, including for clients already tracked
func (r *RateLimiter) Update(cfg config.RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.apply(cfg)
	now := r.now()
	for _, c := range r.clients {
		c.limiter.SetLimitAt(now, r.limit)
		c.limiter.SetBurstAt(now, r.burst)
	}
}

// Allow reports whether a request from clientID may proceed
func (r *RateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return true
	}

	now := r.now()
	c, ok := r.clients[clientID]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[clientID] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Tokens returns the tokens left for clientID, or the burst for unknown clients
func (r *RateLimiter) Tokens(clientID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return float64(r.burst)
	}
	return c.limiter.TokensAt(r.now())
}

// Cleanup forgets clients idle for longer than maxIdle and returns how many
// were removed
func (r *RateLimiter) Cleanup(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for id, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, id)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done
func (r *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup(2 * interval)
			}
		}
	}()
}
