package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/moltkeeper/internal/config"
)

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	config  config.RateLimitConfig
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
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether a request from client may proceed
func (r *RateLimiter) Allow(client string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	now := r.now()
	c, ok := r.clients[client]
	if !ok {
		burst := r.config.Burst
		if burst <= 0 {
			burst = 1
		}
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), burst)}
		r.clients[client] = c
	}
	c.lastSeen = now
	r.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Cleanup drops clients idle for longer than the configured TTL and
// returns how many were removed.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL())
	removed := 0
	for client, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, client)
			removed++
		}
	}
	return removed
}

// Run prunes idle clients until ctx is done
func (r *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.idleTTL())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup()
		}
	}
}

func (r *RateLimiter) idleTTL() time.Duration {
	if r.config.IdleTTL > 0 {
		return r.config.IdleTTL
	}
	return 10 * time.Minute
}
