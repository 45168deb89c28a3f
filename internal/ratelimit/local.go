package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps one token bucket per client in process memory.
type LocalLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	limit     rate.Limit
	burstSize int
}

// NewLocalLimiter creates a limiter refilling rps units per second with the
// given burst. rps <= 0 disables limiting.
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &LocalLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     limit,
		burstSize: burst,
	}
}

// getLimiter returns the bucket for client, creating it on first use
func (l *LocalLimiter) getLimiter(client string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[client]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[client]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.limit, l.burstSize)
	l.limiters[client] = limiter
	return limiter
}

// Allow spends cost tokens from client's bucket.
func (l *LocalLimiter) Allow(ctx context.Context, client string, cost int) (bool, time.Duration) {
	if cost <= 0 {
		return true, 0
	}
	if cost > l.burstSize {
		cost = l.burstSize
	}

	reservation := l.getLimiter(client).ReserveN(time.Now(), cost)
	if !reservation.OK() {
		return false, time.Second
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return false, delay
	}
	return true, 0
}

// Usage reports how many tokens client has spent from its bucket. Unknown
// clients have spent nothing and are not tracked by the call.
func (l *LocalLimiter) Usage(ctx context.Context, client string) (Usage, error) {
	usage := Usage{Backend: "local", Client: client, Budget: l.burstSize, Clients: l.Clients()}

	l.mu.RLock()
	limiter, exists := l.limiters[client]
	l.mu.RUnlock()
	if exists && l.limit != rate.Inf {
		usage.Used = int(math.Round(float64(l.burstSize) - limiter.Tokens()))
		if usage.Used < 0 {
			usage.Used = 0
		}
	}
	return usage, nil
}

// Clients returns the number of tracked clients.
func (l *LocalLimiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}
