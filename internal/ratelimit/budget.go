// Package ratelimit throttles dashboard API clients. Each request spends a
// route-dependent cost from a per-client budget, tracked either in process
// memory or in Redis when several server instances share one wallet backend.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/referral-dashboard/internal/logging"
)

// Default budget configuration values.
const (
	DefaultBudget     = 20
	DefaultWindowSize = time.Second
	DefaultKeyPrefix  = "ratelimit:budget:"
)

// Limiter decides whether a client may spend cost units now.
// When the request is denied, wait is the suggested delay before retrying.
type Limiter interface {
	Allow(ctx context.Context, client string, cost int) (allowed bool, wait time.Duration)
}

// Usage is a client's standing with a limiter
type Usage struct {
	Backend string `json:"backend"`
	Client  string `json:"client"`
	Budget  int    `json:"budget"`
	Used    int    `json:"used"`
	Clients int    `json:"trackedClients,omitempty"`
}

// Reporter is implemented by limiters able to describe a client's usage
type Reporter interface {
	Usage(ctx context.Context, client string) (Usage, error)
}

// consumeScript atomically checks and increments a client's window counter.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local cost = tonumber(ARGV[1])
	local budget = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + cost > budget then
		return {0, used}
	end

	redis.call('INCRBY', key, cost)
	redis.call('EXPIRE', key, ttl)
	return {1, used + cost}
`)

// RedisBudgetConfig holds configuration for a RedisBudget.
type RedisBudgetConfig struct {
	// Redis is the shared client. Required.
	Redis redis.Cmdable

	// Budget is the cost units each client may spend per window. Default: 20.
	Budget int

	// WindowSize is the fixed window length. Default: 1s.
	WindowSize time.Duration

	// KeyTTL expires idle window counters. Default: two windows.
	KeyTTL time.Duration

	// KeyPrefix namespaces the counters. Default: "ratelimit:budget:".
	KeyPrefix string
}

// Validate checks if the configuration is valid.
func (c *RedisBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Budget < 0 {
		return errors.New("budget cannot be negative")
	}
	if c.WindowSize < 0 || c.KeyTTL < 0 {
		return errors.New("durations cannot be negative")
	}
	return nil
}

// RedisBudget is a fixed-window budget shared through Redis.
type RedisBudget struct {
	redis      redis.Cmdable
	budget     int
	windowSize time.Duration
	keyTTL     time.Duration
	keyPrefix  string
	now        func() time.Time
}

// NewRedisBudget creates a budget from cfg, applying defaults.
func NewRedisBudget(cfg *RedisBudgetConfig) (*RedisBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	b := &RedisBudget{
		redis:      cfg.Redis,
		budget:     cfg.Budget,
		windowSize: cfg.WindowSize,
		keyTTL:     cfg.KeyTTL,
		keyPrefix:  cfg.KeyPrefix,
		now:        time.Now,
	}
	if b.budget == 0 {
		b.budget = DefaultBudget
	}
	if b.windowSize == 0 {
		b.windowSize = DefaultWindowSize
	}
	if b.keyTTL == 0 {
		b.keyTTL = 2 * b.windowSize
	}
	if b.keyPrefix == "" {
		b.keyPrefix = DefaultKeyPrefix
	}
	return b, nil
}

// windowStart returns the start of the window containing now.
func (b *RedisBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func (b *RedisBudget) key(client string, window time.Time) string {
	return b.keyPrefix + client + ":" + strconv.FormatInt(window.UnixMilli(), 10)
}

// Allow spends cost from client's budget for the current window. A cost
// above the whole budget spends the whole budget. A Redis failure denies
// the request.
func (b *RedisBudget) Allow(ctx context.Context, client string, cost int) (bool, time.Duration) {
	if cost <= 0 {
		return true, 0
	}
	if cost > b.budget {
		cost = b.budget
	}

	window := b.windowStart()
	ttlSeconds := int(b.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{b.key(client, window)},
		cost, b.budget, ttlSeconds).Int64Slice()
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("client", client).Warn("Rate limit budget unavailable, denying request")
		return false, b.waitTime(window)
	}
	if result[0] != 1 {
		return false, b.waitTime(window)
	}
	return true, 0
}

// Used returns how much client has spent in the current window.
func (b *RedisBudget) Used(ctx context.Context, client string) (int, error) {
	used, err := b.redis.Get(ctx, b.key(client, b.windowStart())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return used, err
}

// Budget returns the per-window budget.
func (b *RedisBudget) Budget() int {
	return b.budget
}

// Usage reports client's spending in the current window.
func (b *RedisBudget) Usage(ctx context.Context, client string) (Usage, error) {
	used, err := b.Used(ctx, client)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read budget usage: %w", err)
	}
	return Usage{Backend: "redis", Client: client, Budget: b.Budget(), Used: used}, nil
}

// waitTime returns the time until the next window starts.
func (b *RedisBudget) waitTime(window time.Time) time.Duration {
	wait := window.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}
