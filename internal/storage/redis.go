// Package storage persists the small amount of client state that survives a
// restart: the last connected account.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/referral-dashboard/internal/config"
)

// DefaultAccountKey is the key holding the last connected account
const DefaultAccountKey = "session:currentAccount"

// NewRedisClient creates a Redis client and verifies the connection
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	addr := cfg.RedisAddr()
	if addr == "" {
		return nil, errors.New("redis host is not configured")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisAccountStore keeps the last connected account under a single Redis key
type RedisAccountStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisAccountStore creates a store on client. An empty key uses DefaultAccountKey.
func NewRedisAccountStore(client redis.Cmdable, key string) *RedisAccountStore {
	if key == "" {
		key = DefaultAccountKey
	}
	return &RedisAccountStore{client: client, key: key}
}

// Key returns the Redis key the account is stored under
func (s *RedisAccountStore) Key() string {
	return s.key
}

// Load returns the persisted account. ok is false when nothing usable is stored.
func (s *RedisAccountStore) Load(ctx context.Context) (common.Address, bool, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, fmt.Errorf("load %s: %w", s.key, err)
	}
	return parseAccount(value)
}

// Save persists account without expiry
func (s *RedisAccountStore) Save(ctx context.Context, account common.Address) error {
	if err := s.client.Set(ctx, s.key, account.Hex(), 0).Err(); err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

// Clear removes the persisted account
func (s *RedisAccountStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", s.key, err)
	}
	return nil
}

// parseAccount treats garbage in the store the same as an empty store
func parseAccount(value string) (common.Address, bool, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, false, nil
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, false, nil
	}
	return addr, true, nil
}
