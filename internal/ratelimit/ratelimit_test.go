package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBudget(t *testing.T, budget int) (*RedisBudget, *miniredis.Miniredis, *time.Time) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := NewRedisBudget(&RedisBudgetConfig{Redis: client, Budget: budget})
	require.NoError(t, err)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 100*int(time.Millisecond), time.UTC)
	b.now = func() time.Time { return clock }
	return b, mr, &clock
}

func TestNewRedisBudget_Validation(t *testing.T) {
	_, err := NewRedisBudget(nil)
	assert.Error(t, err)

	_, err = NewRedisBudget(&RedisBudgetConfig{})
	assert.ErrorContains(t, err, "redis client is required")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err = NewRedisBudget(&RedisBudgetConfig{Redis: client, Budget: -1})
	assert.Error(t, err)

	b, err := NewRedisBudget(&RedisBudgetConfig{Redis: client})
	require.NoError(t, err)
	assert.Equal(t, DefaultBudget, b.Budget())
	assert.Equal(t, DefaultWindowSize, b.windowSize)
	assert.Equal(t, 2*DefaultWindowSize, b.keyTTL)
}

func TestRedisBudget_SpendsUntilExhausted(t *testing.T) {
	b, _, _ := newTestBudget(t, 10)
	ctx := context.Background()

	ok, _ := b.Allow(ctx, "10.0.0.1", 5)
	assert.True(t, ok)
	ok, _ = b.Allow(ctx, "10.0.0.1", 5)
	assert.True(t, ok)

	ok, wait := b.Allow(ctx, "10.0.0.1", 1)
	assert.False(t, ok)
	assert.Equal(t, 900*time.Millisecond+time.Millisecond, wait)

	used, err := b.Used(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 10, used)

	ok, _ = b.Allow(ctx, "10.0.0.2", 5)
	assert.True(t, ok, "budgets are per client")
}

func TestRedisBudget_NewWindowResets(t *testing.T) {
	b, _, clock := newTestBudget(t, 3)
	ctx := context.Background()

	ok, _ := b.Allow(ctx, "client", 3)
	require.True(t, ok)
	ok, _ = b.Allow(ctx, "client", 1)
	require.False(t, ok)

	*clock = clock.Add(time.Second)
	ok, _ = b.Allow(ctx, "client", 1)
	assert.True(t, ok)
}

func TestRedisBudget_ZeroCostAlwaysAllowed(t *testing.T) {
	b, mr, _ := newTestBudget(t, 1)
	mr.Close()

	ok, wait := b.Allow(context.Background(), "client", 0)
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestRedisBudget_DeniesWhenRedisDown(t *testing.T) {
	b, mr, _ := newTestBudget(t, 100)
	mr.Close()

	ok, wait := b.Allow(context.Background(), "client", 1)
	assert.False(t, ok)
	assert.Positive(t, wait)
}

func TestRedisBudget_CountersExpire(t *testing.T) {
	b, mr, _ := newTestBudget(t, 5)
	ok, _ := b.Allow(context.Background(), "client", 1)
	require.True(t, ok)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 2*time.Second, mr.TTL(keys[0]))
}

func TestRedisBudget_CostAboveBudgetSpendsWholeWindow(t *testing.T) {
	b, _, clock := newTestBudget(t, 4)
	ctx := context.Background()

	ok, _ := b.Allow(ctx, "client", CostDashboard)
	require.True(t, ok, "a route costing more than the budget is not locked out")
	ok, _ = b.Allow(ctx, "client", 1)
	assert.False(t, ok)

	*clock = clock.Add(time.Second)
	ok, _ = b.Allow(ctx, "client", CostDashboard)
	assert.True(t, ok)
}

func TestRedisBudget_Usage(t *testing.T) {
	b, _, _ := newTestBudget(t, 10)
	ctx := context.Background()

	ok, _ := b.Allow(ctx, "client", 3)
	require.True(t, ok)

	usage, err := b.Usage(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, Usage{Backend: "redis", Client: "client", Budget: 10, Used: 3}, usage)

	usage, err = b.Usage(ctx, "idle")
	require.NoError(t, err)
	assert.Zero(t, usage.Used)
}

func TestRedisBudget_UsageWhenRedisDown(t *testing.T) {
	b, mr, _ := newTestBudget(t, 10)
	mr.Close()

	_, err := b.Usage(context.Background(), "client")
	assert.Error(t, err)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(1, 3)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "a", 2)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a", 1)
	assert.True(t, ok)
	ok, wait := l.Allow(ctx, "a", 1)
	assert.False(t, ok)
	assert.Positive(t, wait)

	ok, _ = l.Allow(ctx, "b", 3)
	assert.True(t, ok)
	assert.Equal(t, 2, l.Clients())
}

func TestLocalLimiter_Usage(t *testing.T) {
	l := NewLocalLimiter(0.001, 5)
	ctx := context.Background()

	usage, err := l.Usage(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, Usage{Backend: "local", Client: "a", Budget: 5}, usage)
	assert.Zero(t, l.Clients(), "reporting does not track new clients")

	ok, _ := l.Allow(ctx, "a", 2)
	require.True(t, ok)

	usage, err = l.Usage(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Used)
	assert.Equal(t, 1, usage.Clients)
}

func TestLocalLimiter_Unlimited(t *testing.T) {
	l := NewLocalLimiter(0, 1)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow(context.Background(), "a", 5)
		require.True(t, ok)
	}
}

func TestCostRegistry(t *testing.T) {
	r := NewCostRegistry(map[string]int{RouteRegister: 10, "session": 0})

	assert.Equal(t, CostDashboard, r.GetCost(RouteDashboard))
	assert.Equal(t, 10, r.GetCost(RouteRegister))
	assert.Equal(t, DefaultCost, r.GetCost("session"))

	r.SetCost("session", 2)
	r.SetCost(RouteDashboard, -1)
	assert.Equal(t, 2, r.GetCost("session"))
	assert.Equal(t, CostDashboard, r.GetCost(RouteDashboard))
}
