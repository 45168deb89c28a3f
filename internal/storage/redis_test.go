package storage

import (
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referral-dashboard/internal/config"
)

var alice = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisAccountStore_RoundTrip(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisAccountStore(client, "")
	ctx := testContext(t)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, alice))
	stored, err := mr.Get(DefaultAccountKey)
	require.NoError(t, err)
	assert.Equal(t, alice.Hex(), stored)
	assert.Zero(t, mr.TTL(DefaultAccountKey))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, alice, got)

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists(DefaultAccountKey))
	_, ok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisAccountStore_CustomKey(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisAccountStore(client, "dashboard:account")
	ctx := testContext(t)

	require.NoError(t, store.Save(ctx, alice))
	assert.Equal(t, "dashboard:account", store.Key())
	assert.True(t, mr.Exists("dashboard:account"))
	assert.False(t, mr.Exists(DefaultAccountKey))
}

func TestRedisAccountStore_IgnoresGarbage(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisAccountStore(client, "")
	ctx := testContext(t)

	for _, value := range []string{"not-an-address", "0x0000000000000000000000000000000000000000", ""} {
		require.NoError(t, mr.Set(DefaultAccountKey, value))
		_, ok, err := store.Load(ctx)
		require.NoError(t, err, value)
		assert.False(t, ok, value)
	}
}

func TestRedisAccountStore_ServerDown(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisAccountStore(client, "")
	mr.Close()

	_, _, err := store.Load(testContext(t))
	assert.Error(t, err)
	assert.Error(t, store.Save(testContext(t), alice))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	client, err := NewRedisClient(testContext(t), &config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()

	_, err = NewRedisClient(testContext(t), &config.RedisConfig{})
	assert.Error(t, err)
}

func TestMemoryAccountStore(t *testing.T) {
	store := NewMemoryAccountStore()
	ctx := testContext(t)

	_, ok, _ := store.Load(ctx)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, alice))
	got, ok, _ := store.Load(ctx)
	assert.True(t, ok)
	assert.Equal(t, alice, got)

	require.NoError(t, store.Clear(ctx))
	_, ok, _ = store.Load(ctx)
	assert.False(t, ok)
}
