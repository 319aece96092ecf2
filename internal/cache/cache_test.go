package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/cookiehunter/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return rc
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisCache("http://not-redis")
	assert.Error(t, err)
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Locks ---

func TestAcquireLock_Exclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.ScanLockKey(1)

	lock, err := rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, key, lock.Key)
	assert.NotEmpty(t, lock.Token)

	_, err = rc.AcquireLock(ctx, key, 10*time.Second)
	assert.ErrorIs(t, err, cache.ErrLockHeld)

	require.NoError(t, rc.ReleaseLock(ctx, lock))

	again, err := rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, lock.Token, again.Token)
}

func TestAcquireLock_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.ScanLockKey(2)

	_, err := rc.AcquireLock(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	_, err = rc.AcquireLock(ctx, key, 10*time.Second)
	assert.NoError(t, err)
}

func TestReleaseLock_StaleTokenKeepsNewHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.ScanLockKey(3)

	stale, err := rc.AcquireLock(ctx, key, 1*time.Second)
	require.NoError(t, err)
	time.Sleep(1500 * time.Millisecond)

	_, err = rc.AcquireLock(ctx, key, 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, rc.ReleaseLock(ctx, stale))

	_, err = rc.AcquireLock(ctx, key, 10*time.Second)
	assert.ErrorIs(t, err, cache.ErrLockHeld, "stale release must not free the new holder's lock")
}

func TestReleaseLock_Nil(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.ReleaseLock(context.Background(), nil))
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	// After expiry, should start from 1 again
	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// --- Key Builders ---

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:203.0.113.7", cache.RateLimitKey("203.0.113.7"))
}

func TestScanLockKey(t *testing.T) {
	assert.Equal(t, "scan:lock:42", cache.ScanLockKey(42))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	keys := map[string]bool{
		cache.ScanLockKey(1):           true,
		cache.ScanLockKey(2):           true,
		cache.ScanLockAllKey:           true,
		cache.RateLimitKey("10.0.0.1"): true,
	}
	assert.Len(t, keys, 4, "all keys should be unique")
}
