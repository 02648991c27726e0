//go:build integration

package idempotency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s := NewRedisStore(startRedis(t), time.Minute)

	_, ok, err := s.Recall(ctx, "client:1", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	locked, err := s.TryLock(ctx, "client:1", "k")
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = s.TryLock(ctx, "client:1", "k")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, s.Remember(ctx, "client:1", "k", "order-1"))
	id, ok, err := s.Recall(ctx, "client:1", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "order-1", id)

	require.NoError(t, s.Release(ctx, "client:1", "k"))
	locked, err = s.TryLock(ctx, "client:1", "k")
	require.NoError(t, err)
	assert.True(t, locked)
}
