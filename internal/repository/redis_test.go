package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hey-fireball/internal/ledger"
	"hey-fireball/internal/ledger/ledgertest"
	"hey-fireball/internal/model"
)

func setupRedis(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	backend := NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	t.Cleanup(func() { _ = backend.Close() })
	return backend, mr
}

func TestRedisBackend(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Backend {
		backend, _ := setupRedis(t)
		return backend
	})
}

func TestRedisBackend_KeyLayout(t *testing.T) {
	ctx := context.Background()
	backend, mr := setupRedis(t)

	require.NoError(t, backend.Credit(ctx, "U1", model.Positive, 3, "2024-03-10"))
	ok, err := backend.TryDebit(ctx, "U1", model.Negative, 2, 3, "2024-03-10")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "3", mr.HGet("test:user:U1", "pos_received_total"))
	assert.Equal(t, "2", mr.HGet("test:user:U1", "neg_used_today"))
	assert.Equal(t, "2024-03-10", mr.HGet("test:user:U1", "last_rollover_day"))

	users, err := mr.List("test:users")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, users)

	_, err = backend.Load(ctx, "U1", "2024-03-12")
	require.NoError(t, err)

	entries, err := mr.List("test:history:U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-10|0|0|3|3|2|2|0|0"}, entries)
}

func TestRedisBackend_MalformedHistory(t *testing.T) {
	backend, mr := setupRedis(t)

	_, err := mr.Push("test:history:U1", "2024-03-10|1|2")
	require.NoError(t, err)

	_, err = backend.History(context.Background(), "U1")
	assert.Error(t, err)
}

func TestRedisBackend_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	backend := NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "test")
	defer backend.Close()
	mr.Close()

	l := ledger.New(backend, ledger.Caps{model.Positive: 5})
	ok, err := l.TryDebit(context.Background(), "U1", model.Positive, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ledger.ErrBackend)
}
