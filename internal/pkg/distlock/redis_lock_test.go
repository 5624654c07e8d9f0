package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisLock_ExclusiveUntilReleased(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "interactive-session", time.Minute)
	second := NewRedisLock(client, "interactive-session", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lease")

	// A non-owner cannot release someone else's lease.
	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld)

	require.NoError(t, first.Release(ctx))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_LeaseExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "recovery", 10*time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	held, err := l.Held(ctx)
	require.NoError(t, err)
	assert.False(t, held)
	assert.ErrorIs(t, l.Extend(ctx, time.Minute), ErrNotHeld)
}

func TestWithLock_SkipsWhenHeld(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	holder := NewRedisLock(client, "warmup", time.Minute)
	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ran, err := WithLock(ctx, NewRedisLock(client, "warmup", time.Minute), func(context.Context) error {
		return errors.New("must not run")
	})
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, holder.Release(ctx))
	ran, err = WithLock(ctx, NewRedisLock(client, "warmup", time.Minute), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}
