package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/service/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecoverer struct {
	calls    atomic.Int32
	staleAge atomic.Int64
}

func (c *countingRecoverer) RecoverStuck(_ context.Context, staleAge time.Duration) (queue.RecoveryReport, error) {
	c.calls.Add(1)
	c.staleAge.Store(int64(staleAge))
	return queue.RecoveryReport{Scanned: 2, Requeued: 1, Failed: 1}, nil
}

func TestQueueRecoveryRunsUnderLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rec := &countingRecoverer{}
	qr := NewQueueRecoveryWorkerWithConfig(rec, distlock.NewRedisLock(rdb, RecoveryLockKey, time.Minute), time.Minute, 45*time.Minute)

	assert.True(t, qr.recoverStuckItems(context.Background()))
	assert.EqualValues(t, 1, rec.calls.Load())
	assert.Equal(t, int64(45*time.Minute), rec.staleAge.Load())
	assert.False(t, mr.Exists("lock:"+RecoveryLockKey), "lock released after scan")

	// Another instance holding the lock makes this one skip.
	other := distlock.NewRedisLock(rdb, RecoveryLockKey, time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, qr.recoverStuckItems(context.Background()))
	assert.EqualValues(t, 1, rec.calls.Load())
}

func TestQueueRecoveryScansAtStart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rec := &countingRecoverer{}
	qr := NewQueueRecoveryWorker(rec, distlock.NewRedisLock(rdb, RecoveryLockKey, time.Minute))
	assert.Equal(t, DefaultRecoveryInterval, qr.interval)
	assert.Equal(t, queue.DefaultStaleAge, qr.staleAge)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		qr.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
