package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/service/queue"
)

// =============================================================================
// QUEUE RECOVERY WORKER - Reclaims Actions Stranded By Crashed Workers
// =============================================================================
// If a worker dies mid-batch, its claimed actions stay 'running' forever.
// This loop periodically hands them back to the queue (or fails them once
// their attempts are spent). Only one server instance scans at a time.

const (
	// DefaultRecoveryInterval is how often we scan for stuck actions.
	DefaultRecoveryInterval = 2 * time.Minute

	// RecoveryLockKey is the distlock key guarding the scan.
	RecoveryLockKey = "outreach:queue-recovery"
)

// StuckRecoverer is implemented by queue.Service.
type StuckRecoverer interface {
	RecoverStuck(ctx context.Context, staleAge time.Duration) (queue.RecoveryReport, error)
}

// QueueRecoveryWorker periodically reclaims stuck actions.
type QueueRecoveryWorker struct {
	queue    StuckRecoverer
	lock     distlock.DistLock
	interval time.Duration
	staleAge time.Duration
}

// NewQueueRecoveryWorker creates a recovery worker with default settings.
func NewQueueRecoveryWorker(q StuckRecoverer, lock distlock.DistLock) *QueueRecoveryWorker {
	return NewQueueRecoveryWorkerWithConfig(q, lock, DefaultRecoveryInterval, queue.DefaultStaleAge)
}

// NewQueueRecoveryWorkerWithConfig creates a recovery worker with custom timing.
func NewQueueRecoveryWorkerWithConfig(q StuckRecoverer, lock distlock.DistLock, interval, staleAge time.Duration) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = queue.DefaultStaleAge
	}
	return &QueueRecoveryWorker{queue: q, lock: lock, interval: interval, staleAge: staleAge}
}

// Start runs a scan immediately and then every interval. It blocks until
// ctx is cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) {
	log.Printf("[QueueRecovery] Starting (interval=%s, stale_age=%s)", qr.interval, qr.staleAge)

	qr.recoverStuckItems(ctx)

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[QueueRecovery] Stopping")
			return
		case <-ticker.C:
			qr.recoverStuckItems(ctx)
		}
	}
}

// recoverStuckItems runs one scan under the lock. It reports whether the
// scan ran on this instance.
func (qr *QueueRecoveryWorker) recoverStuckItems(ctx context.Context) bool {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var report queue.RecoveryReport
	ran, err := distlock.WithLock(queryCtx, qr.lock, func(ctx context.Context) error {
		var err error
		report, err = qr.queue.RecoverStuck(ctx, qr.staleAge)
		return err
	})
	if err != nil {
		log.Printf("[QueueRecovery] scan error: %v", err)
		return ran
	}
	if !ran {
		return false
	}
	if report.Requeued > 0 || report.Failed > 0 || report.Errors > 0 {
		log.Printf("[QueueRecovery] scanned=%d requeued=%d failed=%d errors=%d",
			report.Scanned, report.Requeued, report.Failed, report.Errors)
	}
	return true
}
