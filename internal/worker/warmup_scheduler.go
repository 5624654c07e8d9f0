package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/redis/go-redis/v9"
)

// WarmupSenders is the part of sender.Service the scheduler uses.
type WarmupSenders interface {
	ListActive(ctx context.Context, workspaceID string) ([]domain.Sender, error)
	RefreshAcceptanceRate(ctx context.Context, id string) (*float64, error)
}

// WarmupProgressor is implemented by budget.Service.
type WarmupProgressor interface {
	ProgressWarmup(ctx context.Context, senderID string) (bool, error)
}

// WarmupReport counts one daily pass.
type WarmupReport struct {
	Checked  int
	Advanced int
	Errors   int
}

// WarmupScheduler advances every warming sender once per UTC day. The day
// is claimed with SETNX so one server instance does the work.
type WarmupScheduler struct {
	senders  WarmupSenders
	budget   WarmupProgressor
	rdb      *redis.Client
	interval time.Duration
	now      func() time.Time
}

// NewWarmupScheduler checks every interval whether today's pass has run.
func NewWarmupScheduler(senders WarmupSenders, budget WarmupProgressor, rdb *redis.Client, interval time.Duration) *WarmupScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &WarmupScheduler{senders: senders, budget: budget, rdb: rdb, interval: interval, now: time.Now}
}

func warmupKey(day string) string { return "warmup:" + day }

// Start blocks until ctx is cancelled.
func (ws *WarmupScheduler) Start(ctx context.Context) {
	log.Printf("[Warmup] Starting (check_interval=%s)", ws.interval)
	ws.tick(ctx)

	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[Warmup] Stopping")
			return
		case <-ticker.C:
			ws.tick(ctx)
		}
	}
}

func (ws *WarmupScheduler) tick(ctx context.Context) {
	ran, report, err := ws.RunOnce(ctx)
	if err != nil {
		log.Printf("[Warmup] error: %v", err)
		return
	}
	if ran {
		log.Printf("[Warmup] checked=%d advanced=%d errors=%d", report.Checked, report.Advanced, report.Errors)
	}
}

// RunOnce runs today's pass unless some instance already claimed it.
func (ws *WarmupScheduler) RunOnce(ctx context.Context) (bool, WarmupReport, error) {
	var report WarmupReport
	day := domain.UsageDay(ws.now())

	host, _ := os.Hostname()
	claimed, err := ws.rdb.SetNX(ctx, warmupKey(day), host, 48*time.Hour).Result()
	if err != nil {
		return false, report, fmt.Errorf("claim warmup day: %w", err)
	}
	if !claimed {
		return false, report, nil
	}

	senders, err := ws.senders.ListActive(ctx, "")
	if err != nil {
		// Give the day back so the next tick retries.
		ws.rdb.Del(context.WithoutCancel(ctx), warmupKey(day))
		return false, report, fmt.Errorf("list active senders: %w", err)
	}

	for _, snd := range senders {
		if snd.WarmupDay == 0 {
			continue
		}
		report.Checked++
		if _, err := ws.senders.RefreshAcceptanceRate(ctx, snd.ID); err != nil {
			report.Errors++
			log.Printf("[Warmup] refresh acceptance rate for %s: %v", snd.ID, err)
		}
		advanced, err := ws.budget.ProgressWarmup(ctx, snd.ID)
		if err != nil {
			report.Errors++
			log.Printf("[Warmup] progress %s: %v", snd.ID, err)
			continue
		}
		if advanced {
			report.Advanced++
		}
	}
	return true, report, nil
}
