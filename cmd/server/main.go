package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/outreach/internal/api"
	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/sealer"
	"github.com/ignite/outreach/internal/repository/postgres"
	"github.com/ignite/outreach/internal/service/assignment"
	"github.com/ignite/outreach/internal/service/budget"
	"github.com/ignite/outreach/internal/service/dispatch"
	"github.com/ignite/outreach/internal/service/queue"
	"github.com/ignite/outreach/internal/service/sender"
	"github.com/ignite/outreach/internal/storage"
	"github.com/ignite/outreach/internal/worker"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	log.Println("Starting outreach server...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Database connection
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	// Redis is optional: without it batch enqueue is disabled and the
	// recovery loop falls back to a Postgres advisory lock.
	rdb := connectRedis(cfg.Redis.URL)
	if rdb != nil {
		defer rdb.Close()
	}

	box, err := sealer.New(cfg.Secrets.SealerKey)
	if err != nil {
		log.Fatalf("Failed to initialize sealer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repositories
	senderRepo := postgres.NewSenderRepo(db)
	usageRepo := postgres.NewUsageRepo(db)
	actionRepo := postgres.NewActionRepo(db)
	connRepo := postgres.NewConnectionRepo(db)

	// Services
	queueOpts := []queue.Option{queue.WithMaxAttempts(cfg.Queue.MaxAttempts)}
	if cfg.Queue.BackoffBaseSeconds > 0 && cfg.Queue.BackoffMaxSeconds > 0 {
		queueOpts = append(queueOpts, queue.WithBackoff(queue.Backoff{
			Base:  cfg.Queue.BackoffBase(),
			Max:   cfg.Queue.BackoffMax(),
			Floor: queue.DefaultBackoff.Floor,
		}))
	}
	queueSvc := queue.NewService(actionRepo, connRepo, queueOpts...)
	budgetSvc := budget.NewService(senderRepo, usageRepo, budget.WithMinAcceptanceRate(cfg.Warmup.MinAcceptanceRate))
	senderSvc := sender.NewService(senderRepo, box, connRepo)
	assignSvc := assignment.NewService(senderRepo, usageRepo)
	dispatchSvc := dispatch.NewService(queueSvc, budgetSvc, senderSvc, connRepo)

	var batches api.Batches
	if rdb != nil {
		batches = queue.NewBatchEnqueuer(queueSvc, rdb)
		log.Println("Batch enqueue enabled")
	}

	// The server never writes snapshots; it only reports whether the
	// workers' store is reachable.
	var probe api.Probe
	if snapshots, err := storage.New(ctx, cfg.Storage); err != nil {
		log.Printf("Warning: snapshot storage unavailable: %v", err)
	} else {
		probe = snapshots
	}
	health := api.NewHealthChecker(db, rdb, probe)
	handlers := api.NewHandlers(queueSvc, batches, budgetSvc, senderSvc, assignSvc, dispatchSvc, health)
	server := api.NewServer(handlers, cfg.Secrets.WorkerSecret, cfg.Server.AllowedOrigins)

	// Queue recovery (reclaims actions stranded by crashed workers)
	recoveryLock := distlock.NewLock(rdb, db, worker.RecoveryLockKey, cfg.Queue.RecoveryInterval())
	recovery := worker.NewQueueRecoveryWorkerWithConfig(queueSvc, recoveryLock, cfg.Queue.RecoveryInterval(), cfg.Queue.StaleAfter())
	go recovery.Start(ctx)
	log.Printf("Queue recovery started (every %s, stale after %s)", cfg.Queue.RecoveryInterval(), cfg.Queue.StaleAfter())

	// Warmup progression
	if cfg.Warmup.Enabled {
		if rdb == nil {
			log.Println("Warning: warmup scheduler requires redis, not starting")
		} else {
			interval := time.Duration(cfg.Warmup.CheckIntervalMinutes) * time.Minute
			warmup := worker.NewWarmupScheduler(senderSvc, budgetSvc, rdb, interval)
			go warmup.Start(ctx)
			log.Println("Warmup scheduler started")
		}
	}

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// connectRedis returns nil when url is empty or the server is unreachable.
func connectRedis(url string) *redis.Client {
	if url == "" {
		log.Println("Redis not configured")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("Warning: invalid REDIS_URL, falling back to plain address: %v", err)
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: redis unreachable, continuing without it: %v", err)
		client.Close()
		return nil
	}
	log.Println("Connected to redis")
	return client
}
