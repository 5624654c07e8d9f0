package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/storage"
	"github.com/ignite/outreach/internal/template"
	"github.com/ignite/outreach/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	log.Println("Starting outreach worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	window, err := worker.NewWindow(cfg.BusinessHours)
	if err != nil {
		log.Fatalf("Invalid business hours: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requestTimeout := time.Duration(cfg.Worker.RequestTimeoutSecond) * time.Second
	client := worker.NewClient(cfg.Worker.ServerURL, cfg.Secrets.WorkerSecret, requestTimeout)
	browsers := worker.NewBrowserOpener(cfg.Browser)

	snapshots, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Printf("Warning: snapshot storage unavailable, failure snapshots disabled: %v", err)
		snapshots = nil
	}

	automation := worker.NewAutomation(client, browsers, browsers, template.NewRenderer(),
		snapshots, window, worker.PacingFromConfig(cfg.Worker), worker.Options{
			Workspaces:          cfg.Worker.Workspaces,
			ActionsPerSender:    cfg.Worker.ActionsPerSender,
			MaxProtocolTimeouts: cfg.Worker.MaxProtocolTimeouts,
			AutoRelogin:         cfg.Worker.AutoRelogin,
			SnapshotOnFailure:   cfg.Worker.SnapshotOnFailure,
		})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := automation.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Automation loop stopped: %v", err)
		}
	}()
	log.Printf("Automation started (%d workspaces, server %s)", len(cfg.Worker.Workspaces), cfg.Worker.ServerURL)

	var loginServer *worker.LoginServer
	if cfg.LoginServer.Enabled {
		rdb := connectRedis(cfg.Redis.URL)
		if rdb != nil {
			defer rdb.Close()
		}
		logins := worker.NewLoginManager(client, browsers, cfg.Browser.LoginTimeout())
		interactive := worker.NewInteractiveManager(cfg.Interactive, client, browsers, rdb)
		loginServer = worker.NewLoginServer(logins, interactive, cfg.Secrets.WorkerSecret)

		go func() {
			addr := fmt.Sprintf("%s:%d", cfg.LoginServer.Host, cfg.LoginServer.Port)
			log.Printf("Login server listening on %s", addr)
			if err := loginServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
				log.Printf("Login server error: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}

	log.Println("Shutting down worker...")
	cancel()

	if loginServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := loginServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Login server forced to shutdown: %v", err)
		}
		shutdownCancel()
	}

	// Let the in-flight action finish reporting.
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("Automation did not stop within 30s")
	}

	log.Println("Worker stopped")
}

// connectRedis returns nil when url is empty or the server is unreachable.
// The worker only uses redis to lease the interactive display.
func connectRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("Warning: invalid REDIS_URL, interactive lease disabled: %v", err)
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: redis unreachable, interactive lease disabled: %v", err)
		client.Close()
		return nil
	}
	return client
}
