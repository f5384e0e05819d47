package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/mercari-scraper/internal/api"
	"github.com/maltedev/mercari-scraper/internal/app"
	"github.com/maltedev/mercari-scraper/internal/config"
	"github.com/maltedev/mercari-scraper/internal/database"
	"github.com/maltedev/mercari-scraper/internal/jobs"
	"github.com/maltedev/mercari-scraper/internal/orchestrator"
	"github.com/maltedev/mercari-scraper/internal/queue"
	"github.com/maltedev/mercari-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting mercari scraper service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// The outbox relay needs both the postgres outbox and a redis target.
	var relay *database.Relay
	if a.DB != nil && cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		relay = database.NewRelay(a.DB, redisClient, log, database.RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
	} else if a.DB != nil {
		log.Warn("REDIS_ADDR not set, product events stay in the outbox")
	}

	manager := jobs.NewManager(a.Orchestrator, a.Jobs, queue.NewInMemoryQueue(cfg.Scraper.QueueSize), log)
	if cfg.Schedule.RankingCron != "" {
		seed := orchestrator.RankingSeed(a.Site.RankingURL())
		if err := manager.Schedule(cfg.Schedule.RankingCron, seed, cfg.Schedule.RankingLimit); err != nil {
			log.Error("failed to schedule ranking runs", "error", err)
			os.Exit(1)
		}
	}
	manager.Start(ctx, cfg.Scraper.Workers)

	var outbox api.OutboxStats
	if relay != nil {
		outbox = relay
	}
	handlers := api.NewHandlers(manager, a.Site, outbox, cfg.Scraper.Limit, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, a.Metrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		if err := manager.Stop(shutdownCtx); err != nil {
			log.Error("job manager shutdown failed", "error", err)
		}
		cancel()
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("server stopped")
}
