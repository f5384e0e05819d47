package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/mercari-scraper/internal/config"
	"github.com/maltedev/mercari-scraper/internal/events"
	"github.com/maltedev/mercari-scraper/pkg/logger"
)

// event-consumer tails the listing event stream fed by the outbox relay and
// logs every created or updated listing.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Redis.Addr == "" {
		log.Error("REDIS_ADDR must be set")
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis", "addr", cfg.Redis.Addr)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("shutting down...")
		cancel()
	}()

	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream:   cfg.Redis.Stream,
		Group:    os.Getenv("EVENT_CONSUMER_GROUP"),
		Consumer: os.Getenv("EVENT_CONSUMER_NAME"),
	}, func(ctx context.Context, eventType events.EventType, p *events.ProductEventPayload) error {
		attrs := []any{"type", eventType, "url", p.URL, "name", p.Name, "price_text", p.PriceText}
		if p.Price != nil {
			attrs = append(attrs, "price", p.Price.Amount)
		}
		log.Info("listing event", attrs...)
		return nil
	}, log)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}
