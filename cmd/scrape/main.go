package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/mercari-scraper/internal/app"
	"github.com/maltedev/mercari-scraper/internal/config"
	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/internal/orchestrator"
	"github.com/maltedev/mercari-scraper/pkg/logger"
)

type result struct {
	Stats    *models.RunStatistics   `json:"stats"`
	Products []*models.ProductRecord `json:"products"`
}

func main() {
	var (
		mode     = flag.String("mode", "ranking", "Seed page: ranking or search")
		keyword  = flag.String("keyword", "", "Search keyword (search mode)")
		priceMin = flag.Int("price-min", 0, "Minimum price in yen (search mode)")
		priceMax = flag.Int("price-max", 0, "Maximum price in yen (search mode)")
		category = flag.String("category", "", "Category id (search mode)")
		sortBy   = flag.String("sort", "", "Sort order (search mode)")
		limit    = flag.Int("limit", 0, "Maximum listings to extract (default SCRAPER_LIMIT)")
		backend  = flag.String("browser", "", "Browser backend override: playwright, chromedp or static")
		output   = flag.String("output", "-", "Write extracted listings as JSON to this file; - for stdout")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *limit > 0 {
		cfg.Scraper.Limit = *limit
	}
	if *backend != "" {
		cfg.Browser.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received, stopping after the current listing")
		cancel()
	}()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var seed orchestrator.Seed
	switch *mode {
	case "ranking":
		seed = orchestrator.RankingSeed(a.Site.RankingURL())
	case "search":
		if *keyword == "" {
			log.Error("-keyword is required in search mode")
			os.Exit(2)
		}
		seed, err = orchestrator.SearchSeed(a.Site.SearchURL(), orchestrator.Query{
			Keyword:    *keyword,
			PriceMin:   *priceMin,
			PriceMax:   *priceMax,
			CategoryID: *category,
			Sort:       *sortBy,
		})
		if err != nil {
			log.Error("failed to build search url", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}

	records, stats, runErr := a.Orchestrator.Run(ctx, seed, cfg.Scraper.Limit)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("run failed", "error", runErr)
		os.Exit(1)
	}

	if err := writeResult(*output, result{Stats: stats, Products: records}); err != nil {
		log.Error("failed to write output", "error", err)
		os.Exit(1)
	}

	if runErr != nil {
		os.Exit(130)
	}
}

func writeResult(path string, res result) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}
