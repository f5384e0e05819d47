package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/maltedev/mercari-scraper/internal/browser"
	"github.com/maltedev/mercari-scraper/internal/extract"
)

// Page is the part of a browser session the collector drives.
type Page interface {
	Navigate(ctx context.Context, url string, wait browser.WaitStrategy) error
	ScrollToLoad(ctx context.Context, times int, delay time.Duration) error
	Content(ctx context.Context) (string, error)
}

type Config struct {
	LinkSelectors     []string
	NextPageSelectors []string
	ScrollCycles      int
	ScrollDelay       time.Duration
	// MaxRetries is the number of extra visits made when a page yields no links.
	MaxRetries int
	RetryDelay time.Duration
	Wait       browser.WaitStrategy
	MaxPages   int
}

func DefaultConfig() Config {
	return Config{
		ScrollCycles: 5,
		ScrollDelay:  2 * time.Second,
		MaxRetries:   2,
		RetryDelay:   5 * time.Second,
		Wait:         browser.WaitDOMContentLoaded,
		MaxPages:     10,
	}
}

// Collector gathers candidate listing URLs from ranking and search pages.
type Collector struct {
	cfg      Config
	compiler *extract.Compiler
	logger   *slog.Logger
}

func New(cfg Config, compiler *extract.Compiler, logger *slog.Logger) *Collector {
	if cfg.Wait == "" {
		cfg.Wait = browser.WaitDOMContentLoaded
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if compiler == nil {
		compiler = extract.NewCompiler(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:      cfg,
		compiler: compiler,
		logger:   logger.With("component", "url_collector"),
	}
}

// Collect returns up to limit unique absolute URLs found on seed. A page
// that never yields links produces an empty result, not an error; only
// cancellation is reported. A limit <= 0 collects nothing.
func (c *Collector) Collect(ctx context.Context, page Page, seed string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	c.logger.Info("collecting listing urls", "seed", seed, "limit", limit)

	res, err := c.visitWithRetry(ctx, page, seed)
	if err != nil {
		return nil, err
	}

	seen := newURLSet()
	seen.addAll(res.links, limit)
	urls := seen.list()

	c.logger.Info("url collection finished", "seed", seed, "found", len(urls))
	return urls, nil
}

// CollectPaginated walks next-page links from seed, accumulating unseen URLs
// until limit is reached, no next page exists or MaxPages pages were read.
func (c *Collector) CollectPaginated(ctx context.Context, page Page, seed string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	c.logger.Info("collecting listing urls across pages", "seed", seed, "limit", limit, "max_pages", c.cfg.MaxPages)

	seen := newURLSet()
	visited := map[string]bool{}
	pageURL := seed

	for pageNum := 1; pageNum <= c.cfg.MaxPages; pageNum++ {
		visited[pageURL] = true

		res, err := c.visitWithRetry(ctx, page, pageURL)
		if err != nil {
			return seen.list(), err
		}

		added := seen.addAll(res.links, limit)
		c.logger.Info("processed listing page",
			"page", pageNum,
			"links", len(res.links),
			"new", added,
			"total", seen.len())

		if seen.len() >= limit {
			break
		}
		if res.next == "" {
			c.logger.Info("no next page found", "page", pageNum)
			break
		}
		if visited[res.next] {
			c.logger.Info("next page already visited", "url", res.next)
			break
		}
		pageURL = res.next
	}

	return seen.list(), nil
}

type pageResult struct {
	links []string
	next  string
}

func (c *Collector) visitWithRetry(ctx context.Context, page Page, pageURL string) (pageResult, error) {
	attempts := c.cfg.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		res, err := c.visit(ctx, page, pageURL)
		if ctx.Err() != nil {
			return pageResult{}, ctx.Err()
		}
		if err == nil && len(res.links) > 0 {
			return res, nil
		}

		if err != nil {
			c.logger.Warn("listing page visit failed", "url", pageURL, "attempt", attempt, "error", err)
		} else {
			c.logger.Warn("no listing links found", "url", pageURL, "attempt", attempt)
		}
		if attempt >= attempts {
			c.logger.Warn("giving up on listing page", "url", pageURL, "attempts", attempts)
			return res, nil
		}
		if err := browser.Sleep(ctx, c.cfg.RetryDelay); err != nil {
			return pageResult{}, err
		}
	}
}

// visit runs one navigate, scroll and capture cycle.
func (c *Collector) visit(ctx context.Context, page Page, pageURL string) (pageResult, error) {
	if err := page.Navigate(ctx, pageURL, c.cfg.Wait); err != nil {
		return pageResult{}, err
	}
	if err := page.ScrollToLoad(ctx, c.cfg.ScrollCycles, c.cfg.ScrollDelay); err != nil {
		return pageResult{}, fmt.Errorf("failed to scroll: %w", err)
	}
	html, err := page.Content(ctx)
	if err != nil {
		return pageResult{}, fmt.Errorf("failed to capture page: %w", err)
	}

	doc, err := extract.NewDocument(html, c.compiler)
	if err != nil {
		return pageResult{}, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return pageResult{}, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}

	return pageResult{
		links: c.links(doc, base),
		next:  c.nextPage(doc, base),
	}, nil
}

func (c *Collector) links(doc extract.Source, base *url.URL) []string {
	href := extract.Attribute("href")
	var out []string
	for _, expr := range c.cfg.LinkSelectors {
		hrefs, err := doc.SelectAll(expr, href)
		if err != nil {
			c.logger.Debug("link selector failed", "selector", expr, "error", err)
			continue
		}
		for _, h := range hrefs {
			if abs, ok := Resolve(base, h); ok {
				out = append(out, abs)
			}
		}
	}
	return out
}

func (c *Collector) nextPage(doc extract.Source, base *url.URL) string {
	for _, expr := range c.cfg.NextPageSelectors {
		h, err := doc.Select(expr, extract.Attribute("href"))
		if err != nil {
			c.logger.Debug("next page selector failed", "selector", expr, "error", err)
			continue
		}
		if abs, ok := Resolve(base, h); ok {
			return abs
		}
	}
	return ""
}

// Resolve makes href absolute against base. Fragments are dropped and only
// http and https results are accepted.
func Resolve(base *url.URL, href string) (string, bool) {
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

// urlSet keeps first-seen order.
type urlSet struct {
	seen  map[string]struct{}
	order []string
}

func newURLSet() *urlSet {
	return &urlSet{seen: make(map[string]struct{})}
}

// addAll adds unseen urls until the set holds limit entries and reports how
// many were added.
func (s *urlSet) addAll(urls []string, limit int) int {
	added := 0
	for _, u := range urls {
		if len(s.order) >= limit {
			break
		}
		if _, ok := s.seen[u]; ok {
			continue
		}
		s.seen[u] = struct{}{}
		s.order = append(s.order, u)
		added++
	}
	return added
}

func (s *urlSet) len() int {
	return len(s.order)
}

func (s *urlSet) list() []string {
	return append([]string(nil), s.order...)
}
