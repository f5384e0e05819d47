package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/maltedev/mercari-scraper/internal/browser"
	"github.com/maltedev/mercari-scraper/internal/collector"
	"github.com/maltedev/mercari-scraper/internal/extract"
	"github.com/maltedev/mercari-scraper/internal/metrics"
	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/internal/ratelimit"
	"github.com/maltedev/mercari-scraper/internal/storage"
	"github.com/maltedev/mercari-scraper/internal/validation"
)

// Failure reasons used in logs and metrics.
const (
	ReasonNavigation        = "navigation"
	ReasonNavigationTimeout = "navigation_timeout"
	ReasonContent           = "content"
	ReasonParse             = "parse"
	ReasonValidation        = "validation"
	ReasonPanic             = "panic"
	ReasonPersistence       = "persistence"
	ReasonUnexpected        = "unexpected"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Upserter stores valid records.
type Upserter interface {
	Upsert(ctx context.Context, rec *models.ProductRecord) (created bool, err error)
}

// Deps are the collaborators every run needs. Sink is optional.
type Deps struct {
	Launcher  browser.Launcher
	Browser   *browser.Options
	Collector *collector.Collector
	Extractor *extract.Extractor
	Validator *validation.Validator
	Sink      Upserter
}

type Option func(*Orchestrator)

// WithLimiter paces item visits within a run.
func WithLimiter(l ratelimit.RateLimiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithScreenshotDir saves a screenshot of every failed listing under dir.
func WithScreenshotDir(dir string) Option {
	return func(o *Orchestrator) { o.screenshotDir = dir }
}

func WithStateObserver(fn StateObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithItemWait sets the wait strategy for listing pages.
func WithItemWait(w browser.WaitStrategy) Option {
	return func(o *Orchestrator) { o.itemWait = w }
}

// Orchestrator runs the collect, extract, validate and store pipeline. Each
// run owns its own browser session, so runs may execute concurrently.
type Orchestrator struct {
	deps          Deps
	limiter       ratelimit.RateLimiter
	metrics       *metrics.Metrics
	screenshotDir string
	observer      StateObserver
	itemWait      browser.WaitStrategy
	logger        *slog.Logger
}

func New(deps Deps, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Launcher == nil:
		return nil, errors.New("orchestrator requires a browser launcher")
	case deps.Collector == nil:
		return nil, errors.New("orchestrator requires a collector")
	case deps.Extractor == nil:
		return nil, errors.New("orchestrator requires an extractor")
	case deps.Validator == nil:
		return nil, errors.New("orchestrator requires a validator")
	}
	if deps.Browser == nil {
		deps.Browser = browser.DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		deps:     deps,
		limiter:  ratelimit.Unlimited(),
		itemWait: browser.WaitNetworkIdle,
		logger:   logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes one run under a fresh run id.
func (o *Orchestrator) Run(ctx context.Context, seed Seed, limit int) ([]*models.ProductRecord, *models.RunStatistics, error) {
	return o.RunWithID(ctx, uuid.NewString(), seed, limit)
}

// RunWithID collects up to limit listing URLs from seed and extracts them
// one by one. Item failures are counted, never fatal. The error is non-nil
// only when the browser cannot start or ctx ends; statistics are always
// returned, together with the records gathered so far.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, seed Seed, limit int) ([]*models.ProductRecord, *models.RunStatistics, error) {
	r := &run{
		id:     runID,
		o:      o,
		stats:  models.NewRunStatistics(runID, seed.URL, limit),
		logger: o.logger.With("run_id", runID),
	}
	return r.execute(ctx, seed, limit)
}

type run struct {
	id     string
	o      *Orchestrator
	stats  *models.RunStatistics
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

func (r *run) transition(to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()

	r.logger.Debug("run state changed", "from", from, "to", to)
	if r.o.observer != nil {
		r.o.observer(r.id, from, to)
	}
}

func (r *run) execute(ctx context.Context, seed Seed, limit int) ([]*models.ProductRecord, *models.RunStatistics, error) {
	o := r.o
	r.logger.Info("starting run", "seed", seed.URL, "paginated", seed.Paginated, "limit", limit)

	r.transition(StateStarting)
	o.metrics.RunStarted()

	session, err := browser.Acquire(ctx, o.deps.Launcher, o.deps.Browser, r.logger)
	if err != nil {
		r.stats.Finish()
		r.transition(StateFailed)
		o.metrics.RunFinished(OutcomeFailed, r.stats.Elapsed)
		r.logger.Error("failed to start browser", "error", err)
		return nil, r.stats, err
	}
	// Release is idempotent; this covers panics escaping the loop.
	defer session.Release()

	records, err := r.collectAndExtract(ctx, session, seed, limit)

	r.transition(StateFinalizing)
	if relErr := session.Release(); relErr != nil {
		r.logger.Warn("browser release reported an error", "error", relErr)
	}
	o.metrics.AddNavigationRetries(session.NavigationRetries())
	r.stats.Finish()

	outcome := OutcomeCompleted
	if err != nil {
		outcome = OutcomeCancelled
	}
	o.metrics.RunFinished(outcome, r.stats.Elapsed)
	r.logSummary(outcome)
	r.transition(StateIdle)

	return records, r.stats, err
}

func (r *run) collectAndExtract(ctx context.Context, session *browser.Session, seed Seed, limit int) ([]*models.ProductRecord, error) {
	o := r.o

	r.transition(StateCollecting)
	var urls []string
	var err error
	if seed.Paginated {
		urls, err = o.deps.Collector.CollectPaginated(ctx, session, seed.URL, limit)
	} else {
		urls, err = o.deps.Collector.Collect(ctx, session, seed.URL, limit)
	}
	if err != nil {
		return nil, err
	}
	r.stats.Collected = len(urls)
	o.metrics.AddCollected(len(urls))
	if len(urls) == 0 {
		r.logger.Warn("no listing urls collected", "seed", seed.URL)
	}

	r.transition(StateExtracting)
	records := make([]*models.ProductRecord, 0, len(urls))
	for i, pageURL := range urls {
		if i > 0 {
			if err := o.limiter.Wait(ctx); err != nil {
				return records, err
			}
		}
		if err := ctx.Err(); err != nil {
			return records, err
		}

		rec, reason, err := r.processItem(ctx, session, pageURL)
		if ctx.Err() != nil {
			r.logger.Info("run cancelled while processing listing", "url", pageURL)
			return records, ctx.Err()
		}

		r.stats.Attempted++
		if err != nil {
			r.stats.Failed++
			o.metrics.IncFailed(reason)
			r.feedback(false)
			r.logger.Warn("listing skipped",
				"url", pageURL,
				"index", i,
				"reason", reason,
				"error", err)
			r.captureFailure(ctx, session, i)
			continue
		}

		r.stats.Succeeded++
		o.metrics.IncSucceeded()
		r.feedback(true)
		records = append(records, rec)
		r.logger.Info("listing extracted",
			"url", pageURL,
			"index", i,
			"name", rec.Name,
			"price", rec.Price)

		r.persist(ctx, rec)
	}
	return records, nil
}

// processItem visits one listing. Panics are reported as failures of that
// listing only.
func (r *run) processItem(ctx context.Context, session *browser.Session, pageURL string) (rec *models.ProductRecord, reason string, err error) {
	o := r.o
	defer func() {
		if p := recover(); p != nil {
			rec, reason, err = nil, ReasonPanic, fmt.Errorf("panic while processing %s: %v", pageURL, p)
		}
	}()

	if err := session.Navigate(ctx, pageURL, o.itemWait); err != nil {
		return nil, Classify(err), err
	}
	html, err := session.Content(ctx)
	if err != nil {
		return nil, ReasonContent, fmt.Errorf("failed to capture page: %w", err)
	}
	doc, err := o.deps.Extractor.Parse(html)
	if err != nil {
		return nil, ReasonParse, err
	}

	rec = o.deps.Extractor.Extract(doc, pageURL)
	if err := o.deps.Validator.Validate(rec); err != nil {
		return nil, ReasonValidation, err
	}
	return rec, "", nil
}

func (r *run) persist(ctx context.Context, rec *models.ProductRecord) {
	sink := r.o.deps.Sink
	if sink == nil {
		return
	}
	created, err := sink.Upsert(ctx, rec)
	if err != nil {
		r.stats.PersistenceFailures++
		r.o.metrics.IncPersistenceFailure()
		r.logger.Error("failed to store listing", "url", rec.URL, "error", err)
		return
	}
	r.logger.Debug("listing stored", "url", rec.URL, "created", created)
}

func (r *run) feedback(ok bool) {
	fb, isFeedback := r.o.limiter.(ratelimit.Feedback)
	if !isFeedback {
		return
	}
	if ok {
		fb.RecordSuccess()
	} else {
		fb.RecordError()
	}
}

// captureFailure writes a screenshot of the current page when a screenshot
// directory is configured. Failures here are only logged.
func (r *run) captureFailure(ctx context.Context, session *browser.Session, index int) {
	dir := r.o.screenshotDir
	if dir == "" {
		return
	}

	img, err := session.Screenshot(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			r.logger.Debug("backend cannot take screenshots")
		} else {
			r.logger.Warn("failed to take screenshot", "error", err)
		}
		return
	}

	ext := ".png"
	if http.DetectContentType(img) == "image/jpeg" {
		ext = ".jpg"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.logger.Warn("failed to create screenshot directory", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%03d%s", r.id, index, ext))
	if err := os.WriteFile(path, img, 0644); err != nil {
		r.logger.Warn("failed to write screenshot", "path", path, "error", err)
		return
	}
	r.logger.Info("saved failure screenshot", "path", path)
}

func (r *run) logSummary(outcome string) {
	s := r.stats
	r.logger.Info("run finished",
		"outcome", outcome,
		"requested", s.Requested,
		"collected", s.Collected,
		"attempted", s.Attempted,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"persistence_failures", s.PersistenceFailures,
		"elapsed", s.Elapsed,
		"success_rate", fmt.Sprintf("%.1f%%", s.SuccessRate()*100))
}

// Classify maps an item error to a failure reason.
func Classify(err error) string {
	var navErr *browser.NavigationError
	var valErr *validation.ValidationError
	var perErr *storage.PersistenceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &navErr):
		if navErr.Timeout {
			return ReasonNavigationTimeout
		}
		return ReasonNavigation
	case errors.Is(err, browser.ErrNavigationTimeout):
		return ReasonNavigationTimeout
	case errors.As(err, &valErr):
		return ReasonValidation
	case errors.As(err, &perErr):
		return ReasonPersistence
	default:
		return ReasonUnexpected
	}
}
