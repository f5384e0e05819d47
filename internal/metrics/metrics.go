package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scrape runs. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry                 *prometheus.Registry
	RunsTotal                *prometheus.CounterVec
	RunDuration              prometheus.Histogram
	ActiveRuns               prometheus.Gauge
	URLsCollectedTotal       prometheus.Counter
	ItemsTotal               *prometheus.CounterVec
	ItemFailuresTotal        *prometheus.CounterVec
	NavigationRetriesTotal   prometheus.Counter
	PersistenceFailuresTotal prometheus.Counter
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Scrape runs by outcome.",
		},
		[]string{"outcome"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time of a scrape run.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_runs",
			Help: "Runs currently holding a browser session.",
		},
	)
	collected := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_urls_collected_total",
			Help: "Candidate listing URLs returned by the collector.",
		},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_total",
			Help: "Listing pages processed by result.",
		},
		[]string{"result"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_item_failures_total",
			Help: "Listing failures by reason.",
		},
		[]string{"reason"},
	)
	navRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_navigation_retries_total",
			Help: "Navigations retried with the alternate wait strategy.",
		},
	)
	persistence := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_persistence_failures_total",
			Help: "Valid listings that could not be stored.",
		},
	)

	registry.MustRegister(runs, runDuration, active, collected, items, failures, navRetries, persistence)

	return &Metrics{
		Registry:                 registry,
		RunsTotal:                runs,
		RunDuration:              runDuration,
		ActiveRuns:               active,
		URLsCollectedTotal:       collected,
		ItemsTotal:               items,
		ItemFailuresTotal:        failures,
		NavigationRetriesTotal:   navRetries,
		PersistenceFailuresTotal: persistence,
	}
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records the outcome and duration of a run started with RunStarted.
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) AddCollected(n int) {
	if m == nil {
		return
	}
	m.URLsCollectedTotal.Add(float64(n))
}

func (m *Metrics) IncSucceeded() {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues("succeeded").Inc()
}

// IncFailed counts a failed listing under reason.
func (m *Metrics) IncFailed(reason string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues("failed").Inc()
	m.ItemFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddNavigationRetries(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.NavigationRetriesTotal.Add(float64(n))
}

func (m *Metrics) IncPersistenceFailure() {
	if m == nil {
		return
	}
	m.PersistenceFailuresTotal.Inc()
}
