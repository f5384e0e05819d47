package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the metric named name whose labels include
// every pair in labels.
func sample(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestMetrics_RunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	assert.Equal(t, 1.0, sample(t, m, "scraper_active_runs", nil))

	m.AddCollected(7)
	m.IncSucceeded()
	m.IncSucceeded()
	m.IncFailed("validation")
	m.IncFailed("navigation")
	m.IncFailed("navigation")
	m.AddNavigationRetries(3)
	m.AddNavigationRetries(0)
	m.IncPersistenceFailure()
	m.RunFinished("completed", 12*time.Second)

	assert.Equal(t, 0.0, sample(t, m, "scraper_active_runs", nil))
	assert.Equal(t, 1.0, sample(t, m, "scraper_runs_total", map[string]string{"outcome": "completed"}))
	assert.Equal(t, 1.0, sample(t, m, "scraper_run_duration_seconds", nil))
	assert.Equal(t, 7.0, sample(t, m, "scraper_urls_collected_total", nil))
	assert.Equal(t, 2.0, sample(t, m, "scraper_items_total", map[string]string{"result": "succeeded"}))
	assert.Equal(t, 3.0, sample(t, m, "scraper_items_total", map[string]string{"result": "failed"}))
	assert.Equal(t, 2.0, sample(t, m, "scraper_item_failures_total", map[string]string{"reason": "navigation"}))
	assert.Equal(t, 3.0, sample(t, m, "scraper_navigation_retries_total", nil))
	assert.Equal(t, 1.0, sample(t, m, "scraper_persistence_failures_total", nil))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.AddCollected(1)
		m.IncSucceeded()
		m.IncFailed("x")
		m.AddNavigationRetries(1)
		m.IncPersistenceFailure()
		m.RunFinished("failed", time.Second)
	})
}
