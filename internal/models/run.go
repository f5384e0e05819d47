package models

import (
	"time"
)

// RunStatistics summarises a single pipeline run.
type RunStatistics struct {
	RunID               string        `json:"run_id"`
	Seed                string        `json:"seed"`
	Requested           int           `json:"requested"`
	Collected           int           `json:"collected"`
	Attempted           int           `json:"attempted"`
	Succeeded           int           `json:"succeeded"`
	Failed              int           `json:"failed"`
	PersistenceFailures int           `json:"persistence_failures"`
	StartedAt           time.Time     `json:"started_at"`
	Elapsed             time.Duration `json:"elapsed"`
}

func NewRunStatistics(runID, seed string, requested int) *RunStatistics {
	return &RunStatistics{
		RunID:     runID,
		Seed:      seed,
		Requested: requested,
		StartedAt: time.Now(),
	}
}

// SuccessRate is succeeded over collected, 0 when nothing was collected.
func (s *RunStatistics) SuccessRate() float64 {
	if s.Collected == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Collected)
}

// Finish stamps the elapsed time since StartedAt.
func (s *RunStatistics) Finish() {
	s.Elapsed = time.Since(s.StartedAt)
}
