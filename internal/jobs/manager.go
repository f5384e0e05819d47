package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/internal/orchestrator"
	"github.com/maltedev/mercari-scraper/internal/queue"
)

var ErrJobFinished = errors.New("job already finished")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Trigger string

const (
	TriggerAPI      Trigger = "api"
	TriggerSchedule Trigger = "schedule"
)

// Job is one requested run and, once it has executed, its statistics.
type Job struct {
	ID          string                `json:"id"`
	Trigger     Trigger               `json:"trigger"`
	Seed        orchestrator.Seed     `json:"seed"`
	Limit       int                   `json:"limit"`
	Status      Status                `json:"status"`
	Stats       *models.RunStatistics `json:"stats,omitempty"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	if j.Stats != nil {
		stats := *j.Stats
		c.Stats = &stats
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Runner executes a single run.
type Runner interface {
	RunWithID(ctx context.Context, runID string, seed orchestrator.Seed, limit int) ([]*models.ProductRecord, *models.RunStatistics, error)
}

// Manager accepts run requests, queues them and executes them on a fixed
// number of workers. Jobs may also be submitted on a cron schedule.
type Manager struct {
	runner Runner
	store  Store
	queue  queue.Queue
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time

	// mu also serialises the pending->running and pending->cancelled
	// transitions so a job is either claimed by a worker or cancelled, never both.
	mu      sync.Mutex
	running map[string]context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func NewManager(runner Runner, store Store, q queue.Queue, logger *slog.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if q == nil {
		q = queue.NewInMemoryQueue(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner:  runner,
		store:   store,
		queue:   q,
		cron:    cron.New(),
		logger:  logger.With("component", "job_manager"),
		now:     time.Now,
		running: make(map[string]context.CancelFunc),
	}
}

// Submit records a pending job and queues it.
func (m *Manager) Submit(ctx context.Context, seed orchestrator.Seed, limit int, trigger Trigger) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Seed:      seed,
		Limit:     limit,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}
	if err := m.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	priority := queue.PriorityScheduled
	if trigger == TriggerAPI {
		priority = queue.PriorityManual
	}
	err := m.queue.Push(&queue.Task{
		ID:        job.ID,
		Seed:      seed,
		Limit:     limit,
		Priority:  priority,
		CreatedAt: job.CreatedAt,
	})
	if err != nil {
		m.finish(ctx, job, err)
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "seed", seed.URL, "limit", limit, "trigger", trigger)
	return job.clone(), nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, limit int) ([]*Job, error) {
	jobs, err := m.store.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Cancel stops a running job or marks a pending one cancelled so workers
// skip it.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cancel, running := m.running[id]; running {
		m.logger.Info("cancelling running job", "id", id)
		cancel()
		return nil
	}

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Finished() {
		return ErrJobFinished
	}
	m.finish(ctx, job, context.Canceled)
	return nil
}

// Schedule submits a job with seed every time spec fires. Schedules are
// active once Start has been called.
func (m *Manager) Schedule(spec string, seed orchestrator.Seed, limit int) error {
	_, err := m.cron.AddFunc(spec, func() {
		if _, err := m.Submit(context.Background(), seed, limit, TriggerSchedule); err != nil {
			m.logger.Error("failed to submit scheduled job", "spec", spec, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add schedule %q: %w", spec, err)
	}
	m.logger.Info("scheduled recurring run", "spec", spec, "seed", seed.URL, "limit", limit)
	return nil
}

// Start launches workers and the scheduler. Workers stop when ctx ends or
// the manager is stopped.
func (m *Manager) Start(ctx context.Context, workers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	m.cron.Start()
	m.logger.Info("job manager started", "workers", workers)
}

// Stop halts the scheduler, closes the queue and waits for in-flight runs
// until ctx ends.
func (m *Manager) Stop(ctx context.Context) error {
	<-m.cron.Stop().Done()
	_ = m.queue.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("job manager stopped")
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for _, cancel := range m.running {
			cancel()
		}
		m.mu.Unlock()
		return fmt.Errorf("timed out waiting for running jobs: %w", ctx.Err())
	}
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	logger := m.logger.With("worker", n)
	logger.Debug("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && ctx.Err() == nil {
				logger.Error("failed to take job from queue", "error", err)
			}
			logger.Debug("job worker stopping")
			return
		}
		m.process(ctx, task)
	}
}

func (m *Manager) process(ctx context.Context, task *queue.Task) {
	// bookkeeping writes must land even when ctx is being cancelled
	storeCtx := context.WithoutCancel(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, ok := m.claim(storeCtx, task.ID, cancel)
	if !ok {
		return
	}
	defer func() {
		m.mu.Lock()
		delete(m.running, job.ID)
		m.mu.Unlock()
	}()

	m.logger.Info("processing job", "id", job.ID, "seed", task.Seed.URL, "limit", task.Limit)
	_, stats, err := m.runner.RunWithID(runCtx, job.ID, task.Seed, task.Limit)
	job.Stats = stats
	m.finish(storeCtx, job, err)
}

// claim moves a pending job to running and registers cancel for it. Jobs
// cancelled or finished while queued are skipped.
func (m *Manager) claim(ctx context.Context, id string, cancel context.CancelFunc) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Error("failed to load queued job", "id", id, "error", err)
		return nil, false
	}
	if job.Status != StatusPending {
		m.logger.Info("skipping job", "id", job.ID, "status", job.Status)
		return nil, false
	}

	started := m.now()
	job.Status = StatusRunning
	job.StartedAt = &started
	if err := m.store.Save(ctx, job); err != nil {
		m.logger.Error("failed to update job status", "id", job.ID, "error", err)
	}
	m.running[job.ID] = cancel
	return job, true
}

// finish records the terminal status implied by err.
func (m *Manager) finish(ctx context.Context, job *Job, err error) {
	completed := m.now()
	job.CompletedAt = &completed

	switch {
	case err == nil:
		job.Status = StatusCompleted
	case errors.Is(err, context.Canceled):
		job.Status = StatusCancelled
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
	}

	if saveErr := m.store.Save(ctx, job); saveErr != nil {
		m.logger.Error("failed to update job status", "id", job.ID, "error", saveErr)
	}

	if job.Status == StatusFailed {
		m.logger.Error("job failed", "id", job.ID, "error", err)
	} else {
		m.logger.Info("job finished", "id", job.ID, "status", job.Status)
	}
}
