package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/internal/orchestrator"
	"github.com/maltedev/mercari-scraper/internal/queue"
	"github.com/maltedev/mercari-scraper/pkg/logger"
)

var rankingSeed = orchestrator.RankingSeed("https://jp.mercari.com/ranking")

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) RunWithID(ctx context.Context, runID string, seed orchestrator.Seed, limit int) ([]*models.ProductRecord, *models.RunStatistics, error) {
	args := m.Called(ctx, runID, seed, limit)
	var stats *models.RunStatistics
	if s := args.Get(1); s != nil {
		stats = s.(*models.RunStatistics)
	}
	return nil, stats, args.Error(2)
}

// blockingRunner runs until its context ends.
type blockingRunner struct {
	started chan string
}

func (r *blockingRunner) RunWithID(ctx context.Context, runID string, seed orchestrator.Seed, limit int) ([]*models.ProductRecord, *models.RunStatistics, error) {
	r.started <- runID
	<-ctx.Done()
	return nil, models.NewRunStatistics(runID, seed.URL, limit), ctx.Err()
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestManager_RunsSubmittedJob(t *testing.T) {
	runner := &MockRunner{}
	stats := models.NewRunStatistics("", rankingSeed.URL, 5)
	stats.Collected, stats.Attempted, stats.Succeeded = 5, 5, 5
	runner.On("RunWithID", mock.Anything, mock.AnythingOfType("string"), rankingSeed, 5).Return(nil, stats, nil)

	m := NewManager(runner, nil, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, 1)

	job, err := m.Submit(ctx, rankingSeed, 5, TriggerAPI)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.NotEmpty(t, job.ID)

	done := waitForStatus(t, m, job.ID, StatusCompleted)
	require.NotNil(t, done.Stats)
	assert.Equal(t, 5, done.Stats.Succeeded)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)

	require.NoError(t, m.Stop(context.Background()))
	runner.AssertExpectations(t)
}

func TestManager_RecordsFailure(t *testing.T) {
	runner := &MockRunner{}
	runner.On("RunWithID", mock.Anything, mock.Anything, rankingSeed, 3).
		Return(nil, nil, errors.New("browser start: chromium missing"))

	m := NewManager(runner, nil, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, 2)

	job, err := m.Submit(ctx, rankingSeed, 3, TriggerAPI)
	require.NoError(t, err)

	failed := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Contains(t, failed.Error, "chromium missing")
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_CancelRunningJob(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 1)}
	m := NewManager(runner, nil, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, 1)

	job, err := m.Submit(ctx, rankingSeed, 10, TriggerAPI)
	require.NoError(t, err)

	select {
	case id := <-runner.started:
		assert.Equal(t, job.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, m.Cancel(ctx, job.ID))
	got := waitForStatus(t, m, job.ID, StatusCancelled)
	require.NotNil(t, got.Stats)

	assert.ErrorIs(t, m.Cancel(ctx, job.ID), ErrJobFinished)
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_CancelPendingJobIsSkipped(t *testing.T) {
	runner := &MockRunner{}
	m := NewManager(runner, nil, nil, logger.Discard())
	ctx := context.Background()

	job, err := m.Submit(ctx, rankingSeed, 10, TriggerSchedule)
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, job.ID))

	m.Start(ctx, 1)
	require.NoError(t, m.Stop(context.Background()))

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	runner.AssertNotCalled(t, "RunWithID", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// pausingStore holds the first Get of pauseID until release is closed.
type pausingStore struct {
	*MemoryStore
	pauseID string
	paused  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *pausingStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == s.pauseID {
		s.once.Do(func() {
			close(s.paused)
			<-s.release
		})
	}
	return s.MemoryStore.Get(ctx, id)
}

func TestManager_CancelDuringClaimStopsTheRun(t *testing.T) {
	store := &pausingStore{
		MemoryStore: NewMemoryStore(),
		paused:      make(chan struct{}),
		release:     make(chan struct{}),
	}
	runner := &blockingRunner{started: make(chan string, 1)}
	m := NewManager(runner, store, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := m.Submit(ctx, rankingSeed, 10, TriggerAPI)
	require.NoError(t, err)
	store.pauseID = job.ID
	m.Start(ctx, 1)

	select {
	case <-store.paused:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never loaded the job")
	}

	cancelled := make(chan error, 1)
	go func() { cancelled <- m.Cancel(ctx, job.ID) }()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	require.NoError(t, <-cancelled)
	got := waitForStatus(t, m, job.ID, StatusCancelled)
	assert.NotNil(t, got.StartedAt, "the worker claimed the job before the cancel")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, m.Stop(stopCtx), "the run must have been cancelled, not left running")
}

func TestManager_CancelUnknownJob(t *testing.T) {
	m := NewManager(&MockRunner{}, nil, nil, logger.Discard())
	assert.ErrorIs(t, m.Cancel(context.Background(), "nope"), ErrJobNotFound)
}

func TestManager_SubmitFailsWhenQueueFull(t *testing.T) {
	m := NewManager(&MockRunner{}, nil, queue.NewInMemoryQueue(1), logger.Discard())
	ctx := context.Background()

	_, err := m.Submit(ctx, rankingSeed, 1, TriggerAPI)
	require.NoError(t, err)
	_, err = m.Submit(ctx, rankingSeed, 1, TriggerAPI)
	require.ErrorIs(t, err, queue.ErrQueueFull)

	jobs, err := m.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	var statuses []Status
	for _, j := range jobs {
		statuses = append(statuses, j.Status)
	}
	assert.ElementsMatch(t, []Status{StatusPending, StatusFailed}, statuses)
}

func TestManager_ScheduleRejectsBadSpec(t *testing.T) {
	m := NewManager(&MockRunner{}, nil, nil, logger.Discard())
	assert.Error(t, m.Schedule("not a cron spec", rankingSeed, 10))
	assert.NoError(t, m.Schedule("0 */6 * * *", rankingSeed, 10))
}

func TestManager_ScheduledSubmissionsAreLowPriority(t *testing.T) {
	q := queue.NewInMemoryQueue(0)
	m := NewManager(&MockRunner{}, nil, q, logger.Discard())
	ctx := context.Background()

	scheduled, err := m.Submit(ctx, rankingSeed, 1, TriggerSchedule)
	require.NoError(t, err)
	manual, err := m.Submit(ctx, rankingSeed, 1, TriggerAPI)
	require.NoError(t, err)

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, manual.ID, first.ID)
	assert.Equal(t, scheduled.ID, second.ID)
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, &Job{ID: id, Status: StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	jobs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)

	_, err = s.Get(ctx, "zzz")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &Job{ID: "a", Status: StatusPending}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	got.Status = StatusFailed

	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
}
