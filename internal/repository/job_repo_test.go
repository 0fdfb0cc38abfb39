package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/safetrip/internal/domain"
)

func createRunningJob(t *testing.T, repo *JobRepository, id string, total int) {
	t.Helper()
	require.NoError(t, repo.CreateJob(context.Background(), &domain.RefreshJob{ID: id, TotalCountries: total}))
}

func ptr[T any](v T) *T { return &v }

// ============================================
// CreateJob
// ============================================

func TestCreateJob_Exclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))

	createRunningJob(t, repo, "job-1", 3)

	err := repo.CreateJob(ctx, &domain.RefreshJob{ID: "job-2", TotalCountries: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrJobAlreadyRunning))
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	require.NoError(t, repo.UpdateJob(ctx, "job-1", domain.JobUpdate{Status: ptr(domain.JobStatusCompleted)}))
	require.NoError(t, repo.CreateJob(ctx, &domain.RefreshJob{ID: "job-2", TotalCountries: 3}))
}

func TestCreateJob_ConcurrentOnlyOneWins(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.CreateJob(context.Background(), &domain.RefreshJob{ID: fmt.Sprintf("job-%d", i), TotalCountries: 1})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
}

func TestCreateJob_ResetsCounters(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	job := &domain.RefreshJob{ID: "job-1", TotalCountries: 2, ProcessedCountries: 5, Status: domain.JobStatusFailed}
	require.NoError(t, repo.CreateJob(context.Background(), job))

	got, err := repo.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	assert.Zero(t, got.ProcessedCountries)
	assert.False(t, got.StartedAt.IsZero())
}

// ============================================
// UpdateJob
// ============================================

func TestUpdateJob_NotFound(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))

	err := repo.UpdateJob(context.Background(), "missing", domain.JobUpdate{Status: ptr(domain.JobStatusFailed)})
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
}

func TestUpdateJob_AppendsErrorsAndFreezesTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))
	createRunningJob(t, repo, "job-1", 2)

	require.NoError(t, repo.UpdateJob(ctx, "job-1", domain.JobUpdate{
		AppendError: &domain.ErrorEntry{Country: "france", Error: "timeout\nafter 30s"},
	}))
	require.NoError(t, repo.UpdateJob(ctx, "job-1", domain.JobUpdate{
		AppendError: &domain.ErrorEntry{Country: domain.SystemCountry, Error: "db gone"},
		Status:      ptr(domain.JobStatusFailed),
		CompletedAt: ptr(time.Now()),
	}))

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.Len(t, job.ErrorLog, 2)
	assert.Equal(t, "france", job.ErrorLog[0].Country)
	assert.Equal(t, "timeout after 30s", job.ErrorLog[0].Error)
	assert.Equal(t, domain.SystemCountry, job.ErrorLog[1].Country)
	assert.NotNil(t, job.CompletedAt)

	err = repo.UpdateJob(ctx, "job-1", domain.JobUpdate{Status: ptr(domain.JobStatusCompleted)})
	assert.True(t, errors.Is(err, domain.ErrJobTerminal))
}

// ============================================
// UpdateCountryProgress
// ============================================

func TestUpdateCountryProgress_IncrementsMatchingCounter(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))
	createRunningJob(t, repo, "job-1", 3)

	_, err := repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: "a", Status: domain.ProgressProcessing})
	require.NoError(t, err)

	counted, err := repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: "a", Status: domain.ProgressCompleted, RetryCount: 1})
	require.NoError(t, err)
	assert.True(t, counted)

	counted, err = repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: "b", Status: domain.ProgressFailed, Error: "boom", RetryCount: 3})
	require.NoError(t, err)
	assert.True(t, counted)

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.ProcessedCountries)
	assert.Equal(t, 1, job.FailedCountries)

	rows, err := repo.ListCountryProgress(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.ProgressCompleted, rows[0].Status)
	assert.NotNil(t, rows[0].StartedAt)
	assert.NotNil(t, rows[0].CompletedAt)
	assert.Equal(t, "boom", rows[1].Error)
	assert.Equal(t, 3, rows[1].RetryCount)
}

func TestUpdateCountryProgress_TerminalRowIsNotCountedTwice(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))
	createRunningJob(t, repo, "job-1", 3)

	counted, err := repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: "a", Status: domain.ProgressCompleted})
	require.NoError(t, err)
	require.True(t, counted)

	counted, err = repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: "a", Status: domain.ProgressFailed})
	require.NoError(t, err)
	assert.False(t, counted)

	counted, err = repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: "a", Status: domain.ProgressProcessing})
	require.NoError(t, err)
	assert.False(t, counted)

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.ProcessedCountries)
	assert.Equal(t, 0, job.FailedCountries)

	rows, err := repo.ListCountryProgress(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ProgressCompleted, rows[0].Status)
}

func TestUpdateCountryProgress_CounterNeverExceedsTotal(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))
	createRunningJob(t, repo, "job-1", 2)

	for _, c := range []string{"a", "b", "c", "d"} {
		_, err := repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: c, Status: domain.ProgressCompleted})
		require.NoError(t, err)
	}

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, job.Settled())
}

func TestUpdateCountryProgress_FrozenAfterCancel(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))
	createRunningJob(t, repo, "job-1", 3)

	require.NoError(t, repo.UpdateJob(ctx, "job-1", domain.JobUpdate{Status: ptr(domain.JobStatusCancelled)}))

	counted, err := repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: "a", Status: domain.ProgressCompleted})
	require.NoError(t, err)
	assert.False(t, counted)

	rows, err := repo.ListCountryProgress(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "the in-flight outcome is still recorded")

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, job.ProcessedCountries)
}

func TestUpdateCountryProgress_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))
	const total = 20
	createRunningJob(t, repo, "job-1", total)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := domain.ProgressCompleted
			if i%4 == 0 {
				status = domain.ProgressFailed
			}
			_, err := repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "job-1", Country: fmt.Sprintf("c%02d", i), Status: status})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 15, job.ProcessedCountries)
	assert.Equal(t, 5, job.FailedCountries)
}

func TestUpdateCountryProgress_UnknownJob(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	_, err := repo.UpdateCountryProgress(context.Background(), ProgressUpdate{JobID: "nope", Country: "a", Status: domain.ProgressCompleted})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

// ============================================
// Queries
// ============================================

func TestListJobs_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, repo.CreateJob(ctx, &domain.RefreshJob{ID: id, TotalCountries: 1, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
		require.NoError(t, repo.UpdateJob(ctx, id, domain.JobUpdate{Status: ptr(domain.JobStatusCompleted)}))
	}

	jobs, err := repo.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-3", jobs[0].ID)
	assert.Equal(t, "job-2", jobs[1].ID)

	jobs, err = repo.ListJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 4)
}

func TestRunningAndCompletedQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))

	running, err := repo.HasRunningJob(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	createRunningJob(t, repo, "job-1", 1)
	running, err = repo.HasRunningJob(ctx)
	require.NoError(t, err)
	assert.True(t, running)

	jobs, err := repo.ListRunningJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, repo.UpdateJob(ctx, "job-1", domain.JobUpdate{
		Status:      ptr(domain.JobStatusCompleted),
		LastRunDate: ptr("2024-03-01"),
	}))

	done, err := repo.CompletedOn(ctx, "2024-03-01")
	require.NoError(t, err)
	assert.True(t, done)
	done, err = repo.CompletedOn(ctx, "2024-03-02")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestDeleteJobsBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))
	old := time.Now().Add(-60 * 24 * time.Hour)

	require.NoError(t, repo.CreateJob(ctx, &domain.RefreshJob{ID: "old", TotalCountries: 1, StartedAt: old}))
	_, err := repo.UpdateCountryProgress(ctx, ProgressUpdate{JobID: "old", Country: "a", Status: domain.ProgressCompleted})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateJob(ctx, "old", domain.JobUpdate{Status: ptr(domain.JobStatusCompleted)}))
	createRunningJob(t, repo, "new", 1)

	n, err := repo.DeleteJobsBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.GetJob(ctx, "old")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	rows, err := repo.ListCountryProgress(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = repo.GetJob(ctx, "new")
	assert.NoError(t, err)
}
