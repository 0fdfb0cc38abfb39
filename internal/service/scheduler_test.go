package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/domain"
)

type fakeRunner struct {
	mu       sync.Mutex
	starts   int
	startErr []error // consumed one per Start; nil entries succeed
	status   domain.JobStatus
}

func (r *fakeRunner) Start(ctx context.Context, trigger domain.Trigger) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if len(r.startErr) > 0 {
		err := r.startErr[0]
		r.startErr = r.startErr[1:]
		if err != nil {
			return "", err
		}
	}
	return "job-scheduled", nil
}

func (r *fakeRunner) Status(ctx context.Context, jobID string) (domain.JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.JobView{ID: jobID, Status: r.status}, nil
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func newTestScheduler(t *testing.T, runner JobRunner, clock *fakeClock) *Scheduler {
	t.Helper()
	s, err := NewScheduler(config.SchedulerConfig{
		Cron:          "0 3 * * *",
		PollInterval:  time.Minute,
		CatchUpWindow: time.Hour,
	}, time.UTC, runner, quietLogger())
	require.NoError(t, err)
	s.now = clock.Now
	s.prime()
	return s
}

func TestNewScheduler_InvalidConfig(t *testing.T) {
	_, err := NewScheduler(config.SchedulerConfig{Cron: "not a cron", PollInterval: time.Minute}, nil, &fakeRunner{}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(config.SchedulerConfig{Cron: "0 3 * * 1", PollInterval: 0}, nil, &fakeRunner{}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(config.SchedulerConfig{Cron: "0 0 30 2 *", PollInterval: time.Minute}, nil, &fakeRunner{}, nil)
	assert.ErrorContains(t, err, "never fires")
}

func TestScheduler_TickWithoutUpcomingSlotReturns(t *testing.T) {
	runner := &fakeRunner{status: domain.JobStatusRunning}
	s := newTestScheduler(t, runner, &fakeClock{now: at(3, 30)})

	never, err := ParseSchedule("0 0 30 2 *")
	require.NoError(t, err)
	s.schedule = never
	s.prime()
	require.True(t, s.NextRun().IsZero())

	done := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not return")
	}
	assert.Zero(t, runner.startCount())
}

func TestScheduler_FiresOncePerSlot(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{status: domain.JobStatusRunning}
	clock := &fakeClock{now: at(2, 58)}
	s := newTestScheduler(t, runner, clock)

	s.tick(ctx)
	assert.Zero(t, runner.startCount())

	clock.Set(at(3, 0).Add(20 * time.Second))
	s.tick(ctx)
	assert.Equal(t, 1, runner.startCount())

	clock.Set(at(3, 2))
	s.tick(ctx)
	clock.Set(at(3, 40))
	s.tick(ctx)
	assert.Equal(t, 1, runner.startCount())

	// next day's slot fires again
	clock.Set(at(3, 0).Add(24*time.Hour + time.Minute))
	s.tick(ctx)
	assert.Equal(t, 2, runner.startCount())
}

func TestScheduler_AlreadyRanTodaySatisfiesSlot(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{startErr: []error{domain.E(domain.KindConflict, "Start", domain.ErrAlreadyRanToday)}}
	clock := &fakeClock{now: at(3, 1)}
	s := newTestScheduler(t, runner, clock)

	s.tick(ctx)
	clock.Set(at(3, 2))
	s.tick(ctx)
	assert.Equal(t, 1, runner.startCount())
}

func TestScheduler_StartErrorResetsGuard(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{startErr: []error{errors.New("database is locked")}, status: domain.JobStatusRunning}
	clock := &fakeClock{now: at(3, 1)}
	s := newTestScheduler(t, runner, clock)

	s.tick(ctx)
	assert.Equal(t, 1, runner.startCount())

	clock.Set(at(3, 2))
	s.tick(ctx)
	assert.Equal(t, 2, runner.startCount())

	clock.Set(at(3, 3))
	s.tick(ctx)
	assert.Equal(t, 2, runner.startCount())
}

func TestScheduler_RunningJobDefersSlot(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{startErr: []error{domain.E(domain.KindConflict, "Start", domain.ErrJobAlreadyRunning)}, status: domain.JobStatusRunning}
	clock := &fakeClock{now: at(3, 1)}
	s := newTestScheduler(t, runner, clock)

	s.tick(ctx)
	clock.Set(at(3, 2))
	s.tick(ctx)
	assert.Equal(t, 2, runner.startCount())
}

func TestScheduler_FailedJobResetsGuard(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{status: domain.JobStatusRunning}
	clock := &fakeClock{now: at(3, 1)}
	s := newTestScheduler(t, runner, clock)

	s.tick(ctx)
	require.Equal(t, 1, runner.startCount())

	runner.mu.Lock()
	runner.status = domain.JobStatusFailed
	runner.mu.Unlock()

	clock.Set(at(3, 10))
	s.tick(ctx)
	assert.Equal(t, 2, runner.startCount())
}

func TestScheduler_CompletedJobKeepsGuard(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{status: domain.JobStatusCompleted}
	clock := &fakeClock{now: at(3, 1)}
	s := newTestScheduler(t, runner, clock)

	s.tick(ctx)
	clock.Set(at(3, 10))
	s.tick(ctx)
	assert.Equal(t, 1, runner.startCount())
}

func TestScheduler_CatchUpWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("missed slot inside window fires", func(t *testing.T) {
		runner := &fakeRunner{status: domain.JobStatusRunning}
		s := newTestScheduler(t, runner, &fakeClock{now: at(3, 30)})
		s.tick(ctx)
		assert.Equal(t, 1, runner.startCount())
	})

	t.Run("missed slot outside window is skipped", func(t *testing.T) {
		runner := &fakeRunner{status: domain.JobStatusRunning}
		s := newTestScheduler(t, runner, &fakeClock{now: at(5, 0)})
		s.tick(ctx)
		assert.Zero(t, runner.startCount())
		assert.True(t, at(3, 0).Add(24*time.Hour).Equal(s.NextRun()))
	})
}

func TestScheduler_StartStop(t *testing.T) {
	runner := &fakeRunner{status: domain.JobStatusRunning}
	s, err := NewScheduler(config.SchedulerConfig{
		Cron:          "* * * * *",
		PollInterval:  10 * time.Millisecond,
		CatchUpWindow: time.Hour,
	}, time.UTC, runner, quietLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return runner.startCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
}
