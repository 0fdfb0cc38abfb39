package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/logger"
)

// JobRunner is what the scheduler needs from the orchestrator.
type JobRunner interface {
	Start(ctx context.Context, trigger domain.Trigger) (string, error)
	Status(ctx context.Context, jobID string) (domain.JobView, error)
}

// ParseSchedule parses a standard five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// Scheduler polls the wall clock and starts a refresh when a cron slot is
// due. A slot fires at most once per calendar date; a slot missed while the
// process was down is still fired if it is within the catch-up window.
type Scheduler struct {
	runner   JobRunner
	schedule cron.Schedule
	poll     time.Duration
	catchUp  time.Duration
	loc      *time.Location
	logger   *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	next     time.Time // next slot not yet reached
	due      time.Time // latest reached slot, zero when none
	firedKey string    // date of the last satisfied slot
	watching string    // scheduled job whose outcome is pending

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler.
// Parameters:
//   - cfg: cron expression, poll interval and catch-up window.
//   - loc: timezone the cron expression is evaluated in.
//   - runner: orchestrator to start jobs on.
//   - log: base logger.
// Returns:
//   - *Scheduler: stopped scheduler.
//   - error: non-nil for an invalid cron expression, one that never fires, or
//     a non-positive poll interval.
func NewScheduler(cfg config.SchedulerConfig, loc *time.Location, runner JobRunner, log *logger.Logger) (*Scheduler, error) {
	schedule, err := ParseSchedule(cfg.Cron)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("scheduler poll interval must be positive, got %s", cfg.PollInterval)
	}
	if loc == nil {
		loc = time.UTC
	}
	// cron returns the zero time when no slot matches, e.g. "0 0 30 2 *"
	if schedule.Next(time.Now().In(loc)).IsZero() {
		return nil, fmt.Errorf("cron expression %q never fires", cfg.Cron)
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		poll:     cfg.PollInterval,
		catchUp:  cfg.CatchUpWindow,
		loc:      loc,
		logger:   log.WithField(logger.FieldComponent, "scheduler"),
		now:      time.Now,
	}, nil
}

// Start begins polling in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}

	s.prime()
	runCtx, cancel := context.WithCancel(s.logger.WithContext(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, s.done)

	s.logger.WithFields(logger.Fields{
		"next_slot":     s.next.Format(time.RFC3339),
		"poll_interval": s.poll.String(),
	}).Info("Scheduler started")
	return nil
}

// Stop halts polling and waits for the loop to exit. A job already started
// keeps running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

// prime sets the first slot to wait for, reaching back by the catch-up window.
func (s *Scheduler) prime() {
	s.next = s.schedule.Next(s.now().In(s.loc).Add(-s.catchUp))
	s.due = time.Time{}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one poll. It never panics out of the loop.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Scheduler tick panicked")
		}
	}()

	s.checkWatched(ctx)

	now := s.now().In(s.loc)

	s.mu.Lock()
	for !s.next.IsZero() && !s.next.After(now) {
		s.due = s.next
		s.next = s.schedule.Next(s.next)
	}
	due := s.due
	if due.IsZero() {
		s.mu.Unlock()
		return
	}
	if s.catchUp > 0 && now.Sub(due) > s.catchUp {
		s.due = time.Time{}
		s.mu.Unlock()
		s.logger.WithField("slot", due.Format(time.RFC3339)).Warn("Scheduled slot outside catch-up window, skipped")
		return
	}
	key := due.Format(domain.DateLayout)
	if key == s.firedKey {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.fire(ctx, key)
}

func (s *Scheduler) fire(ctx context.Context, key string) {
	log := s.logger.WithField("slot_date", key)

	jobID, err := s.runner.Start(ctx, domain.TriggerScheduled)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		s.firedKey = key
		s.watching = jobID
		log.WithField(logger.FieldJobID, jobID).Info("Scheduled refresh started")
	case errors.Is(err, domain.ErrAlreadyRanToday):
		s.firedKey = key
		log.Info("Refresh already ran today, scheduled slot satisfied")
	case errors.Is(err, domain.ErrJobAlreadyRunning):
		log.Info("Refresh already running, scheduled slot deferred")
	default:
		s.firedKey = ""
		log.WithError(err).Error("Scheduled refresh failed to start")
	}
}

// checkWatched resets the guard when the scheduled job ended failed so the
// slot is retried on a later poll.
func (s *Scheduler) checkWatched(ctx context.Context) {
	s.mu.Lock()
	jobID := s.watching
	s.mu.Unlock()
	if jobID == "" {
		return
	}

	view, err := s.runner.Status(ctx, jobID)
	if err != nil {
		s.logger.WithError(err).WithField(logger.FieldJobID, jobID).Warn("Failed to check scheduled job")
		return
	}
	if !view.Status.IsTerminal() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.watching = ""
	if view.Status == domain.JobStatusFailed {
		s.firedKey = ""
		s.logger.WithField(logger.FieldJobID, jobID).Warn("Scheduled refresh failed, slot will be retried")
	}
}

// NextRun returns the next slot the scheduler is waiting for.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
