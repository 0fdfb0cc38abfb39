package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/safetrip/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100

	// jobCreateLockKey serializes job creation across processes on postgres.
	jobCreateLockKey = 724011
)

// JobRepository persists refresh jobs and their per-country progress.
type JobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

// lockRow adds SELECT ... FOR UPDATE where the dialect supports it.
func lockRow(tx *gorm.DB) *gorm.DB {
	if isSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func loadJob(tx *gorm.DB, op, id string) (*domain.RefreshJob, error) {
	var job domain.RefreshJob
	if err := lockRow(tx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.E(domain.KindNotFound, op, domain.ErrJobNotFound)
		}
		return nil, domain.E(domain.KindFatal, op, err)
	}
	return &job, nil
}

// CreateJob inserts a new running job. Creation is exclusive: if another job
// is still running the insert is refused with ErrJobAlreadyRunning.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job to insert; Status is forced to running and counters to zero.
// Returns:
//   - error: ErrJobAlreadyRunning (conflict) or a fatal store error.
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.RefreshJob) error {
	const op = "CreateJob"

	job.Status = domain.JobStatusRunning
	job.ProcessedCountries = 0
	job.FailedCountries = 0
	if job.StartedAt.IsZero() {
		job.StartedAt = r.now()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !isSQLite(tx) {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", jobCreateLockKey).Error; err != nil {
				return domain.E(domain.KindFatal, op, err)
			}
		}

		var running int64
		if err := tx.Model(&domain.RefreshJob{}).
			Where("status = ?", domain.JobStatusRunning).
			Count(&running).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}
		if running > 0 {
			return domain.E(domain.KindConflict, op, domain.ErrJobAlreadyRunning)
		}

		if err := tx.Create(job).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}
		return nil
	})
}

// GetJob returns a job by id.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*domain.RefreshJob, error) {
	return loadJob(r.db.WithContext(ctx), "GetJob", id)
}

// UpdateJob applies upd to a running job. Terminal jobs are immutable and
// yield ErrJobTerminal.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job id.
//   - upd: fields to change; nil fields are untouched.
// Returns:
//   - error: ErrJobNotFound, ErrJobTerminal or a fatal store error.
func (r *JobRepository) UpdateJob(ctx context.Context, id string, upd domain.JobUpdate) error {
	const op = "UpdateJob"

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := loadJob(tx, op, id)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return domain.E(domain.KindConflict, op, domain.ErrJobTerminal)
		}

		fields := map[string]interface{}{}
		if upd.Status != nil {
			fields["status"] = *upd.Status
		}
		if upd.CompletedAt != nil {
			fields["completed_at"] = *upd.CompletedAt
		}
		if upd.LastRunDate != nil {
			fields["last_run_date"] = *upd.LastRunDate
		}
		if upd.AppendError != nil {
			entry := *upd.AppendError
			entry.Error = domain.SanitizeMessage(entry.Error)
			if entry.At.IsZero() {
				entry.At = r.now()
			}
			fields["error_log"] = append(job.ErrorLog, entry)
		}
		if len(fields) == 0 {
			return nil
		}

		if err := tx.Model(&domain.RefreshJob{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}
		return nil
	})
}

// ProgressUpdate describes one write to a country progress row.
type ProgressUpdate struct {
	JobID      string
	Country    string
	Status     domain.ProgressStatus
	Error      string
	RetryCount int
}

// UpdateCountryProgress upserts the progress row and, for a terminal status,
// increments the matching job counter in the same transaction.
//
// The counter is only touched when the row was not already terminal, the job
// is still running and processed+failed is below total. A write that would
// move the row backwards is ignored.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - u: the progress write.
// Returns:
//   - bool: true if a job counter was incremented.
//   - error: ErrJobNotFound or a fatal store error.
func (r *JobRepository) UpdateCountryProgress(ctx context.Context, u ProgressUpdate) (bool, error) {
	const op = "UpdateCountryProgress"
	counted := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := loadJob(tx, op, u.JobID)
		if err != nil {
			return err
		}

		var existing domain.CountryProgress
		found := true
		if err := lockRow(tx).
			Where("job_id = ? AND country_name = ?", u.JobID, u.Country).
			First(&existing).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.E(domain.KindFatal, op, err)
			}
			found = false
		}
		if found && !existing.Status.CanAdvanceTo(u.Status) {
			return nil
		}

		now := r.now()
		row := domain.CountryProgress{
			JobID:       u.JobID,
			CountryName: u.Country,
			Status:      u.Status,
			Error:       domain.SanitizeMessage(u.Error),
			RetryCount:  u.RetryCount,
		}
		if found {
			row.StartedAt = existing.StartedAt
		}
		if row.StartedAt == nil && u.Status != domain.ProgressPending {
			row.StartedAt = &now
		}
		if u.Status.IsTerminal() {
			row.CompletedAt = &now
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "country_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "started_at", "completed_at", "error", "retry_count", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}

		if !u.Status.IsTerminal() || job.Status != domain.JobStatusRunning || job.Settled() >= job.TotalCountries {
			return nil
		}

		column := "processed_countries"
		if u.Status == domain.ProgressFailed {
			column = "failed_countries"
		}
		if err := tx.Model(&domain.RefreshJob{}).
			Where("id = ?", u.JobID).
			Update(column, gorm.Expr(column+" + 1")).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}
		counted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return counted, nil
}

// ListJobs returns the most recent jobs, newest first.
// A non-positive limit uses the default; limits above the maximum are capped.
func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]domain.RefreshJob, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var jobs []domain.RefreshJob
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").Order("id").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, domain.E(domain.KindFatal, "ListJobs", err)
	}
	return jobs, nil
}

// ListCountryProgress returns every progress row of a job.
func (r *JobRepository) ListCountryProgress(ctx context.Context, jobID string) ([]domain.CountryProgress, error) {
	var rows []domain.CountryProgress
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, domain.E(domain.KindFatal, "ListCountryProgress", err)
	}
	return rows, nil
}

// ListRunningJobs returns jobs still marked running, oldest first.
func (r *JobRepository) ListRunningJobs(ctx context.Context) ([]domain.RefreshJob, error) {
	var jobs []domain.RefreshJob
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.JobStatusRunning).
		Order("started_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, domain.E(domain.KindFatal, "ListRunningJobs", err)
	}
	return jobs, nil
}

// HasRunningJob reports whether any job is running.
func (r *JobRepository) HasRunningJob(ctx context.Context) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.RefreshJob{}).
		Where("status = ?", domain.JobStatusRunning).
		Count(&n).Error; err != nil {
		return false, domain.E(domain.KindFatal, "HasRunningJob", err)
	}
	return n > 0, nil
}

// CompletedOn reports whether a job completed with lastRunDate equal to date (YYYY-MM-DD).
func (r *JobRepository) CompletedOn(ctx context.Context, date string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.RefreshJob{}).
		Where("status = ? AND last_run_date = ?", domain.JobStatusCompleted, date).
		Count(&n).Error; err != nil {
		return false, domain.E(domain.KindFatal, "CompletedOn", err)
	}
	return n > 0, nil
}

// DeleteJobsBefore removes terminal jobs started before cutoff together with
// their progress rows.
// Returns:
//   - int64: number of jobs removed.
//   - error: non-nil if the cleanup fails.
func (r *JobRepository) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "DeleteJobsBefore"
	var deleted int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&domain.RefreshJob{}).
			Where("status <> ? AND started_at < ?", domain.JobStatusRunning, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("job_id IN ?", ids).Delete(&domain.CountryProgress{}).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}
		res := tx.Where("id IN ?", ids).Delete(&domain.RefreshJob{})
		if res.Error != nil {
			return domain.E(domain.KindFatal, op, res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}
