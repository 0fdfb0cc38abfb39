package domain

import "time"

// ProgressStatus is the per-country state inside one job.
// It only moves forward: pending, processing, then completed or failed.
type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "pending"
	ProgressProcessing ProgressStatus = "processing"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressCompleted || s == ProgressFailed
}

// rank orders statuses so a write can never move a row backwards.
func (s ProgressStatus) rank() int {
	switch s {
	case ProgressPending:
		return 0
	case ProgressProcessing:
		return 1
	case ProgressCompleted, ProgressFailed:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether a row in status s may be moved to next.
func (s ProgressStatus) CanAdvanceTo(next ProgressStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// CountryProgress is the durable outcome record of one country inside one job.
type CountryProgress struct {
	ID          uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID       string         `gorm:"type:text;not null;uniqueIndex:idx_progress_job_country" json:"job_id"`
	CountryName string         `gorm:"type:text;not null;uniqueIndex:idx_progress_job_country" json:"country_name"`
	Status      ProgressStatus `gorm:"type:text;not null" json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	RetryCount  int            `gorm:"not null;default:0" json:"retry_count"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for CountryProgress.
func (CountryProgress) TableName() string {
	return "job_country_progress"
}
