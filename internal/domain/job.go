package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of a refresh job.
// A job starts running and ends in exactly one of the terminal states.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Trigger records what started a job.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerCLI       Trigger = "cli"
)

// SystemCountry is the errorLog key for failures that are not tied to a country.
const SystemCountry = "system"

// DateLayout is the format of RefreshJob.LastRunDate.
const DateLayout = "2006-01-02"

// ErrorEntry is one line of a job's error log.
type ErrorEntry struct {
	Country string    `json:"country"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// RefreshJob is one bulk pass over the country catalog.
// ProcessedCountries + FailedCountries never exceeds TotalCountries.
type RefreshJob struct {
	ID                 string                          `gorm:"type:text;primaryKey" json:"id"`
	Status             JobStatus                       `gorm:"type:text;not null;index:idx_jobs_status" json:"status"`
	Trigger            Trigger                         `gorm:"type:text" json:"trigger"`
	TotalCountries     int                             `gorm:"not null" json:"total_countries"`
	ProcessedCountries int                             `gorm:"not null;default:0" json:"processed_countries"`
	FailedCountries    int                             `gorm:"not null;default:0" json:"failed_countries"`
	StartedAt          time.Time                       `gorm:"index:idx_jobs_started_at" json:"started_at"`
	CompletedAt        *time.Time                      `json:"completed_at,omitempty"`
	LastRunDate        *string                         `gorm:"type:text;index:idx_jobs_last_run_date" json:"last_run_date,omitempty"`
	ErrorLog           datatypes.JSONSlice[ErrorEntry] `json:"error_log"`
	CreatedAt          time.Time                       `json:"created_at"`
	UpdatedAt          time.Time                       `json:"updated_at"`
}

// TableName returns the database table name for RefreshJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (RefreshJob) TableName() string {
	return "jobs"
}

// Settled is the number of countries with a terminal outcome.
func (j *RefreshJob) Settled() int {
	return j.ProcessedCountries + j.FailedCountries
}

// JobUpdate carries the fields UpdateJob may change. Nil fields are left alone.
type JobUpdate struct {
	Status      *JobStatus
	CompletedAt *time.Time
	LastRunDate *string
	AppendError *ErrorEntry
}

// JobView is the externally visible state of a job.
type JobView struct {
	ID                 string       `json:"jobId"`
	Status             JobStatus    `json:"status"`
	Trigger            Trigger      `json:"trigger,omitempty"`
	TotalCountries     int          `json:"totalCountries"`
	ProcessedCountries int          `json:"processedCountries"`
	FailedCountries    int          `json:"failedCountries"`
	CurrentCountry     string       `json:"currentCountry,omitempty"`
	StartedAt          time.Time    `json:"startedAt"`
	CompletedAt        *time.Time   `json:"completedAt,omitempty"`
	LastRunDate        *string      `json:"lastRunDate,omitempty"`
	Errors             []ErrorEntry `json:"errors"`
}

// NewJobView builds the external view of job, overlaying the in-memory current country.
func NewJobView(job *RefreshJob, currentCountry string) JobView {
	errs := []ErrorEntry(job.ErrorLog)
	if errs == nil {
		errs = []ErrorEntry{}
	}
	return JobView{
		ID:                 job.ID,
		Status:             job.Status,
		Trigger:            job.Trigger,
		TotalCountries:     job.TotalCountries,
		ProcessedCountries: job.ProcessedCountries,
		FailedCountries:    job.FailedCountries,
		CurrentCountry:     currentCountry,
		StartedAt:          job.StartedAt,
		CompletedAt:        job.CompletedAt,
		LastRunDate:        job.LastRunDate,
		Errors:             errs,
	}
}
