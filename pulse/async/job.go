// Package async provides the scrape job queue and the worker pool that drains it.
//
// Jobs move through a monotonic state machine:
//
//	pending -> processing -> completed | failed
//
// Claiming (pending -> processing) is atomic in every JobStore implementation,
// so any number of workers, in one process or many, may poll the same store.
package async

import (
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ActiveStatuses are the statuses that count against the one-active-job-per-company rule
var ActiveStatuses = []JobStatus{JobStatusPending, JobStatusProcessing}

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition may leave this status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the status is pending or processing
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Job is one scheduled scrape of one company
type Job struct {
	ID            string     `json:"id"`
	CompanyID     string     `json:"company_id"`
	Status        JobStatus  `json:"status"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"` // set once, when claimed
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Duration returns how long the job spent processing, if it has finished
func (j *Job) Duration() (time.Duration, bool) {
	if j.LastAttemptAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.LastAttemptAt), true
}

// ShortID returns the first 8 characters of the job ID for display
func (j *Job) ShortID() string {
	if len(j.ID) <= 8 {
		return j.ID
	}
	return j.ID[:8]
}
