package async

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/watchtower/db"
	"github.com/teranos/watchtower/errors"
)

// JobStore persists scrape jobs.
//
// It does not enforce one active job per company: callers check Exists before Create.
// ClaimNextPending must be atomic across concurrent callers.
type JobStore interface {
	// Exists reports whether any job for companyID has one of the given statuses
	Exists(ctx context.Context, companyID string, statuses ...JobStatus) (bool, error)
	// Create inserts a pending job stamped with the current time
	Create(ctx context.Context, companyID string) (*Job, error)
	// ClaimNextPending moves the oldest pending job to processing and returns it.
	// Returns nil, nil when nothing is pending.
	ClaimNextPending(ctx context.Context) (*Job, error)
	// Finalize moves a pending or processing job to a terminal status.
	//
	// It is not an unconditional write: status only moves forward, so a job
	// that is already completed or failed keeps its row unchanged and the call
	// returns an errors.ErrConflict error. Callers use that to learn the job
	// was finalized elsewhere, e.g. by stale recovery. Unknown ids return
	// errors.ErrNotFound.
	Finalize(ctx context.Context, id string, status JobStatus, reason string) error

	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
	// FailStaleProcessing fails processing jobs claimed before the cutoff
	FailStaleProcessing(ctx context.Context, claimedBefore time.Time, reason string) (int, error)
	// CleanupOldJobs deletes terminal jobs last updated before the cutoff
	CleanupOldJobs(ctx context.Context, updatedBefore time.Time) (int, error)
}

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	Status    *JobStatus
	CompanyID string
	Limit     int // 0 = DefaultListLimit
}

// DefaultListLimit caps ListJobs when no limit is given
const DefaultListLimit = 100

// Store is the SQL implementation of JobStore (SQLite or Postgres)
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// NewStore creates a job store over a SQLite database
func NewStore(conn *sql.DB) *Store {
	return NewStoreWithDialect(conn, db.SQLite)
}

// NewStoreWithDialect creates a job store for the given SQL dialect
func NewStoreWithDialect(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: conn, dialect: dialect, now: time.Now}
}

// WithClock replaces the store's time source (tests)
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

// inClause returns "(?, ?, ...)" and the status arguments
func inClause(statuses []JobStatus) (string, []interface{}) {
	marks := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

// Exists reports whether companyID has a job in any of the given statuses
func (s *Store) Exists(ctx context.Context, companyID string, statuses ...JobStatus) (bool, error) {
	if len(statuses) == 0 {
		return false, errors.WrapInvalidRequest(errors.New("no statuses given"), "exists")
	}

	in, args := inClause(statuses)
	query := `SELECT EXISTS(SELECT 1 FROM scrape_jobs WHERE company_id = ? AND status IN ` + in + `)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, s.q(query), append([]interface{}{companyID}, args...)...).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "failed to check jobs for company %s", companyID)
	}
	return exists, nil
}

// Create inserts a new pending job for companyID
func (s *Store) Create(ctx context.Context, companyID string) (*Job, error) {
	if companyID == "" {
		return nil, errors.WrapInvalidRequest(errors.New("company id cannot be empty"), "create job")
	}

	now := s.stamp()
	job := &Job{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `INSERT INTO scrape_jobs (id, company_id, status, error, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.q(query), job.ID, job.CompanyID, string(job.Status), job.CreatedAt, job.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to create job")
	}
	return job, nil
}

// ClaimNextPending atomically claims the oldest pending job.
//
// SQLite connections are opened with _txlock=immediate, so the transaction holds
// the write lock from BEGIN and no other claimer can interleave. Postgres uses
// FOR UPDATE SKIP LOCKED so concurrent claimers move on to the next row.
// The conditional UPDATE guards both paths.
func (s *Store) ClaimNextPending(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim")
	}
	defer tx.Rollback()

	var id string
	pick := `SELECT id FROM scrape_jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1` + s.dialect.SkipLocked()
	err = tx.QueryRowContext(ctx, s.q(pick), string(JobStatusPending)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select pending job")
	}

	now := s.stamp()
	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE scrape_jobs SET status = ?, last_attempt_at = ?, updated_at = ? WHERE id = ? AND status = ?`),
		string(JobStatusProcessing), now, now, id, string(JobStatusPending))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		// Lost the race; the caller simply polls again
		return nil, nil
	}

	job, err := scanJob(tx.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM scrape_jobs WHERE id = ?`), id))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read claimed job %s", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit claim of job %s", id)
	}
	return job, nil
}

// Finalize moves a pending or processing job to a terminal status.
// A terminal job is left untouched and reported as a conflict.
func (s *Store) Finalize(ctx context.Context, id string, status JobStatus, reason string) error {
	if !status.IsTerminal() {
		return errors.WrapInvalidRequest(errors.Newf("status %q is not terminal", status), "finalize")
	}

	now := s.stamp()
	in, active := inClause(ActiveStatuses)
	query := `UPDATE scrape_jobs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status IN ` + in
	args := append([]interface{}{string(status), reason, now, now, id}, active...)

	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return errors.Wrapf(err, "failed to finalize job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: either already terminal or unknown
	var current string
	err = s.db.QueryRowContext(ctx, s.q(`SELECT status FROM scrape_jobs WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.WrapNotFound(errors.Newf("job %s", id), "finalize")
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read job %s", id)
	}
	return errors.WrapConflict(errors.Newf("job %s is already %s", id, current), "finalize")
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM scrape_jobs WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WrapNotFound(errors.Newf("job %s", id), "get job")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ListJobs returns jobs newest first
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var where []string
	var args []interface{}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + jobColumns + ` FROM scrape_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in each status
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scrape_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int, 4)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

// FailStaleProcessing fails processing jobs whose claim is older than claimedBefore
func (s *Store) FailStaleProcessing(ctx context.Context, claimedBefore time.Time, reason string) (int, error) {
	now := s.stamp()
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE scrape_jobs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE status = ? AND last_attempt_at < ?`),
		string(JobStatusFailed), reason, now, now, string(JobStatusProcessing), claimedBefore.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to fail stale jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

// CleanupOldJobs removes completed/failed jobs last updated before the cutoff
func (s *Store) CleanupOldJobs(ctx context.Context, updatedBefore time.Time) (int, error) {
	in, args := inClause([]JobStatus{JobStatusCompleted, JobStatusFailed})
	query := fmt.Sprintf(`DELETE FROM scrape_jobs WHERE status IN %s AND updated_at < ?`, in)

	res, err := s.db.ExecContext(ctx, s.q(query), append(args, updatedBefore.UTC())...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}
