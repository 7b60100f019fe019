package async

import (
	"database/sql"
)

// jobColumns is the column list every job SELECT uses, in scan order
const jobColumns = `id, company_id, status, error, created_at, updated_at, last_attempt_at, completed_at`

// jobScanArgs holds the nullable columns while a row is scanned
type jobScanArgs struct {
	ErrorMsg      sql.NullString
	LastAttemptAt sql.NullTime
	CompletedAt   sql.NullTime
}

func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.CompanyID,
		&job.Status,
		&args.ErrorMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.LastAttemptAt,
		&args.CompletedAt,
	}
}

func (args *jobScanArgs) apply(job *Job) {
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.LastAttemptAt.Valid {
		t := args.LastAttemptAt.Time.UTC()
		job.LastAttemptAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time.UTC()
		job.CompletedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args jobScanArgs
	if err := row.Scan(jobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	args.apply(&job)
	return &job, nil
}
