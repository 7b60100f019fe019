package async

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teranos/watchtower/errors"
)

// MemoryStore is an in-process JobStore. A single mutex makes every
// operation, including claim, atomic.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  int
	now  func() time.Time
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

// WithClock replaces the store's time source
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *MemoryStore) Exists(ctx context.Context, companyID string, statuses ...JobStatus) (bool, error) {
	if len(statuses) == 0 {
		return false, errors.WrapInvalidRequest(errors.New("no statuses given"), "exists")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.CompanyID != companyID {
			continue
		}
		for _, st := range statuses {
			if job.Status == st {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *MemoryStore) Create(ctx context.Context, companyID string) (*Job, error) {
	if companyID == "" {
		return nil, errors.WrapInvalidRequest(errors.New("company id cannot be empty"), "create job")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := m.now().UTC()
	job := &Job{
		// zero-padded so ids sort in creation order, matching the SQL tiebreak
		ID:        fmt.Sprintf("mem-%08d", m.seq),
		CompanyID: companyID,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	return copyJob(job), nil
}

func (m *MemoryStore) ClaimNextPending(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var next *Job
	for _, job := range m.jobs {
		if job.Status != JobStatusPending {
			continue
		}
		if next == nil || olderThan(job, next) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}

	now := m.now().UTC()
	next.Status = JobStatusProcessing
	next.LastAttemptAt = &now
	next.UpdatedAt = now
	return copyJob(next), nil
}

func (m *MemoryStore) Finalize(ctx context.Context, id string, status JobStatus, reason string) error {
	if !status.IsTerminal() {
		return errors.WrapInvalidRequest(errors.Newf("status %q is not terminal", status), "finalize")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errors.WrapNotFound(errors.Newf("job %s", id), "finalize")
	}
	if job.Status.IsTerminal() {
		return errors.WrapConflict(errors.Newf("job %s is already %s", id, job.Status), "finalize")
	}
	now := m.now().UTC()
	job.Status = status
	job.Error = reason
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, errors.WrapNotFound(errors.Newf("job %s", id), "get job")
	}
	return copyJob(job), nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*Job
	for _, job := range m.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.CompanyID != "" && job.CompanyID != filter.CompanyID {
			continue
		}
		jobs = append(jobs, copyJob(job))
	}
	// newest first
	sort.Slice(jobs, func(i, j int) bool { return olderThan(jobs[j], jobs[i]) })

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[JobStatus]int, 4)
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) FailStaleProcessing(ctx context.Context, claimedBefore time.Time, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	n := 0
	for _, job := range m.jobs {
		if job.Status != JobStatusProcessing || job.LastAttemptAt == nil || !job.LastAttemptAt.Before(claimedBefore) {
			continue
		}
		job.Status = JobStatusFailed
		job.Error = reason
		job.CompletedAt = &now
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *MemoryStore) CleanupOldJobs(ctx context.Context, updatedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(updatedBefore) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func olderThan(a, b *Job) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func copyJob(j *Job) *Job {
	c := *j
	if j.LastAttemptAt != nil {
		t := *j.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

var (
	_ JobStore = (*Store)(nil)
	_ JobStore = (*MemoryStore)(nil)
)
