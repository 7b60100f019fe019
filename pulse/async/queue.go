package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/watchtower/errors"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// Queue wraps a JobStore with the depth ceiling, error marking and
// in-process notifications that the scheduler and worker pool share.
type Queue struct {
	store    JobStore
	maxDepth int // 0 = unlimited
	now      func() time.Time

	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a queue over store. maxDepth caps the number of active
// (pending + processing) jobs; 0 disables the ceiling.
func NewQueue(store JobStore, maxDepth int) *Queue {
	return &Queue{
		store:    store,
		maxDepth: maxDepth,
		now:      time.Now,
	}
}

// Store returns the underlying job store
func (q *Queue) Store() JobStore {
	return q.store
}

// Exists reports whether companyID has a job in any of the given statuses
func (q *Queue) Exists(ctx context.Context, companyID string, statuses ...JobStatus) (bool, error) {
	ok, err := q.store.Exists(ctx, companyID, statuses...)
	if err != nil {
		err = MarkTransient(errors.Wrap(err, "failed to check for existing job"))
		return false, errors.WithDetail(err, fmt.Sprintf("Company ID: %s", companyID))
	}
	return ok, nil
}

// HasActiveJob reports whether companyID has a pending or processing job
func (q *Queue) HasActiveJob(ctx context.Context, companyID string) (bool, error) {
	return q.Exists(ctx, companyID, ActiveStatuses...)
}

// Enqueue creates a pending job for companyID.
// It does not check for an existing active job; callers use HasActiveJob first.
// With a depth ceiling set, Enqueue fails with ErrQueueFull once the active
// count reaches it. The count and the insert are not atomic, so concurrent
// enqueuers may overshoot by a few jobs.
func (q *Queue) Enqueue(ctx context.Context, companyID string) (*Job, error) {
	if q.maxDepth > 0 {
		counts, err := q.store.CountByStatus(ctx)
		if err != nil {
			err = MarkTransient(errors.Wrap(err, "failed to count active jobs"))
			return nil, errors.WithDetail(err, fmt.Sprintf("Company ID: %s", companyID))
		}
		active := counts[JobStatusPending] + counts[JobStatusProcessing]
		if active >= q.maxDepth {
			err := errors.Wrapf(ErrQueueFull, "%d active jobs", active)
			err = errors.WithDetail(err, fmt.Sprintf("Company ID: %s", companyID))
			err = errors.WithDetail(err, fmt.Sprintf("Max depth: %d", q.maxDepth))
			return nil, errors.WithHint(err, "raise pulse.max_queue_depth or add workers")
		}
	}

	job, err := q.store.Create(ctx, companyID)
	if err != nil {
		err = MarkTransient(errors.Wrap(err, "failed to enqueue job"))
		return nil, errors.WithDetail(err, fmt.Sprintf("Company ID: %s", companyID))
	}

	q.notifySubscribers(job)
	return job, nil
}

// Claim atomically takes the oldest pending job. Returns nil, nil when idle.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	job, err := q.store.ClaimNextPending(ctx)
	if err != nil {
		return nil, MarkTransient(errors.Wrap(err, "failed to claim job"))
	}
	return job, nil
}

// CompleteJob finalizes a job as completed
func (q *Queue) CompleteJob(ctx context.Context, id string) error {
	if err := q.store.Finalize(ctx, id, JobStatusCompleted, ""); err != nil {
		err = errors.Wrap(err, "failed to complete job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
		if errors.IsNotFoundError(err) || errors.IsConflictError(err) {
			return err
		}
		return MarkTransient(err)
	}
	return nil
}

// FailJob finalizes a job as failed, recording jobErr's message
func (q *Queue) FailJob(ctx context.Context, id string, jobErr error) error {
	reason := "unknown error"
	if jobErr != nil {
		reason = jobErr.Error()
	}
	if err := q.store.Finalize(ctx, id, JobStatusFailed, reason); err != nil {
		err = errors.Wrap(err, "failed to mark job as failed")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
		err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", reason))
		if errors.IsNotFoundError(err) || errors.IsConflictError(err) {
			return err
		}
		return MarkTransient(err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// ListJobs returns jobs newest first
func (q *Queue) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	return q.store.ListJobs(ctx, filter)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Active returns pending + processing
func (s QueueStats) Active() int {
	return s.Pending + s.Processing
}

// Stats returns job counts per status
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, MarkTransient(errors.Wrap(err, "failed to get queue stats"))
	}
	stats := &QueueStats{
		Pending:    counts[JobStatusPending],
		Processing: counts[JobStatusProcessing],
		Completed:  counts[JobStatusCompleted],
		Failed:     counts[JobStatusFailed],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Completed + stats.Failed
	return stats, nil
}

// Cleanup removes completed and failed jobs not updated within olderThan
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, errors.WrapInvalidRequest(errors.Newf("retention must be positive, got %s", olderThan), "cleanup")
	}
	n, err := q.store.CleanupOldJobs(ctx, q.now().Add(-olderThan))
	if err != nil {
		return 0, MarkTransient(errors.Wrap(err, "failed to cleanup jobs"))
	}
	return n, nil
}

// RecoverStale fails processing jobs claimed more than olderThan ago
func (q *Queue) RecoverStale(ctx context.Context, olderThan time.Duration, reason string) (int, error) {
	n, err := q.store.FailStaleProcessing(ctx, q.now().Add(-olderThan), reason)
	if err != nil {
		return 0, MarkTransient(errors.Wrap(err, "failed to recover stale jobs"))
	}
	return n, nil
}

// Subscribe returns a channel that receives newly enqueued jobs.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers never blocks; a full subscriber misses the update
func (q *Queue) notifySubscribers(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}
