package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/db"
	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/logger"
)

const (
	// finalizeTimeout bounds the detached finalize write after the pool is cancelled
	finalizeTimeout = 10 * time.Second
	// stopTimeout bounds how long Stop waits for in-flight jobs
	stopTimeout = 30 * time.Second

	maxConsecutiveErrors = 5
	maxBackoff           = 30 * time.Second

	// ReasonShutdown prefixes the error of a job interrupted by pool shutdown
	ReasonShutdown = "worker shutdown"
	// ReasonOrphaned is the error recorded on jobs failed by stale recovery
	ReasonOrphaned = "orphaned: worker did not finish the job"
)

// JobExecutor runs one claimed job. A nil return completes the job,
// any error fails it.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to JobExecutor
type ExecutorFunc func(ctx context.Context, job *Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// RateLimiter blocks until the next pipeline call is allowed
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter returns a limiter allowing perMinute calls per minute,
// or nil when perMinute is not positive.
func NewRateLimiter(perMinute int) RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`
	PollInterval time.Duration `json:"poll_interval"` // idle sleep between claim attempts
	JobTimeout   time.Duration `json:"job_timeout"`   // per-job deadline (0 = none)
	StaleAfter   time.Duration `json:"stale_after"`   // processing jobs older than this are failed (0 = never)
	RateLimiter  RateLimiter   `json:"-"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: 5 * time.Second,
		JobTimeout:   15 * time.Minute,
		StaleAfter:   30 * time.Minute,
	}
}

// PoolConfigFromAm builds the pool configuration from the pulse section of am
func PoolConfigFromAm(cfg *am.Config) WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      cfg.Pulse.Workers,
		PollInterval: cfg.PollInterval(),
		JobTimeout:   cfg.JobTimeout(),
		StaleAfter:   cfg.StaleAfter(),
		RateLimiter:  NewRateLimiter(cfg.Pulse.MaxScrapesPerMinute),
	}
}

// WorkerPool runs N independent polling loops over one Queue.
// Workers share nothing but the store; correctness rests on the atomic claim.
type WorkerPool struct {
	queue    *Queue
	executor JobExecutor
	config   WorkerPoolConfig
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	activeWorkers int
	jobsProcessed int
	startTime     time.Time
}

// NewWorkerPool creates a pool. A nil logger uses the global logger.
func NewWorkerPool(queue *Queue, executor JobExecutor, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = logger.Logger
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	return &WorkerPool{
		queue:    queue,
		executor: executor,
		config:   cfg,
		logger:   log.Named("pulse"),
	}
}

// Start recovers orphaned jobs and spawns the workers. They run until ctx
// is cancelled or Stop is called.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	wp.ctx, wp.cancel = context.WithCancel(ctx)
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if _, err := wp.RecoverOrphanedJobs(wp.ctx); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", logger.FieldError, err)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.config.Workers)
	}

	logger.AddPulseOpenSymbol(wp.logger).Infow("Worker pool started",
		"workers", wp.config.Workers,
		"poll_interval", wp.config.PollInterval,
		"job_timeout", wp.config.JobTimeout)

	for i := 0; i < wp.config.Workers; i++ {
		wp.wg.Add(1)
		go func(id int) {
			defer wp.wg.Done()
			wp.RunWorker(wp.ctx, id)
		}(i)
	}

	if wp.config.StaleAfter > 0 {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			wp.watchStale(wp.ctx)
		}()
	}
}

// Stop cancels the workers and waits for in-flight jobs to be finalized
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	closing := logger.AddPulseCloseSymbol(wp.logger)
	select {
	case <-done:
		closing.Infow("Worker pool stopped, all workers exited")
	case <-time.After(stopTimeout):
		closing.Warnw("Worker pool stop timed out, workers may still be finalizing", "timeout", stopTimeout)
	}
}

// RunWorker is one worker's polling loop. It returns only when ctx is
// cancelled or the database has been closed.
func (wp *WorkerPool) RunWorker(ctx context.Context, id int) {
	log := wp.logger.With(logger.FieldWorkerID, id)

	wake := wp.queue.Subscribe()
	defer wp.queue.Unsubscribe(wake)

	timer := time.NewTimer(wp.config.PollInterval)
	defer timer.Stop()

	errorCount := 0
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := wp.ProcessNext(ctx)
		wait := wp.config.PollInterval
		switch {
		case err != nil:
			if ctx.Err() != nil || db.IsDatabaseClosed(err) {
				return
			}
			errorCount++
			log.Errorw("Worker error processing job",
				logger.FieldError, err,
				logger.FieldErrorKind, string(ClassifyError(err)),
				"consecutive_errors", errorCount)
			if errorCount >= maxConsecutiveErrors {
				log.Warnw("Worker backing off due to consecutive errors",
					"backoff", backoff,
					"consecutive_errors", errorCount)
				wait = backoff
				backoff = min(backoff*2, maxBackoff)
			}
		default:
			if errorCount > 0 {
				log.Infow("Worker recovered from errors", "previous_error_count", errorCount)
			}
			errorCount = 0
			backoff = time.Second
			if processed {
				// keep draining while there is work
				continue
			}
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-wake:
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was
// claimed. Every claimed job is finalized before ProcessNext returns, unless
// the finalize write itself fails.
//
// The rate limiter is awaited before the claim, so a job's time in
// processing is bounded by JobTimeout and never includes the wait.
func (wp *WorkerPool) ProcessNext(ctx context.Context) (bool, error) {
	if wp.config.RateLimiter != nil {
		if err := wp.config.RateLimiter.Wait(ctx); err != nil {
			return false, errors.Wrap(err, "rate limiter")
		}
	}

	job, err := wp.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	jobCtx := logger.WithCompanyID(logger.WithJobID(ctx, job.ID), job.CompanyID)
	log := logger.FromContext(jobCtx, wp.logger)
	log.Debugw("Job claimed", logger.FieldStatus, job.Status)

	wp.trackActive(1)
	defer wp.trackActive(-1)

	start := time.Now()
	execErr := wp.execute(jobCtx, job)
	elapsed := time.Since(start)

	// A cancelled pool still finalizes, on a detached context
	finCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
	}

	if execErr == nil {
		err := wp.queue.CompleteJob(finCtx, job.ID)
		switch {
		case errors.IsConflictError(err):
			wp.logFinalizedElsewhere(log, err, elapsed)
			return true, nil
		case err != nil:
			return true, errors.Wrapf(err, "job %s succeeded but could not be finalized", job.ID)
		}
		log.Infow("Job completed", logger.FieldDurationMS, elapsed.Milliseconds())
		return true, nil
	}

	if ctx.Err() != nil {
		execErr = errors.Wrap(execErr, ReasonShutdown)
	}
	kind := ClassifyError(execErr)
	err = wp.queue.FailJob(finCtx, job.ID, execErr)
	switch {
	case errors.IsConflictError(err):
		wp.logFinalizedElsewhere(log, err, elapsed)
		return true, nil
	case err != nil:
		return true, errors.Wrapf(err, "job %s failed and could not be finalized", job.ID)
	}
	log.Errorw("Job failed",
		logger.FieldError, execErr.Error(),
		logger.FieldErrorKind, string(kind),
		logger.FieldDurationMS, elapsed.Milliseconds())
	return true, nil
}

// logFinalizedElsewhere reports a job whose row was already terminal when
// this worker tried to finalize it, typically failed by stale recovery.
func (wp *WorkerPool) logFinalizedElsewhere(log *zap.SugaredLogger, err error, elapsed time.Duration) {
	log.Warnw("Job was already finalized, result discarded",
		logger.FieldError, err.Error(),
		logger.FieldDurationMS, elapsed.Milliseconds())
}

// execute runs the executor under the job timeout. An executor that ignores
// its context is abandoned at the deadline; its goroutine finishes on its own
// and its result is dropped.
func (wp *WorkerPool) execute(ctx context.Context, job *Job) error {
	execCtx := ctx
	if wp.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, wp.config.JobTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- wp.executor.Execute(execCtx, job)
	}()

	var err error
	select {
	case err = <-done:
	case <-execCtx.Done():
		select {
		case err = <-done:
		default:
			err = errors.Wrap(execCtx.Err(), "executor did not return after cancellation")
		}
	}
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		err = errors.Mark(errors.Wrapf(err, "job exceeded timeout of %s", wp.config.JobTimeout), errors.ErrTimeout)
	}
	return err
}

func (wp *WorkerPool) trackActive(delta int) {
	wp.mu.Lock()
	wp.activeWorkers += delta
	if delta < 0 {
		wp.jobsProcessed++
	}
	wp.mu.Unlock()
}

// RecoverOrphanedJobs fails processing jobs whose claim is older than
// StaleAfter. Their worker crashed or was killed; failing them lets the next
// scheduler tick re-enqueue the company.
func (wp *WorkerPool) RecoverOrphanedJobs(ctx context.Context) (int, error) {
	if wp.config.StaleAfter <= 0 {
		return 0, nil
	}
	n, err := wp.queue.RecoverStale(ctx, wp.config.StaleAfter, ReasonOrphaned)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.AddPulseOpenSymbol(wp.logger).Infow("Failed orphaned jobs",
			logger.FieldCount, n,
			"stale_after", wp.config.StaleAfter)
	}
	return n, nil
}

func (wp *WorkerPool) watchStale(ctx context.Context) {
	ticker := time.NewTicker(wp.config.StaleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := wp.RecoverOrphanedJobs(ctx); err != nil && ctx.Err() == nil {
				wp.logger.Warnw("Stale job recovery failed", logger.FieldError, err)
			}
		}
	}
}

// GetQueue returns the job queue
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of configured workers
func (wp *WorkerPool) Workers() int {
	return wp.config.Workers
}

// ActiveWorkers returns how many workers are executing a job right now
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

// JobsProcessed returns the number of jobs finished since Start
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}
