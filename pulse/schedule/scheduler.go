package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/logger"
	"github.com/teranos/watchtower/pulse/async"
	"github.com/teranos/watchtower/tracking"
)

// PreferenceSource is the read side of tracking data the scheduler needs
type PreferenceSource interface {
	ListActivePreferences(ctx context.Context) ([]tracking.Preference, error)
	GetCompany(ctx context.Context, id string) (*tracking.Company, error)
}

// JobQueue is the write side of the scrape queue the scheduler needs
type JobQueue interface {
	HasActiveJob(ctx context.Context, companyID string) (bool, error)
	Enqueue(ctx context.Context, companyID string) (*async.Job, error)
}

// TickReport summarizes one scheduler tick
type TickReport struct {
	Evaluated       int
	Enqueued        int
	SkippedActive   int
	SkippedCooldown int
	Failed          int
	Duration        time.Duration
}

// Scheduler evaluates every active tracking preference against the cooldown
// policy and enqueues due companies.
type Scheduler struct {
	prefs  PreferenceSource
	queue  JobQueue
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewScheduler creates a scheduler. A nil log uses the global logger.
func NewScheduler(prefs PreferenceSource, queue JobQueue, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = logger.Logger
	}
	return &Scheduler{
		prefs:  prefs,
		queue:  queue,
		now:    time.Now,
		logger: logger.AddPulseSymbol(log.Named("scheduler")),
	}
}

// WithClock overrides the scheduler's time source
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// RunTick runs one pass over all active preferences.
// Preferences are processed sequentially; once a company has an active job,
// later preferences for it in the same tick are skipped. Failures on a single
// preference are logged and counted, only a failed load aborts the tick.
func (s *Scheduler) RunTick(ctx context.Context) (*TickReport, error) {
	start := time.Now()
	report := &TickReport{}

	prefs, err := s.prefs.ListActivePreferences(ctx)
	if err != nil {
		return report, async.MarkTickLoad(errors.Wrap(err, "scheduler tick aborted"))
	}

	now := s.now()
	for _, pref := range prefs {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		report.Evaluated++

		outcome, err := s.evaluate(ctx, pref, now)
		if err != nil {
			report.Failed++
			kind := async.ClassifyError(err)
			s.logger.Warnw("Skipping tracking preference",
				logger.FieldCompanyID, pref.CompanyID,
				logger.FieldUserID, pref.UserID,
				logger.FieldError, err.Error(),
				logger.FieldErrorKind, string(kind))
			continue
		}
		switch outcome {
		case outcomeEnqueued:
			report.Enqueued++
		case outcomeActive:
			report.SkippedActive++
		case outcomeCooldown:
			report.SkippedCooldown++
		}
	}

	report.Duration = time.Since(start)
	return report, nil
}

type outcome int

const (
	outcomeCooldown outcome = iota
	outcomeActive
	outcomeEnqueued
)

func (s *Scheduler) evaluate(ctx context.Context, pref tracking.Preference, now time.Time) (outcome, error) {
	company, err := s.prefs.GetCompany(ctx, pref.CompanyID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return 0, async.MarkResolution(err)
		}
		return 0, async.MarkTransient(err)
	}

	elapsed := now.Sub(company.LastScrapeOrEpoch())
	cooldown := CooldownFor(pref.Rank)
	fields := []interface{}{
		logger.FieldCompanyID, company.ID,
		logger.FieldRank, pref.Rank,
		logger.FieldElapsedHours, int64(elapsed.Hours()),
		logger.FieldCooldownHours, CooldownHours(pref.Rank),
	}

	if elapsed <= cooldown {
		s.logger.Debugw("Cooldown not reached", fields...)
		return outcomeCooldown, nil
	}

	active, err := s.queue.HasActiveJob(ctx, company.ID)
	if err != nil {
		return 0, err
	}
	if active {
		s.logger.Debugw("Active job exists", fields...)
		return outcomeActive, nil
	}

	job, err := s.queue.Enqueue(ctx, company.ID)
	if err != nil {
		return 0, err
	}

	s.logger.Infow("Job created", append(fields, logger.FieldJobID, job.ID, "company", company.Name())...)
	return outcomeEnqueued, nil
}

// RunSchedulerTick runs a tick and logs its outcome instead of returning it.
// This is the entry point for external timers.
func (s *Scheduler) RunSchedulerTick(ctx context.Context) {
	report, err := s.RunTick(ctx)
	s.logTickResult(ctx, report, err)
}

// logTickResult is the one place a tick outcome is logged. keysAndValues are
// appended to every line, e.g. the ticker's tick number.
// Ticks that changed nothing log at debug; ticks cut short by cancellation
// are not errors.
func (s *Scheduler) logTickResult(ctx context.Context, report *TickReport, err error, keysAndValues ...interface{}) {
	if report == nil {
		report = &TickReport{}
	}
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Debugw("Scheduler tick interrupted",
				append([]interface{}{"evaluated", report.Evaluated}, keysAndValues...)...)
			return
		}
		s.logger.Errorw("Scheduler tick failed",
			append([]interface{}{
				logger.FieldError, err.Error(),
				logger.FieldErrorKind, string(async.ClassifyError(err)),
				"evaluated", report.Evaluated,
			}, keysAndValues...)...)
		return
	}

	fields := append([]interface{}{
		"evaluated", report.Evaluated,
		"enqueued", report.Enqueued,
		"skipped_active", report.SkippedActive,
		"skipped_cooldown", report.SkippedCooldown,
		"failed", report.Failed,
		logger.FieldDurationMS, report.Duration.Milliseconds(),
	}, keysAndValues...)
	if report.Enqueued > 0 || report.Failed > 0 {
		s.logger.Infow("Scheduler tick finished", fields...)
	} else {
		s.logger.Debugw("Scheduler tick finished", fields...)
	}
}
