// Package scrape runs one claimed scrape job: it resolves the company and the
// user the job runs under, calls the pipeline, and records the successful scrape.
package scrape

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/logger"
	"github.com/teranos/watchtower/pipeline"
	"github.com/teranos/watchtower/pulse/async"
	"github.com/teranos/watchtower/tracking"
)

// CompanyStore is the slice of the tracking store the executor needs
type CompanyStore interface {
	GetCompany(ctx context.Context, id string) (*tracking.Company, error)
	MarkScraped(ctx context.Context, companyID string, at time.Time) error
}

// Executor implements async.JobExecutor for scrape jobs
type Executor struct {
	companies CompanyStore
	resolver  tracking.UserResolver
	pipeline  pipeline.Pipeline
	now       func() time.Time
	logger    *zap.SugaredLogger
}

var _ async.JobExecutor = (*Executor)(nil)

// NewExecutor wires the collaborators a scrape needs
func NewExecutor(companies CompanyStore, resolver tracking.UserResolver, p pipeline.Pipeline, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = logger.Logger
	}
	return &Executor{
		companies: companies,
		resolver:  resolver,
		pipeline:  p,
		now:       time.Now,
		logger:    logger.AddTrackSymbol(log.Named("scrape")),
	}
}

// WithClock overrides the time source used for the scrape timestamp
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute runs the pipeline for the job's company.
// The company timestamp only moves when the pipeline succeeds.
func (e *Executor) Execute(ctx context.Context, job *async.Job) error {
	log := logger.FromContext(ctx, e.logger)

	company, err := e.companies.GetCompany(ctx, job.CompanyID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return async.MarkResolution(errors.Wrapf(err, "company %s not found", job.CompanyID))
		}
		return async.MarkTransient(errors.Wrap(err, "failed to load company"))
	}

	user, err := e.resolver.ResolveUser(ctx, company)
	if err != nil {
		return async.MarkTransient(errors.Wrap(err, "failed to resolve user"))
	}
	if user == nil {
		err := errors.Newf("no user to scrape %s on behalf of", company.ID)
		return async.MarkResolution(errors.WithHint(err, "track the company or set operator.user_id"))
	}

	log.Debugw("Calling pipeline",
		logger.FieldUserID, user.UserID,
		"company", company.Name())

	results, err := e.pipeline.ExecutePipeline(ctx, []tracking.Company{*company}, user.CVReference, user.CandidateProfile, user.Identity)
	if err != nil {
		if ctx.Err() != nil {
			// left unmarked so the worker classifies it as a timeout or shutdown
			return errors.Wrap(err, "pipeline interrupted")
		}
		return async.MarkPipeline(errors.Wrap(err, "pipeline failed"))
	}
	// Past the deadline the worker has already failed the job
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "pipeline returned after the job was abandoned")
	}

	if err := e.companies.MarkScraped(ctx, company.ID, e.now()); err != nil {
		return async.MarkTransient(errors.Wrap(err, "failed to record scrape"))
	}

	log.Infow("Scrape finished",
		logger.FieldUserID, user.UserID,
		"results", len(results))
	return nil
}
