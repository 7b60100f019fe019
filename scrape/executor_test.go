package scrape

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/watchtower/errors"
	wtest "github.com/teranos/watchtower/internal/testing"
	"github.com/teranos/watchtower/pipeline"
	"github.com/teranos/watchtower/pulse/async"
	"github.com/teranos/watchtower/tracking"
)

// =============================================================================
// Harbor Test Universe
// =============================================================================
// Acme is tracked by Alice (rank 95) and Bob (rank 60). Globex is tracked by
// nobody, so it never resolves to a user. The pipeline is a recording fake.
// =============================================================================

type recordingPipeline struct {
	calls    []pipelineCall
	err      error
	block    bool
	hold     chan struct{} // when set, wait here ignoring ctx
	response pipeline.ResultMap
}

type pipelineCall struct {
	companies []tracking.Company
	cv        string
	profile   json.RawMessage
	identity  string
}

func (p *recordingPipeline) ExecutePipeline(ctx context.Context, companies []tracking.Company, cv string, profile json.RawMessage, identity string) (pipeline.ResultMap, error) {
	p.calls = append(p.calls, pipelineCall{companies: companies, cv: cv, profile: profile, identity: identity})
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.hold != nil {
		<-p.hold
		return p.response, nil
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.response, nil
}

var harborNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func setupHarbor(t *testing.T) *tracking.Store {
	t.Helper()
	ctx := context.Background()
	s := tracking.NewStore(wtest.CreateTestDB(t))

	require.NoError(t, s.UpsertCompany(ctx, "acme", "Acme"))
	require.NoError(t, s.UpsertCompany(ctx, "globex", "Globex"))
	require.NoError(t, s.UpsertUser(ctx, tracking.User{
		ID:               "alice",
		Identity:         "alice@example.com",
		CVReference:      "cv/alice",
		CandidateProfile: json.RawMessage(`{"title":"SRE"}`),
	}))
	require.NoError(t, s.UpsertUser(ctx, tracking.User{ID: "bob", Identity: "bob@example.com"}))
	require.NoError(t, s.SetPreference(ctx, tracking.Preference{UserID: "alice", CompanyID: "acme", Rank: 95, IsTracking: true}))
	require.NoError(t, s.SetPreference(ctx, tracking.Preference{UserID: "bob", CompanyID: "acme", Rank: 60, IsTracking: true}))
	return s
}

func newHarborExecutor(s *tracking.Store, p pipeline.Pipeline) *Executor {
	return NewExecutor(s, tracking.NewTrackerResolver(s), p, zap.NewNop().Sugar()).
		WithClock(func() time.Time { return harborNow })
}

func TestExecute_Success(t *testing.T) {
	ctx := context.Background()
	s := setupHarbor(t)
	p := &recordingPipeline{response: pipeline.ResultMap{"acme": json.RawMessage(`{"jobs":4}`)}}
	exec := newHarborExecutor(s, p)

	err := exec.Execute(ctx, &async.Job{ID: "j1", CompanyID: "acme"})
	require.NoError(t, err)

	require.Len(t, p.calls, 1)
	call := p.calls[0]
	require.Len(t, call.companies, 1)
	assert.Equal(t, "acme", call.companies[0].ID)
	assert.Equal(t, "cv/alice", call.cv, "top tracker's CV is used")
	assert.Equal(t, "alice@example.com", call.identity)
	assert.JSONEq(t, `{"title":"SRE"}`, string(call.profile))

	c, err := s.GetCompany(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, c.LastSuccessfulScrape)
	assert.True(t, c.LastSuccessfulScrape.Equal(harborNow))
}

func TestExecute_PipelineFailureKeepsTimestamp(t *testing.T) {
	ctx := context.Background()
	s := setupHarbor(t)
	exec := newHarborExecutor(s, &recordingPipeline{err: errors.New("scraper returned 500")})

	err := exec.Execute(ctx, &async.Job{ID: "j1", CompanyID: "acme"})
	require.Error(t, err)
	assert.Equal(t, async.ErrorKindPipeline, async.ClassifyError(err))

	c, err := s.GetCompany(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, c.LastSuccessfulScrape)
}

func TestExecute_ResolutionFailures(t *testing.T) {
	ctx := context.Background()
	s := setupHarbor(t)
	p := &recordingPipeline{}
	exec := newHarborExecutor(s, p)

	t.Run("missing company", func(t *testing.T) {
		err := exec.Execute(ctx, &async.Job{ID: "j1", CompanyID: "initech"})
		require.Error(t, err)
		assert.Equal(t, async.ErrorKindResolution, async.ClassifyError(err))
	})

	t.Run("no user for company", func(t *testing.T) {
		err := exec.Execute(ctx, &async.Job{ID: "j2", CompanyID: "globex"})
		require.Error(t, err)
		assert.Equal(t, async.ErrorKindResolution, async.ClassifyError(err))
		assert.NotEmpty(t, errors.GetAllHints(err))
	})

	assert.Empty(t, p.calls, "pipeline is never called without a company and user")
}

func TestExecute_DeadlineIsNotPipelineError(t *testing.T) {
	s := setupHarbor(t)
	exec := newHarborExecutor(s, &recordingPipeline{block: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := exec.Execute(ctx, &async.Job{ID: "j1", CompanyID: "acme"})
	require.Error(t, err)
	assert.Equal(t, async.ErrorKindTimeout, async.ClassifyError(err))
}

func TestExecute_StaticOperator(t *testing.T) {
	ctx := context.Background()
	s := setupHarbor(t)
	p := &recordingPipeline{}
	exec := NewExecutor(s, tracking.NewResolver(s, "bob"), p, nil)

	require.NoError(t, exec.Execute(ctx, &async.Job{ID: "j1", CompanyID: "globex"}))
	require.Len(t, p.calls, 1)
	assert.Equal(t, "bob@example.com", p.calls[0].identity)
	assert.JSONEq(t, `{}`, string(p.calls[0].profile))
}

// TestWorkerPoolEndToEnd drives one job through claim, pipeline and finalize.
func TestWorkerPoolEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := setupHarbor(t)

	t.Log("Alice's acme job succeeds, the globex job has nobody to run as")
	claimedAt := harborNow.Add(-time.Minute)
	store := async.NewMemoryStore().WithClock(func() time.Time { return claimedAt })
	queue := async.NewQueue(store, 0)
	okJob, err := queue.Enqueue(ctx, "acme")
	require.NoError(t, err)
	badJob, err := queue.Enqueue(ctx, "globex")
	require.NoError(t, err)

	p := &recordingPipeline{}
	pool := async.NewWorkerPool(queue, newHarborExecutor(s, p), async.DefaultWorkerPoolConfig(), zap.NewNop().Sugar())

	for i := 0; i < 2; i++ {
		claimed, err := pool.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	done, err := queue.GetJob(ctx, okJob.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusCompleted, done.Status)
	require.NotNil(t, done.LastAttemptAt)

	c, err := s.GetCompany(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, c.LastSuccessfulScrape)
	assert.False(t, c.LastSuccessfulScrape.Before(*done.LastAttemptAt), "scrape recorded at or after the claim")

	failed, err := queue.GetJob(ctx, badJob.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "no user")

	g, err := s.GetCompany(ctx, "globex")
	require.NoError(t, err)
	assert.Nil(t, g.LastSuccessfulScrape)
}

// TestWorkerPoolAbandonsHungPipeline covers a pipeline that ignores its
// context: the worker fails the job at the deadline, and the late success
// must not move the company timestamp.
func TestWorkerPoolAbandonsHungPipeline(t *testing.T) {
	ctx := context.Background()
	s := setupHarbor(t)

	t.Log("The acme scraper hangs past its deadline, then reports success anyway")
	queue := async.NewQueue(async.NewMemoryStore(), 0)
	job, err := queue.Enqueue(ctx, "acme")
	require.NoError(t, err)

	p := &recordingPipeline{hold: make(chan struct{}), response: pipeline.ResultMap{"acme": json.RawMessage(`{}`)}}
	harbor := newHarborExecutor(s, p)
	lateResult := make(chan error, 1)
	exec := async.ExecutorFunc(func(ctx context.Context, j *async.Job) error {
		err := harbor.Execute(ctx, j)
		lateResult <- err
		return err
	})

	cfg := async.DefaultWorkerPoolConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	pool := async.NewWorkerPool(queue, exec, cfg, zap.NewNop().Sugar())

	start := time.Now()
	claimed, err := pool.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Less(t, time.Since(start), time.Second, "the worker slot is released at the deadline")

	got, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "timeout")

	close(p.hold)
	select {
	case err := <-lateResult:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned executor never returned")
	}

	c, err := s.GetCompany(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, c.LastSuccessfulScrape, "a failed job leaves the timestamp alone")
}
