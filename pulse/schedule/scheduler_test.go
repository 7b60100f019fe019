package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/watchtower/errors"
	wtest "github.com/teranos/watchtower/internal/testing"
	"github.com/teranos/watchtower/pulse/async"
	"github.com/teranos/watchtower/tracking"
)

// =============================================================================
// Lighthouse Test Universe
// =============================================================================
// The clock is stopped at tickNow. Each test seeds companies with a last
// scrape some hours before it and asks whether the tick lights them up.
// =============================================================================

var tickNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

type lighthouse struct {
	tracking *tracking.Store
	queue    *async.Queue
	sched    *Scheduler
	logs     *observer.ObservedLogs
}

func newLighthouse(t *testing.T) *lighthouse {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	ts := tracking.NewStore(wtest.CreateTestDB(t))
	q := async.NewQueue(async.NewMemoryStore(), 0)
	return &lighthouse{
		tracking: ts,
		queue:    q,
		sched:    NewScheduler(ts, q, zap.New(core).Sugar()).WithClock(func() time.Time { return tickNow }),
		logs:     logs,
	}
}

// track registers company, scraped hoursAgo before tickNow (negative = never)
func (l *lighthouse) track(t *testing.T, user, company string, rank int, hoursAgo int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.tracking.UpsertCompany(ctx, company, company))
	if hoursAgo >= 0 {
		require.NoError(t, l.tracking.MarkScraped(ctx, company, tickNow.Add(-time.Duration(hoursAgo)*time.Hour)))
	}
	require.NoError(t, l.tracking.SetPreference(ctx, tracking.Preference{UserID: user, CompanyID: company, Rank: rank, IsTracking: true}))
}

func (l *lighthouse) activeJobs(t *testing.T, company string) []*async.Job {
	t.Helper()
	jobs, err := l.queue.ListJobs(context.Background(), async.JobFilter{CompanyID: company})
	require.NoError(t, err)
	var active []*async.Job
	for _, j := range jobs {
		if j.Status.IsActive() {
			active = append(active, j)
		}
	}
	return active
}

func TestRunTick_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		rank     int
		hoursAgo int
		wantJob  bool
	}{
		{"rank 95 scraped 13h ago is due", 95, 13, true},
		{"rank 95 scraped 2h ago is cooling down", 95, 2, false},
		{"rank 55 scraped 8 days ago is due", 55, 8 * 24, true},
		{"rank 55 scraped 6 days ago is cooling down", 55, 6 * 24, false},
		{"exactly at the cooldown is not due", 70, 48, false},
		{"never scraped is due", 10, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLighthouse(t)
			l.track(t, "alice", "acme", tt.rank, tt.hoursAgo)

			report, err := l.sched.RunTick(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, report.Evaluated)

			active := l.activeJobs(t, "acme")
			if tt.wantJob {
				require.Len(t, active, 1)
				assert.Equal(t, async.JobStatusPending, active[0].Status)
				assert.Equal(t, 1, report.Enqueued)
			} else {
				assert.Empty(t, active)
				assert.Equal(t, 1, report.SkippedCooldown)
			}
		})
	}
}

func TestRunTick_TwoTrackersOneJob(t *testing.T) {
	l := newLighthouse(t)
	t.Log("Alice and Bob both watch Acme, scraped 20 days ago")
	l.track(t, "alice", "acme", 95, 20*24)
	l.track(t, "bob", "acme", 30, 20*24)

	report, err := l.sched.RunTick(context.Background())
	require.NoError(t, err)

	assert.Len(t, l.activeJobs(t, "acme"), 1)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Enqueued)
	assert.Equal(t, 1, report.SkippedActive)

	t.Log("a second tick sees the pending job and adds nothing")
	report, err = l.sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Enqueued)
	assert.Equal(t, 2, report.SkippedActive)
	assert.Len(t, l.activeJobs(t, "acme"), 1)
}

func TestRunTick_ProcessingJobBlocksEnqueue(t *testing.T) {
	ctx := context.Background()
	l := newLighthouse(t)
	l.track(t, "alice", "acme", 95, 100)

	_, err := l.queue.Enqueue(ctx, "acme")
	require.NoError(t, err)
	claimed, err := l.queue.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	report, err := l.sched.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedActive)
	assert.Len(t, l.activeJobs(t, "acme"), 1)

	// once the job is terminal the company is eligible again
	require.NoError(t, l.queue.FailJob(ctx, claimed.ID, errors.New("boom")))
	report, err = l.sched.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)
}

func TestRunTick_MissingCompanyIsSkipped(t *testing.T) {
	ctx := context.Background()
	l := newLighthouse(t)
	require.NoError(t, l.tracking.SetPreference(ctx, tracking.Preference{UserID: "alice", CompanyID: "ghost", Rank: 99, IsTracking: true}))
	l.track(t, "alice", "acme", 50, -1)

	report, err := l.sched.RunTick(ctx)
	require.NoError(t, err, "one bad preference does not abort the tick")
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Enqueued)

	warn := l.logs.FilterMessage("Skipping tracking preference").All()
	require.Len(t, warn, 1)
	assert.Equal(t, "ghost", warn[0].ContextMap()["company_id"])
	assert.Equal(t, string(async.ErrorKindResolution), warn[0].ContextMap()["error_kind"])
}

func TestRunTick_Logging(t *testing.T) {
	l := newLighthouse(t)
	l.track(t, "alice", "acme", 95, 13)
	l.track(t, "alice", "globex", 95, 2)

	_, err := l.sched.RunTick(context.Background())
	require.NoError(t, err)

	created := l.logs.FilterMessage("Job created").All()
	require.Len(t, created, 1)
	fields := created[0].ContextMap()
	assert.Equal(t, "acme", fields["company_id"])
	assert.EqualValues(t, 95, fields["rank"])
	assert.EqualValues(t, 13, fields["elapsed_hours"])
	assert.Equal(t, zapcore.InfoLevel, created[0].Level)

	cooling := l.logs.FilterMessage("Cooldown not reached").All()
	require.Len(t, cooling, 1)
	assert.Equal(t, zapcore.DebugLevel, cooling[0].Level)
}

type failingSource struct{ err error }

func (f failingSource) ListActivePreferences(context.Context) ([]tracking.Preference, error) {
	return nil, f.err
}

func (f failingSource) GetCompany(context.Context, string) (*tracking.Company, error) {
	return nil, f.err
}

func TestRunTick_LoadFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	q := async.NewQueue(async.NewMemoryStore(), 0)
	s := NewScheduler(failingSource{err: errors.New("database is locked")}, q, zap.New(core).Sugar())

	_, err := s.RunTick(context.Background())
	require.Error(t, err)
	assert.Equal(t, async.ErrorKindTickLoad, async.ClassifyError(err))

	s.RunSchedulerTick(context.Background())
	entries := logs.FilterMessage("Scheduler tick failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, string(async.ErrorKindTickLoad), entries[0].ContextMap()["error_kind"])
}

func TestRunTick_QueueFull(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	ts := tracking.NewStore(wtest.CreateTestDB(t))
	q := async.NewQueue(async.NewMemoryStore(), 1)
	s := NewScheduler(ts, q, zap.New(core).Sugar()).WithClock(func() time.Time { return tickNow })

	for _, c := range []string{"acme", "globex", "initech"} {
		require.NoError(t, ts.UpsertCompany(ctx, c, c))
		require.NoError(t, ts.SetPreference(ctx, tracking.Preference{UserID: "alice", CompanyID: c, Rank: 80, IsTracking: true}))
	}

	report, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)
	assert.Equal(t, 2, report.Failed)

	for _, e := range logs.FilterMessage("Skipping tracking preference").All() {
		assert.Equal(t, string(async.ErrorKindQueueFull), e.ContextMap()["error_kind"])
	}
}

func TestRunTick_Cancelled(t *testing.T) {
	l := newLighthouse(t)
	l.track(t, "alice", "acme", 95, 13)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.sched.RunTick(ctx)
	require.Error(t, err)
	assert.Empty(t, l.activeJobs(t, "acme"))
}

func TestRunSchedulerTick_LogsSummary(t *testing.T) {
	l := newLighthouse(t)
	l.track(t, "alice", "acme", 95, 13)

	l.sched.RunSchedulerTick(context.Background())
	entries := l.logs.FilterMessage("Scheduler tick finished").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ContextMap()["enqueued"])
}
