package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/logger"
	"github.com/teranos/watchtower/pulse/async"
	"github.com/teranos/watchtower/sym"
)

// Ticker runs the scheduler on a fixed interval
type Ticker struct {
	scheduler  *Scheduler
	queue      *async.Queue      // for the activity line, optional
	workerPool *async.WorkerPool // for system metrics, optional
	interval   time.Duration
	runOnStart bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastReport      *TickReport
	lastActiveWork  int
}

// TickerConfig contains configuration for the scheduler ticker
type TickerConfig struct {
	Interval   time.Duration
	RunOnStart bool // tick immediately instead of waiting one interval
}

// DefaultTickerConfig returns an hourly ticker that also ticks at start
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// TickerConfigFromAm reads the ticker settings from am
func TickerConfigFromAm(cfg *am.Config) TickerConfig {
	return TickerConfig{
		Interval:   cfg.TickerInterval(),
		RunOnStart: true,
	}
}

// TickerStats is a snapshot of ticker activity
type TickerStats struct {
	LastTickAt      time.Time
	TicksSinceStart int64
	Interval        time.Duration
	LastReport      *TickReport
}

// NewTicker creates a ticker bound to ctx. queue and workerPool may be nil.
func NewTicker(ctx context.Context, scheduler *Scheduler, queue *async.Queue, workerPool *async.WorkerPool, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if log == nil {
		log = logger.Logger
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		scheduler:  scheduler,
		queue:      queue,
		workerPool: workerPool,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     logger.AddPulseSymbol(log.Named("ticker")),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Pulse ticker started", "interval", t.interval)
}

// Stop cancels the loop and waits for an in-flight tick to return
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Pulse ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	if t.runOnStart {
		t.tick(time.Now())
	}

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.tick(tickTime)
		}
	}
}

func (t *Ticker) tick(at time.Time) {
	report, err := t.scheduler.RunTick(t.ctx)

	t.mu.Lock()
	t.lastTickAt = at
	t.ticksSinceStart++
	ticks := t.ticksSinceStart
	if err == nil {
		t.lastReport = report
	}
	t.mu.Unlock()

	t.scheduler.logTickResult(t.ctx, report, err, "tick", ticks)
	if err != nil {
		return
	}
	t.logActivity()
}

// logActivity logs queue activity, but only when the active count changed
func (t *Ticker) logActivity() {
	if t.queue == nil {
		return
	}
	stats, err := t.queue.Stats(t.ctx)
	if err != nil {
		t.logger.Warnw("Failed to get queue stats", logger.FieldError, err.Error())
		return
	}
	active := stats.Active()

	t.mu.Lock()
	changed := active != t.lastActiveWork
	t.lastActiveWork = active
	t.mu.Unlock()
	if !changed {
		return
	}

	msg := fmt.Sprintf("%sPulse - %d jobs active (%d pending, %d processing)",
		activityIndicator(active), active, stats.Pending, stats.Processing)
	if t.workerPool != nil {
		m := t.workerPool.GetSystemMetrics(t.ctx)
		msg += fmt.Sprintf(" │ Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
			m.WorkersActive, m.WorkersTotal, m.MemoryUsedGB, m.MemoryTotalGB, m.MemoryPercent)
	}
	t.logger.Infow(msg)
}

// activityIndicator returns one pulse glyph per five active jobs, capped at 60
func activityIndicator(active int) string {
	if active <= 0 {
		return ""
	}
	n := active/5 + 1
	if n > 60 {
		n = 60
	}
	return strings.Repeat(sym.Pulse+" ", n)
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() TickerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TickerStats{
		LastTickAt:      t.lastTickAt,
		TicksSinceStart: t.ticksSinceStart,
		Interval:        t.interval,
		LastReport:      t.lastReport,
	}
}
