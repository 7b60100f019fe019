package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/logger"
	"github.com/teranos/watchtower/pipeline"
	"github.com/teranos/watchtower/pulse/async"
	"github.com/teranos/watchtower/pulse/schedule"
	"github.com/teranos/watchtower/scrape"
	"github.com/teranos/watchtower/sym"
	"github.com/teranos/watchtower/tracking"
)

// PulseCmd groups the scheduler and worker commands
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the scheduler and worker pool",
	Long: sym.Pulse + ` Pulse - scheduler ticks and scrape workers.

Each tick loads every active tracking preference and enqueues a scrape for
companies whose cooldown has elapsed and that have no pending or processing
job. Workers claim jobs oldest-first, call the pipeline, and finalize every
claimed job as completed or failed.

Examples:
  watchtower pulse start                # ticker + workers from am.toml
  watchtower pulse start --workers 4    # override pulse.workers
  watchtower pulse start --no-ticker    # workers only
  watchtower pulse tick                 # one tick, print the report`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var pulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the ticker and worker pool until interrupted",
	RunE:  runPulseStart,
}

var pulseTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler tick and exit",
	RunE:  runPulseTick,
}

var (
	pulseWorkersFlag  int
	pulseNoTickerFlag bool
)

func init() {
	pulseStartCmd.Flags().IntVar(&pulseWorkersFlag, "workers", -1, "Number of concurrent workers (default: pulse.workers)")
	pulseStartCmd.Flags().BoolVar(&pulseNoTickerFlag, "no-ticker", false, "Do not run scheduler ticks in this process")
	PulseCmd.AddCommand(pulseStartCmd)
	PulseCmd.AddCommand(pulseTickCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	poolCfg := async.PoolConfigFromAm(s.cfg)
	if pulseWorkersFlag >= 0 {
		poolCfg.Workers = pulseWorkersFlag
	}
	tickerCfg := schedule.TickerConfigFromAm(s.cfg)
	runTicker := !pulseNoTickerFlag && tickerCfg.Interval > 0
	if !runTicker && poolCfg.Workers == 0 {
		return errors.WithHint(errors.New("nothing to run: no workers and no ticker"),
			"set pulse.workers > 0 or pulse.ticker_interval_seconds > 0")
	}

	var executor async.JobExecutor
	if poolCfg.Workers > 0 {
		pipeCfg := pipeline.ConfigFromAm(s.cfg)
		pipeCfg.Logger = logger.ComponentLogger("pipeline")
		pipe, err := pipeline.NewHTTPPipeline(pipeCfg)
		if err != nil {
			return err
		}
		resolver := tracking.NewResolver(s.tracking, s.cfg.Operator.UserID)
		executor = scrape.NewExecutor(s.tracking, resolver, pipe, logger.Logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := async.NewWorkerPool(s.queue, executor, poolCfg, logger.Logger)
	if poolCfg.Workers > 0 {
		pool.Start(ctx)
	}

	var ticker *schedule.Ticker
	if runTicker {
		scheduler := schedule.NewScheduler(s.tracking, s.queue, logger.Logger)
		ticker = schedule.NewTicker(ctx, scheduler, s.queue, pool, tickerCfg, logger.Logger)
		ticker.Start()
	}

	pterm.Success.Printfln("%s Pulse started", sym.Pulse)
	pterm.Printfln("  Database:      %s", s.dialect)
	pterm.Printfln("  Workers:       %d", poolCfg.Workers)
	pterm.Printfln("  Poll interval: %s", poolCfg.PollInterval)
	pterm.Printfln("  Job timeout:   %s", poolCfg.JobTimeout)
	if runTicker {
		pterm.Printfln("  Tick interval: %s", tickerCfg.Interval)
	} else {
		pterm.Printfln("  Tick interval: disabled")
	}
	if s.cfg.Pulse.MaxQueueDepth > 0 {
		pterm.Printfln("  Queue ceiling: %d", s.cfg.Pulse.MaxQueueDepth)
	}
	pterm.Println()
	pterm.Info.Println("Press Ctrl+C for graceful shutdown")

	<-ctx.Done()

	fmt.Printf("\n%s Shutting down...\n", sym.PulseClose)
	if ticker != nil {
		ticker.Stop()
	}
	pool.Stop()

	fmt.Printf("%s Pulse stopped (%d jobs processed)\n", sym.PulseClose, pool.JobsProcessed())
	return nil
}

func runPulseTick(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	scheduler := schedule.NewScheduler(s.tracking, s.queue, logger.Logger)
	report, err := scheduler.RunTick(cmd.Context())
	if err != nil {
		return err
	}

	pterm.Success.Printfln("%s Tick finished in %s", sym.Pulse, report.Duration.Round(time.Millisecond))
	data := pterm.TableData{
		{"Evaluated", "Enqueued", "Active", "Cooling down", "Failed"},
		{
			fmt.Sprint(report.Evaluated),
			fmt.Sprint(report.Enqueued),
			fmt.Sprint(report.SkippedActive),
			fmt.Sprint(report.SkippedCooldown),
			fmt.Sprint(report.Failed),
		},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
