package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/internal/util"
	"github.com/teranos/watchtower/pulse/async"
	"github.com/teranos/watchtower/sym"
)

// JobsCmd inspects the scrape queue
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " Inspect and clean up scrape jobs",
	Long: sym.Pulse + ` jobs - Inspect the scrape queue

Examples:
  watchtower jobs ls                      # newest 100 jobs
  watchtower jobs ls --status failed      # failed jobs only
  watchtower jobs ls --company acme --json
  watchtower jobs status <job-id>
  watchtower jobs stats
  watchtower jobs cleanup --older-than 720h
  watchtower jobs recover --older-than 1h # fail orphaned processing jobs`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
	RunE:  runJobsLs,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count jobs by status",
	RunE:  runJobsStats,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed and failed jobs older than the retention window",
	RunE:  runJobsCleanup,
}

var jobsRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fail processing jobs whose worker went away",
	RunE:  runJobsRecover,
}

var (
	jobsStatusFlag    string
	jobsCompanyFlag   string
	jobsLimitFlag     int
	jobsJSONFlag      bool
	jobsOlderThanFlag time.Duration
)

func init() {
	jobsLsCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "Filter by status (pending, processing, completed, failed)")
	jobsLsCmd.Flags().StringVar(&jobsCompanyFlag, "company", "", "Filter by company ID")
	jobsLsCmd.Flags().IntVar(&jobsLimitFlag, "limit", async.DefaultListLimit, "Maximum number of jobs")
	jobsLsCmd.Flags().BoolVar(&jobsJSONFlag, "json", false, "Output as JSON")
	jobsStatusCmd.Flags().BoolVar(&jobsJSONFlag, "json", false, "Output as JSON")
	jobsCleanupCmd.Flags().DurationVar(&jobsOlderThanFlag, "older-than", 0, "Age threshold (default: pulse.retention_days)")
	jobsRecoverCmd.Flags().DurationVar(&jobsOlderThanFlag, "older-than", 0, "Claim age threshold (default: pulse.stale_after_seconds)")

	JobsCmd.AddCommand(jobsLsCmd, jobsStatusCmd, jobsStatsCmd, jobsCleanupCmd, jobsRecoverCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	filter := async.JobFilter{CompanyID: jobsCompanyFlag, Limit: jobsLimitFlag}
	if jobsStatusFlag != "" {
		if !async.IsValidStatus(jobsStatusFlag) {
			return errors.Newf("unknown status %q", jobsStatusFlag)
		}
		filter.Status = util.Ptr(async.JobStatus(jobsStatusFlag))
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	jobs, err := s.queue.ListJobs(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if jobsJSONFlag {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs")
		return nil
	}

	data := pterm.TableData{{"ID", "Company", "Status", "Created", "Claimed", "Duration", "Error"}}
	for _, j := range jobs {
		data = append(data, []string{
			j.ShortID(),
			j.CompanyID,
			colorStatus(j.Status),
			j.CreatedAt.Local().Format(time.DateTime),
			formatTimePtr(j.LastAttemptAt),
			formatDuration(j),
			truncate(j.Error, 60),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	job, err := s.queue.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jobsJSONFlag {
		return printJSON(job)
	}

	pterm.DefaultSection.Printfln("Job %s", job.ID)
	pterm.Printfln("  Company:   %s", job.CompanyID)
	pterm.Printfln("  Status:    %s", colorStatus(job.Status))
	pterm.Printfln("  Created:   %s", job.CreatedAt.Local().Format(time.DateTime))
	pterm.Printfln("  Claimed:   %s", formatTimePtr(job.LastAttemptAt))
	pterm.Printfln("  Finished:  %s", formatTimePtr(job.CompletedAt))
	pterm.Printfln("  Duration:  %s", formatDuration(job))
	if job.Error != "" {
		pterm.Printfln("  Error:     %s", pterm.Red(job.Error))
	}
	return nil
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.queue.Stats(cmd.Context())
	if err != nil {
		return err
	}

	data := pterm.TableData{
		{"Pending", "Processing", "Completed", "Failed", "Total"},
		{
			fmt.Sprint(stats.Pending),
			fmt.Sprint(stats.Processing),
			fmt.Sprint(stats.Completed),
			fmt.Sprint(stats.Failed),
			fmt.Sprint(stats.Total),
		},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	if s.cfg.Pulse.MaxQueueDepth > 0 {
		pterm.Printfln("Active %d of %d allowed", stats.Active(), s.cfg.Pulse.MaxQueueDepth)
	}
	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	olderThan := jobsOlderThanFlag
	if olderThan == 0 {
		olderThan = s.cfg.Retention()
	}
	n, err := s.queue.Cleanup(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Deleted %d finished jobs older than %s", n, olderThan)
	return nil
}

func runJobsRecover(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	olderThan := jobsOlderThanFlag
	if olderThan == 0 {
		olderThan = s.cfg.StaleAfter()
	}
	n, err := s.queue.RecoverStale(cmd.Context(), olderThan, async.ReasonOrphaned)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Failed %d processing jobs claimed more than %s ago", n, olderThan)
	return nil
}

func colorStatus(status async.JobStatus) string {
	switch status {
	case async.JobStatusCompleted:
		return pterm.Green(string(status))
	case async.JobStatusFailed:
		return pterm.Red(string(status))
	case async.JobStatusProcessing:
		return pterm.Yellow(string(status))
	default:
		return pterm.Gray(string(status))
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatDuration(j *async.Job) string {
	d, ok := j.Duration()
	if !ok {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to format JSON")
	}
	fmt.Println(string(out))
	return nil
}
