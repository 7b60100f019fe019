package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/watchtower/cmd/watchtower/commands"
	"github.com/teranos/watchtower/logger"
)

var rootCmd = &cobra.Command{
	Use:   "watchtower",
	Short: "Watchtower - cooldown-driven company re-scrape scheduler",
	Long: `Watchtower keeps tracked companies fresh.

A scheduler tick compares each tracked company's last successful scrape with
the cooldown for its tracking rank and enqueues at most one scrape job per
company. A pool of workers claims jobs oldest-first and runs the scrape
pipeline on behalf of the company's top tracker.

Available commands:
  pulse  - Run the scheduler and worker pool
  jobs   - Inspect and clean up scrape jobs
  track  - Manage companies, users and tracking preferences
  db     - Database maintenance
  am     - Show and validate configuration

Examples:
  watchtower pulse start -v        # Scheduler + workers, info logging
  watchtower pulse tick            # One scheduler tick, then exit
  watchtower jobs ls --status failed
  watchtower track set alice acme --rank 90`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// keep machine-readable output clean
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.TrackCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
