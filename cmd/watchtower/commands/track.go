package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/pulse/schedule"
	"github.com/teranos/watchtower/sym"
	"github.com/teranos/watchtower/tracking"
)

// TrackCmd manages the data the scheduler reads
var TrackCmd = &cobra.Command{
	Use:   "track",
	Short: sym.Track + " Manage companies, users and tracking preferences",
	Long: sym.Track + ` track - Manage scrape targets and who tracks them

Examples:
  watchtower track company acme --name "Acme Corp"
  watchtower track user alice --identity alice@example.com --cv s3://cvs/alice.pdf --profile @alice.json
  watchtower track set alice acme --rank 90
  watchtower track set alice acme --off
  watchtower track ls
  watchtower track ls --company acme`,
}

var trackCompanyCmd = &cobra.Command{
	Use:   "company <id>",
	Short: "Register or rename a company",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackCompany,
}

var trackUserCmd = &cobra.Command{
	Use:   "user <id>",
	Short: "Register or update a user's pipeline identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackUser,
}

var trackSetCmd = &cobra.Command{
	Use:   "set <user-id> <company-id>",
	Short: "Set a user's tracking rank for a company",
	Args:  cobra.ExactArgs(2),
	RunE:  runTrackSet,
}

var trackLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tracking preferences with their cooldown and due time",
	RunE:  runTrackLs,
}

var (
	trackNameFlag     string
	trackIdentityFlag string
	trackCVFlag       string
	trackProfileFlag  string
	trackRankFlag     int
	trackOffFlag      bool
	trackCompanyFlag  string
)

func init() {
	trackCompanyCmd.Flags().StringVar(&trackNameFlag, "name", "", "Display name")
	trackUserCmd.Flags().StringVar(&trackIdentityFlag, "identity", "", "Identity passed to the pipeline")
	trackUserCmd.Flags().StringVar(&trackCVFlag, "cv", "", "CV reference passed to the pipeline")
	trackUserCmd.Flags().StringVar(&trackProfileFlag, "profile", "", "Candidate profile as a JSON object, or @file")
	trackSetCmd.Flags().IntVar(&trackRankFlag, "rank", 50, "Tracking rank (0-100, higher scrapes more often)")
	trackSetCmd.Flags().BoolVar(&trackOffFlag, "off", false, "Stop tracking, keeping the rank")
	trackLsCmd.Flags().StringVar(&trackCompanyFlag, "company", "", "Only this company")

	TrackCmd.AddCommand(trackCompanyCmd, trackUserCmd, trackSetCmd, trackLsCmd)
}

func runTrackCompany(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.tracking.UpsertCompany(cmd.Context(), args[0], trackNameFlag); err != nil {
		return err
	}
	pterm.Success.Printfln("%s Company %s saved", sym.Track, args[0])
	return nil
}

func runTrackUser(cmd *cobra.Command, args []string) error {
	profile, err := readProfile(trackProfileFlag)
	if err != nil {
		return err
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	u := tracking.User{
		ID:               args[0],
		Identity:         trackIdentityFlag,
		CVReference:      trackCVFlag,
		CandidateProfile: profile,
	}
	if err := s.tracking.UpsertUser(cmd.Context(), u); err != nil {
		return err
	}
	pterm.Success.Printfln("%s User %s saved", sym.Track, args[0])
	return nil
}

// readProfile accepts inline JSON or @path
func readProfile(arg string) (json.RawMessage, error) {
	if arg == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read profile %s", path)
		}
		return json.RawMessage(data), nil
	}
	return json.RawMessage(arg), nil
}

func runTrackSet(cmd *cobra.Command, args []string) error {
	if err := tracking.ValidateRank(trackRankFlag); err != nil {
		return err
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	pref := tracking.Preference{
		UserID:     args[0],
		CompanyID:  args[1],
		Rank:       trackRankFlag,
		IsTracking: !trackOffFlag,
	}
	if err := s.tracking.SetPreference(cmd.Context(), pref); err != nil {
		return err
	}

	if pref.IsTracking {
		pterm.Success.Printfln("%s %s tracks %s at rank %d (cooldown %s)",
			sym.Track, pref.UserID, pref.CompanyID, pref.Rank, schedule.CooldownFor(pref.Rank))
	} else {
		pterm.Success.Printfln("%s %s no longer tracks %s", sym.Track, pref.UserID, pref.CompanyID)
	}
	return nil
}

func runTrackLs(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	prefs, err := s.tracking.ListPreferences(ctx, trackCompanyFlag)
	if err != nil {
		return err
	}
	if len(prefs) == 0 {
		pterm.Info.Println("No tracking preferences")
		return nil
	}

	now := time.Now()
	data := pterm.TableData{{"User", "Company", "Rank", "Tracking", "Cooldown", "Last scrape", "Due"}}
	for _, p := range prefs {
		lastScrape, due := "-", "-"
		company, err := s.tracking.GetCompany(ctx, p.CompanyID)
		switch {
		case errors.IsNotFoundError(err):
			lastScrape = pterm.Red("unknown company")
		case err != nil:
			return err
		default:
			if company.LastSuccessfulScrape != nil {
				lastScrape = company.LastSuccessfulScrape.Local().Format(time.DateTime)
			} else {
				lastScrape = "never"
			}
			if p.IsTracking {
				due = dueIn(company.LastScrapeOrEpoch().Add(schedule.CooldownFor(p.Rank)), now)
			}
		}

		data = append(data, []string{
			p.UserID,
			p.CompanyID,
			fmt.Sprint(p.Rank),
			fmt.Sprint(p.IsTracking),
			fmt.Sprintf("%dh", schedule.CooldownHours(p.Rank)),
			lastScrape,
			due,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func dueIn(at, now time.Time) string {
	if !at.After(now) {
		return pterm.Green("now")
	}
	return "in " + at.Sub(now).Round(time.Minute).String()
}
