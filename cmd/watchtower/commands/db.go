package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/sym"
)

// DbCmd groups database maintenance
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Database maintenance",
	Long: sym.DB + ` db - Database maintenance

The database is selected by database.driver in am.toml: sqlite3 (default,
database.path) or pgx (database.dsn). Every command migrates on open; migrate
exists to do only that, e.g. from a deploy step.

Examples:
  watchtower db migrate`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStores()
		if err != nil {
			return err
		}
		defer s.Close()

		target := s.cfg.GetDatabasePath()
		if s.cfg.GetDriver() != am.DriverSQLite {
			target = s.dialect.String()
		}
		pterm.Success.Printfln("%s Schema up to date (%s)", sym.DB, target)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
}
