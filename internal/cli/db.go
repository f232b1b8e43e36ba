package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reelfactory/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Event log database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dsn := cfg.EventsDSN()
		_, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Fprintf(cmd.OutOrStdout(), "Event log migrated (%s, %s)\n", db.DialectFor(dsn), redactDSN(dsn))
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the event log (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("db reset deletes every recorded run event; pass --yes to confirm")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Event log reset.")
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
