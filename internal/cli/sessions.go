package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reelfactory/internal/db"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		statusFilter, _ := cmd.Flags().GetString("status")

		reports, err := openStore(cfg).List(pipeline.RunStatus(statusFilter))
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if format == "json" {
			if reports == nil {
				reports = []pipeline.BuildReport{}
			}
			return writeJSON(cmd, reports)
		}
		if len(reports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tSTATUS\tSTAGES\tDEGRADED\tSTARTED\tTOPIC")
		for _, r := range reports {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
				r.SessionID, r.Status, len(r.Stages), len(pipeline.StageNames), r.Degraded(),
				r.StartedAt.Local().Format("2006-01-02 15:04"), truncate(r.Topic, 40))
		}
		return w.Flush()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session and its media",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := openStore(cfg).Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <session>",
	Short: "Show the state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report, err := openStore(cfg).GetReport(args[0])
		if err != nil {
			return err
		}

		var last *db.RunEvent
		if !cfg.EventsDB.Disabled {
			if d, cleanup, err := openDB(cfg); err == nil {
				defer cleanup()
				last, _ = d.LatestRunEvent(report.SessionID)
			}
		}

		if format == "json" {
			return writeJSON(cmd, struct {
				Report    *pipeline.BuildReport `json:"report"`
				LastEvent *db.RunEvent          `json:"last_event,omitempty"`
			}{report, last})
		}
		printReport(cmd.OutOrStdout(), report)
		if last != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  Last event: %s %s at %s\n", last.Event, last.Stage, last.Timestamp)
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <session>",
	Short: "Print a session's build_report.json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := openStore(cfg)
		stageName, _ := cmd.Flags().GetString("stage")
		if stageName != "" {
			data, err := store.StageOutputRaw(args[0], stageName)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("session %s has no %s output", args[0], stageName)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		report, err := store.GetReport(args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd, report)
	},
}

func init() {
	sessionsCmd.Flags().String("status", "", "Filter by status (running, completed, failed, cancelled)")
	sessionsCmd.Flags().String("format", "text", "Output format: text or json")
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	statusCmd.Flags().String("format", "text", "Output format: text or json")
	reportCmd.Flags().String("stage", "", "print this stage's output instead of the report")
}
