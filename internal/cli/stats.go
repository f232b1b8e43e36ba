package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reelfactory/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query run analytics from the event log",
}

var statsStagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Success, degradation and failure rates and durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, since, err := statsFlags(cmd)
		if err != nil {
			return err
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

		stats, err := analytics.QueryStageStats(d, since)
		if err != nil {
			return err
		}
		if format == "json" {
			if stats == nil {
				stats = []analytics.StageStats{}
			}
			return writeJSON(cmd, stats)
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stage runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tRUNS\tSUCCESS\tPARTIAL\tFAILED\tITEMS\tOK%\tDEGRADED%\tFAILED%\tAVG\tP50\tP95")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%.1f\t%.1f\t%.1f\t%.1fs\t%.1fs\t%.1fs\n",
				s.Stage, s.Runs, s.Success, s.Partial, s.Failed, s.Items,
				s.SucceededPc, s.DegradedPc, s.FailedPc, s.AvgSeconds, s.P50Seconds, s.P95Seconds)
		}
		return w.Flush()
	},
}

var statsFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Failed items grouped by error kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, since, err := statsFlags(cmd)
		if err != nil {
			return err
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

		kinds, err := analytics.QueryFailureKinds(d, since)
		if err != nil {
			return err
		}
		if format == "json" {
			if kinds == nil {
				kinds = []analytics.KindCount{}
			}
			return writeJSON(cmd, kinds)
		}
		if len(kinds) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No failed items recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tCOUNT\tPCT")
		for _, k := range kinds {
			fmt.Fprintf(w, "%s\t%d\t%.1f\n", k.Kind, k.Count, k.Pct)
		}
		return w.Flush()
	},
}

var statsTimelineCmd = &cobra.Command{
	Use:   "timeline <session>",
	Short: "Run events and non-clean items of one session in order",
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
		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		events, err := analytics.QuerySessionTimeline(d, args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			if events == nil {
				events = []analytics.TimelineEvent{}
			}
			return writeJSON(cmd, events)
		}
		if len(events) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No events recorded for %s.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tSTAGE\tEVENT\tDETAIL")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.Type, e.Stage, e.Event, truncate(e.Detail, 60))
		}
		return w.Flush()
	},
}

func statsFlags(cmd *cobra.Command) (string, string, error) {
	format, err := outputFormat(cmd)
	if err != nil {
		return "", "", err
	}
	raw, _ := cmd.Flags().GetString("since")
	since, err := analytics.ParseSince(raw, time.Now())
	if err != nil {
		return "", "", err
	}
	return format, since, nil
}

func init() {
	for _, c := range []*cobra.Command{statsStagesCmd, statsFailuresCmd} {
		c.Flags().String("since", "", "only runs recorded since (e.g. 24h, 7d, 2026-01-02T15:04:05Z)")
		c.Flags().String("format", "text", "Output format: text or json")
	}
	statsTimelineCmd.Flags().String("format", "text", "Output format: text or json")

	statsCmd.AddCommand(statsStagesCmd)
	statsCmd.AddCommand(statsFailuresCmd)
	statsCmd.AddCommand(statsTimelineCmd)
}
