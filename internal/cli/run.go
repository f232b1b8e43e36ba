package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/lucasnoah/reelfactory/internal/config"
	"github.com/lucasnoah/reelfactory/internal/extract"
	"github.com/lucasnoah/reelfactory/internal/orchestrator"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
	"github.com/lucasnoah/reelfactory/internal/schema"
	"github.com/lucasnoah/reelfactory/internal/stage"
)

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Generate a video for a topic",
	Long: `Runs every stage for the topic and writes the session to the sessions
directory. The build report is printed when the run ends, whether it
completed, failed or was interrupted.

--dry-run swaps in a scripted model, placeholder images, silent narration
and a timeline manifest instead of a video, so the whole pipeline can be
exercised offline.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := strings.Join(args, " ")
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		sessionID, _ := cmd.Flags().GetString("session")
		scenes, _ := cmd.Flags().GetInt("scenes")
		quiet, _ := cmd.Flags().GetBool("quiet")
		verbose, _ := cmd.Flags().GetBool("verbose")
		noEvents, _ := cmd.Flags().GetBool("no-events")

		if err := config.LoadEnv(); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", e)
			}
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}

		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		caps, err := buildCapabilities(cfg, capOpts{DryRun: dryRun, Topic: topic, Scenes: scenes}, logger)
		if err != nil {
			return err
		}

		registry, err := schema.Builtin()
		if err != nil {
			return fmt.Errorf("build schema registry: %w", err)
		}
		var limiter *rate.Limiter
		if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)
		}
		engine := stage.NewEngine(extract.New(registry, logger), limiter)

		orch := orchestrator.New(cfg, openStore(cfg), engine, registry, caps)
		orch.SetLogger(logger)
		if !quiet {
			orch.SetProgress(cmd.ErrOrStderr())
			if verbose {
				engine.SetProgress(cmd.ErrOrStderr())
			}
		}
		if !cfg.EventsDB.Disabled && !noEvents {
			d, cleanup, err := openDB(cfg)
			if err != nil {
				logger.Warn("event log unavailable, continuing without it", "error", err)
			} else {
				defer cleanup()
				orch.SetEventLog(d)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, runErr := orch.Run(ctx, orchestrator.RunOpts{Topic: topic, SessionID: sessionID})
		if report != nil {
			if format == "json" {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
		}
		return runErr
	},
}

// printReport writes a human-readable summary of a build report.
func printReport(w io.Writer, r *pipeline.BuildReport) {
	fmt.Fprintf(w, "Session %s: %s\n", r.SessionID, r.Topic)
	fmt.Fprintf(w, "  Status:   %s\n", r.Status)
	if r.CurrentStage != "" {
		fmt.Fprintf(w, "  Stage:    %s\n", r.CurrentStage)
	}
	fmt.Fprintf(w, "  Started:  %s\n", r.StartedAt.Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Elapsed:  %s\n", r.TotalTime().Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  Degraded: %d item(s)\n", r.Degraded())
	if r.FinalError != "" {
		fmt.Fprintf(w, "  Error:    %s\n", r.FinalError)
	}
	if len(r.Stages) == 0 {
		return
	}

	fmt.Fprintln(w, "  Stages:")
	for _, s := range r.Stages {
		c := s.ItemCounts
		fmt.Fprintf(w, "    %-9s %-8s %d/%d ok, %d degraded, %d failed (%s)\n",
			s.Name, s.Status, c.Succeeded, c.Total, c.Degraded, c.Failed,
			(time.Duration(s.TimeMs) * time.Millisecond).Round(time.Millisecond))
		for _, e := range s.Errors {
			fmt.Fprintf(w, "      item %s: %s: %s\n", e.ItemID, e.Kind, truncate(e.Error, 80))
		}
		if len(s.DegradedItems) > 0 {
			fmt.Fprintf(w, "      degraded: %s\n", strings.Join(s.DegradedItems, ", "))
		}
	}
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "run offline with scripted and placeholder capabilities")
	runCmd.Flags().String("session", "", "session id (generated when empty)")
	runCmd.Flags().Int("scenes", 0, "number of scenes the dry-run script has (default content.min_scenes)")
	runCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")
	runCmd.Flags().BoolP("verbose", "v", false, "print per-item progress")
	runCmd.Flags().Bool("no-events", false, "do not write to the event log")
	runCmd.Flags().String("format", "text", "Output format: text or json")
}
