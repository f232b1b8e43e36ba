package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "reelfactory",
	Short: "Turn a topic into a narrated short video",
	Long: `reelfactory runs a topic through a fixed content pipeline:
script → scenes → images → voice → assembly.

Model output is parsed leniently; items that cannot be recovered are
replaced with schema-valid defaults and flagged as degraded, so a run
finishes with a video whenever the script and scenes stages produce
anything at all.

Sessions are stored under ~/.reelfactory/sessions (JSON per stage plus
media files); run events go to an SQLite or Postgres event log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Errors are returned, not printed; main
// reports them.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to reelfactory.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}
