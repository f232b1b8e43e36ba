package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reelfactory/internal/config"
	"github.com/lucasnoah/reelfactory/internal/db"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// loadConfig reads --config, or the default config locations.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg, _, err := config.LoadDefault()
	return cfg, err
}

// newLogger builds the structured logger from --log-level and --log-format.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch logFormat {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q (want text or json)", logFormat)
}

func openDB(cfg *config.Config) (*db.DB, func(), error) {
	d, err := db.Open(cfg.EventsDSN())
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

func openStore(cfg *config.Config) *pipeline.Store {
	return pipeline.NewStore(cfg.SessionsDir)
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// outputFormat reads and checks the command's --format flag.
func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return "", fmt.Errorf("invalid --format %q (want text or json)", format)
	}
	return format, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// redactDSN hides a Postgres password for display.
func redactDSN(dsn string) string {
	if db.DialectFor(dsn) != db.Postgres {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres"
	}
	return u.Redacted()
}
