package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/reelfactory/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, validate and inspect reelfactory.yaml",
}

type validationJSON struct {
	Source string            `json:"source"`
	Valid  bool              `json:"valid"`
	Errors []validationEntry `json:"errors"`
}

type validationEntry struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration against the allowed providers, ranges and stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, source, err := resolveConfig()
		if err != nil {
			return err
		}
		errs := config.Validate(cfg)

		if format == "json" {
			out := validationJSON{Source: source, Valid: len(errs) == 0, Errors: []validationEntry{}}
			for _, e := range errs {
				out.Errors = append(out.Errors, validationEntry{Field: e.Field, Message: e.Message})
			}
			if err := writeJSON(cmd, out); err != nil {
				return err
			}
		} else if len(errs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
			fmt.Fprintf(cmd.OutOrStdout(), "  source: %s\n", source)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Validation errors in %s:\n", source)
			for _, e := range errs {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", e)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, source, err := resolveConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", source, data)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a reelfactory.yaml holding every default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		data, err := yaml.Marshal(config.Default())
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

// resolveConfig loads the config and names where it came from.
func resolveConfig() (*config.Config, string, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		return cfg, configPath, err
	}
	cfg, path, err := config.LoadDefault()
	if path == "" {
		path = "built-in defaults"
	}
	return cfg, path, err
}

func init() {
	configValidateCmd.Flags().String("format", "text", "Output format: text or json")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
