package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reelfactory/internal/prompt"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage prompt templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in prompt templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range prompt.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var templatesInstallCmd = &cobra.Command{
	Use:   "install [dir]",
	Short: "Copy the built-in templates into a directory for editing",
	Long: `Writes every built-in template into dir (templates_dir from the config
when omitted). Existing files are left alone. Point templates_dir at the
directory to have runs use the edited copies.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dir string
		if len(args) == 1 {
			dir = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir = cfg.TemplatesDir
		}
		if dir == "" {
			return fmt.Errorf("no directory given and templates_dir is not set")
		}

		written, err := prompt.Install(dir)
		if err != nil {
			return err
		}
		if len(written) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "All templates already present in %s\n", dir)
			return nil
		}
		for _, name := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
		}
		return nil
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesInstallCmd)
}
