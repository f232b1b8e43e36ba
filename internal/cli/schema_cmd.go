package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reelfactory/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the built-in record schemas",
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := schema.Builtin()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tID FIELD\tFIELDS")
		for _, name := range registry.Names() {
			s, _ := registry.Get(name)
			id := s.IDField
			if id == "" {
				id = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.Name, s.Version, id, len(s.Root.Fields))
		}
		return w.Flush()
	},
}

var schemaShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a schema as a JSON Schema document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := schema.Builtin()
		if err != nil {
			return err
		}
		s, ok := registry.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown schema %q", args[0])
		}
		return writeJSON(cmd, s.Document())
	},
}

func init() {
	schemaCmd.AddCommand(schemaListCmd)
	schemaCmd.AddCommand(schemaShowCmd)
}
