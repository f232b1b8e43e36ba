package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reelfactory/internal/extract"
	"github.com/lucasnoah/reelfactory/internal/schema"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract a record from raw model output",
	Long: `Runs the structured response extractor over a saved model response (a
file, or stdin when no file or "-" is given) and prints the record with
the strategy that produced it. Useful for replaying raw/<stage>/<item>.txt
files from a session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		schemaName, _ := cmd.Flags().GetString("schema")
		itemID, _ := cmd.Flags().GetString("item")

		var raw []byte
		if len(args) == 0 || args[0] == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		registry, err := schema.Builtin()
		if err != nil {
			return err
		}
		if _, ok := registry.Get(schemaName); !ok {
			return fmt.Errorf("unknown schema %q (have %s)", schemaName, strings.Join(registry.Names(), ", "))
		}
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		res := extract.New(registry, logger).Extract(string(raw), schemaName, extract.Options{ItemID: itemID})

		if format == "json" {
			return writeJSON(cmd, struct {
				Strategy string        `json:"strategy"`
				Degraded bool          `json:"degraded"`
				Attempts int           `json:"attempts"`
				Repairs  []string      `json:"repairs,omitempty"`
				Reason   string        `json:"reason,omitempty"`
				Record   schema.Record `json:"record"`
			}{string(res.Strategy), res.Degraded, res.Attempts, res.Repairs, res.Reason(), res.Record})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Strategy: %s (%d attempt(s))\n", res.Strategy, res.Attempts)
		if len(res.Repairs) > 0 {
			fmt.Fprintf(w, "Repairs:  %s\n", strings.Join(res.Repairs, ", "))
		}
		if res.Degraded {
			fmt.Fprintf(w, "Degraded: %s\n", res.Reason())
		}
		return writeJSON(cmd, res.Record)
	},
}

func init() {
	extractCmd.Flags().StringP("schema", "s", schema.ScenePackageName, "schema to extract")
	extractCmd.Flags().String("item", "", "item id pinned into the record's identity field")
	extractCmd.Flags().String("format", "text", "Output format: text or json")
}
