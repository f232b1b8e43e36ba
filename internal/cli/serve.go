package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reelfactory/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only JSON API over sessions and the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		noEvents, _ := cmd.Flags().GetBool("no-events")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		var events web.EventLog
		if !noEvents {
			d, cleanup, err := openDB(cfg)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer cleanup()
			events = d
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "reelfactory API at http://%s/api/sessions\n", addr)
		return web.NewServer(openStore(cfg), events, logger).Start(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8420", "listen address")
	serveCmd.Flags().Bool("no-events", false, "serve sessions only, without the event log")
}
