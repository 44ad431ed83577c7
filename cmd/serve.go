// =============================================================================
// Fee Ledger - Serve Command
// =============================================================================
//
// This file defines the 'serve' command, which exposes reconciliation as a
// read-only JSON API.
//
// COMMAND USAGE:
//   feeledger serve [--addr :8080]
//
// =============================================================================

package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/feeledger/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only reconciliation API",
	Long: `The serve command starts an HTTP server answering reconciliation queries
under /api. Nothing is written to the store. Stop it with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		engine, err := a.engine()
		if err != nil {
			return err
		}

		if !verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		addr := a.cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		router := api.NewRouter(api.NewHandler(engine, a.log), a.log)
		return api.Serve(ctx, addr, router, a.log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}
