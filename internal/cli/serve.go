package cli

import (
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/rackpatch/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API and change feed",
	Long: `Bootstrap in the background and serve the JSON API, the websocket change
feed and prometheus metrics until interrupted.

Examples:
  rackpatch serve
  rackpatch serve --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default RACKPATCH_SERVER_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	port := cfg.ServerPort
	if servePort > 0 {
		port = servePort
	}
	return server.Serve(cmd.Context(), rt.Engine, server.Options{
		Port:      port,
		Collector: rt.Collector,
		Options:   rt.Options,
	}, logger)
}
