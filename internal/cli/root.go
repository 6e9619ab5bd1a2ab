// Package cli provides the command-line interface for rackpatch.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/rackpatch/internal/app"
	"github.com/raphaelgruber/rackpatch/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	apiURL     string
	noProgress bool

	// Global config and engine
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	rt       *app.App
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rackpatch",
	Short: "Rack patching progress from the terminal",
	Long: `Rackpatch reads and edits the rack patching progress matrix.

Every command loads the full run listing from the patching backend,
reconciles it against the rack topology and status templates, and then
answers from the reconciled view. Edits are written back to the backend
and the confirmed value is shown.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip engine setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if apiURL != "" {
			cfg.APIBaseURL = apiURL
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		var err error
		rt, err = app.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt != nil {
			if err := rt.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close side store: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "patching backend base URL (overrides RACKPATCH_API_BASE_URL)")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable the interactive bootstrap progress bar")

	// Add subcommands
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(racksCmd)
	rootCmd.AddCommand(unitStatusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
}
