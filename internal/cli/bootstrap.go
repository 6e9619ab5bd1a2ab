package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var bootstrapJSON bool

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Load and reconcile the full run listing",
	Long: `Load the status catalog and every run from the patching backend and
report what was reconciled.

Falls back to the rack/process status view when the primary listing fails.

Examples:
  rackpatch bootstrap
  rackpatch bootstrap --json`,
	Args: cobra.NoArgs,
	RunE: runBootstrapCmd,
}

func init() {
	bootstrapCmd.Flags().BoolVar(&bootstrapJSON, "json", false, "print the summary as JSON")
}

func runBootstrapCmd(cmd *cobra.Command, args []string) error {
	if bootstrapJSON {
		noProgress = true
	}
	summary, err := runBootstrap(cmd.Context(), rt.Engine, !bootstrapJSON)
	if err != nil {
		return err
	}
	if bootstrapJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return nil
}
