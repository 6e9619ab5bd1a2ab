package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Bootstrap and show store sizes and backend timings",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsJSON {
		noProgress = true
	}
	if err := ensureBootstrapped(cmd); err != nil {
		return err
	}
	st := rt.Engine.Stats()
	snap := rt.Collector.Snapshot()

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"engine": st, "backend": snap})
	}

	t := defaultTheme
	fmt.Println(t.statusStyle().Render("Engine"))
	fmt.Printf("  State:       %s\n", st.State)
	fmt.Printf("  Cells:       %d\n", st.ProgressKeys)
	fmt.Printf("  Indexed:     %d\n", st.IndexKeys)
	fmt.Printf("  Catalog:     %d processes, %d statuses\n", st.CatalogProcesses, st.CatalogStatuses)

	fmt.Println(t.statusStyle().Render("Backend calls"))
	for _, op := range slices.Sorted(maps.Keys(snap.Operations)) {
		o := snap.Operations[op]
		line := fmt.Sprintf("  %-16s %4d calls  avg %6.1fms  max %5dms", op, o.Count, o.AvgTimeMs, o.MaxTimeMs)
		if o.Errors > 0 {
			line += " " + t.errorStyle().Render(fmt.Sprintf("%d failed", o.Errors))
		}
		fmt.Println(line)
	}
	return nil
}
