package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/reconcile"
)

var (
	setNote             string
	setResponsible      string
	setClearNote        bool
	setClearResponsible bool
)

var getCmd = &cobra.Command{
	Use:   "get <site-unit> <rack> <process>",
	Short: "Show the status of one cell",
	Long: `Show the reconciled status of a rack for one process.

Examples:
  rackpatch get 12 LAC-SU12 roce
  rackpatch get "SU 5" LAW "GPU AEC"`,
	Args: cobra.ExactArgs(3),
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set <site-unit> <rack> <process> <code>",
	Short: "Write a new status code for one cell",
	Long: `Write a status code to the patching backend and show the value it
confirmed. On failure the previous value is kept and the failing stage is
reported.

Examples:
  rackpatch set 12 LAC-SU12 roce 5
  rackpatch set 5 LAW roce 6 --note "cable short" --responsible alice
  rackpatch set 5 LAW roce 7 --clear-note`,
	Args: cobra.ExactArgs(4),
	RunE: runSet,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <site-unit> <rack> <process>",
	Short: "Find the backend run behind a cell",
	Long: `Resolve the backend run a write to this cell would update, and which
lookup strategy found it.

Examples:
  rackpatch resolve 7 GPU-SU7 "GPU AEC"`,
	Args: cobra.ExactArgs(3),
	RunE: runResolve,
}

func init() {
	setCmd.Flags().StringVarP(&setNote, "note", "n", "", "note stored with the status")
	setCmd.Flags().StringVarP(&setResponsible, "responsible", "r", "", "person responsible for the cell")
	setCmd.Flags().BoolVar(&setClearNote, "clear-note", false, "remove the stored note")
	setCmd.Flags().BoolVar(&setClearResponsible, "clear-responsible", false, "remove the stored responsible person")
	setCmd.MarkFlagsMutuallyExclusive("note", "clear-note")
	setCmd.MarkFlagsMutuallyExclusive("responsible", "clear-responsible")
}

func runGet(cmd *cobra.Command, args []string) error {
	if err := ensureBootstrapped(cmd); err != nil {
		return err
	}
	unit, rack, process := args[0], args[1], args[2]
	e := rt.Engine
	t := defaultTheme

	key := models.NewKey(unit, rack, process)
	code, known := e.Lookup(unit, rack, process)
	if !known {
		code = e.GetCode(unit, rack, process)
	}

	fmt.Println(t.statusStyle().Render(key.String()))
	fmt.Printf("  Status:  %d %s\n", code, e.Label(unit, rack, process))
	if !known {
		fmt.Println(t.hintStyle().Render("  no run reported for this cell"))
	}
	if note, err := e.Note(cmd.Context(), unit, rack, process); err != nil {
		logger.Warn("note unavailable", "error", err)
	} else if note != "" {
		fmt.Printf("  Note:    %s\n", note)
	}
	if who, err := e.Responsible(cmd.Context(), unit, rack, process); err != nil {
		logger.Warn("responsible unavailable", "error", err)
	} else if who != "" {
		fmt.Printf("  Owner:   %s\n", who)
	}
	if verbose {
		if _, ok := e.Registry().Template(process); !ok {
			fmt.Println(t.hintStyle().Render("  process has no template; cell is read-only"))
		}
	}
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	code, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid code %q", args[3])
	}
	if err := ensureBootstrapped(cmd); err != nil {
		return err
	}

	change := reconcile.Change{
		SiteUnit:         args[0],
		RackID:           args[1],
		Process:          args[2],
		Code:             code,
		Note:             setNote,
		Responsible:      setResponsible,
		ClearNote:        setClearNote,
		ClearResponsible: setClearResponsible,
	}
	t := defaultTheme

	res, err := rt.Engine.ApplyStatusChange(cmd.Context(), change)
	if err != nil {
		var we *reconcile.WriteError
		if errors.As(err, &we) {
			fmt.Println(t.errorStyle().Render(fmt.Sprintf("✗ Write failed at %s", we.Stage)))
			if we.Retryable() {
				fmt.Println(t.hintStyle().Render("  the backend was unreachable; retrying may succeed"))
			}
		}
		fmt.Printf("  Kept:    %d %s\n",
			rt.Engine.GetCode(change.SiteUnit, change.RackID, change.Process),
			rt.Engine.Label(change.SiteUnit, change.RackID, change.Process))
		return err
	}

	fmt.Printf("%s %s\n", t.completedStyle().Render("✓ Saved"), t.statusStyle().Render(res.Key.String()))
	fmt.Printf("  Status:  %d %s\n", res.Code, res.Label)
	if res.Code != code {
		fmt.Println(t.hintStyle().Render(fmt.Sprintf("  backend confirmed %d instead of %d", res.Code, code)))
	}
	fmt.Printf("  Run:     %d (%s)\n", res.Run.RunID, res.Strategy)
	if verbose {
		fmt.Printf("  Status id: %d\n", res.StatusID)
	}
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := ensureBootstrapped(cmd); err != nil {
		return err
	}
	t := defaultTheme

	run, strategy, err := rt.Engine.ResolveRunIdentity(cmd.Context(), args[0], args[1], args[2])
	if errors.Is(err, reconcile.ErrIdentityUnresolved) {
		fmt.Println(t.errorStyle().Render("✗ No run found"))
		fmt.Println(t.hintStyle().Render("  a write would create the run via upsert"))
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println(t.statusStyle().Render(models.NewKey(args[0], args[1], args[2]).String()))
	fmt.Printf("  Run:       %d\n", run.RunID)
	fmt.Printf("  Found by:  %s\n", strategy)
	if run.ProcessID > 0 {
		fmt.Printf("  Process:   %d\n", run.ProcessID)
	}
	if run.RackName != "" {
		fmt.Printf("  Rack name: %s\n", run.RackName)
	}
	return nil
}
