package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

var racksProcess string

var templatesCmd = &cobra.Command{
	Use:   "templates [process]",
	Short: "List status templates",
	Long: `List the status templates bound to each process, or the codes of one
process's template.

Examples:
  rackpatch templates
  rackpatch templates roce`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTemplates,
}

var racksCmd = &cobra.Command{
	Use:   "racks <site-unit>",
	Short: "List the racks of a site-unit",
	Long: `List the racks the topology defines for a site-unit. With --process the
current status of every eligible rack is shown.

Examples:
  rackpatch racks 12
  rackpatch racks 12 --process roce`,
	Args: cobra.ExactArgs(1),
	RunE: runRacks,
}

var unitStatusCmd = &cobra.Command{
	Use:   "unit-status <site-unit> <process>",
	Short: "Show the aggregate status of a site-unit",
	Long: `Show the most advanced status among a unit's eligible racks for a
process. A blocked rack blocks the whole unit.

Examples:
  rackpatch unit-status 12 roce`,
	Args: cobra.ExactArgs(2),
	RunE: runUnitStatus,
}

func init() {
	racksCmd.Flags().StringVarP(&racksProcess, "process", "p", "", "show statuses for this process")
}

func runTemplates(cmd *cobra.Command, args []string) error {
	reg := rt.Engine.Registry()
	t := defaultTheme

	if len(args) == 1 {
		tmpl, ok := reg.Template(args[0])
		if !ok {
			return fmt.Errorf("no template for process %q", args[0])
		}
		fmt.Printf("%s %s\n", t.statusStyle().Render(models.Norm(args[0])), t.hintStyle().Render(tmpl.Name()))
		for _, e := range tmpl.Entries() {
			marker := "  "
			switch {
			case tmpl.IsBlocked(e.Code):
				marker = t.errorStyle().Render("! ")
			case e.Code == tmpl.CompletionCode():
				marker = t.completedStyle().Render("✓ ")
			}
			fmt.Printf("  %s%2d  %s\n", marker, e.Code, e.Label)
		}
		return nil
	}

	for _, p := range reg.Processes() {
		tmpl, ok := reg.Template(p)
		if !ok {
			continue
		}
		fmt.Printf("%-20s %s", p, tmpl.Name())
		if verbose {
			fmt.Printf("  (%d codes, done at %d)", len(tmpl.Codes()), tmpl.CompletionCode())
		}
		fmt.Println()
	}
	return nil
}

func runRacks(cmd *cobra.Command, args []string) error {
	unit := models.CanonicalSiteUnit(args[0])
	racks, ok := rt.Engine.Topology().Racks(unit)
	if !ok {
		return fmt.Errorf("unknown site-unit %q", args[0])
	}
	if racksProcess != "" {
		if err := ensureBootstrapped(cmd); err != nil {
			return err
		}
	}
	t := defaultTheme

	fmt.Println(t.statusStyle().Render("SU" + unit))
	for _, r := range racks {
		line := fmt.Sprintf("  %-12s %-8s", r.ID, r.Type)
		if verbose && len(r.Aliases) > 0 {
			line += " " + t.hintStyle().Render(strings.Join(r.Aliases, ","))
		}
		if racksProcess != "" {
			if r.Eligible(racksProcess) {
				line += fmt.Sprintf("  %2d %s",
					rt.Engine.GetCode(unit, r.ID, racksProcess),
					rt.Engine.Label(unit, r.ID, racksProcess))
			} else {
				line += t.hintStyle().Render("  n/a")
			}
		}
		fmt.Println(line)
	}
	return nil
}

func runUnitStatus(cmd *cobra.Command, args []string) error {
	if err := ensureBootstrapped(cmd); err != nil {
		return err
	}
	t := defaultTheme

	code, ok := rt.Engine.UnitStatus(args[0], args[1])
	if !ok {
		fmt.Println(t.hintStyle().Render("no eligible racks"))
		return nil
	}
	label := ""
	if tmpl, found := rt.Engine.Registry().Template(args[1]); found {
		label, _ = tmpl.Label(code)
	}

	style := t.statusStyle()
	switch {
	case rt.Engine.Registry().IsBlockedCode(args[1], code):
		style = t.errorStyle()
	default:
		if done, found := rt.Engine.Registry().CompletionCode(args[1]); found && code >= done {
			style = t.completedStyle()
		}
	}
	fmt.Printf("SU%s %s: %s\n", models.CanonicalSiteUnit(args[0]), models.Norm(args[1]),
		style.Render(fmt.Sprintf("%d %s", code, label)))
	return nil
}
