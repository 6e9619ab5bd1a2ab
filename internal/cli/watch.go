package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/rackpatch/internal/client"
	"github.com/raphaelgruber/rackpatch/internal/models"
)

var (
	watchServer  string
	watchUnit    string
	watchProcess string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live cell changes from a rackpatch server",
	Long: `Follow the change feed of a running rackpatch server. Optimistic edits,
confirmations and rollbacks are printed as they happen.

Examples:
  rackpatch watch
  rackpatch watch --su 12 --process roce
  rackpatch watch --server http://dashboard:8585`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "rackpatch server URL (default http://localhost:<RACKPATCH_SERVER_PORT>)")
	watchCmd.Flags().StringVar(&watchUnit, "su", "", "only show this site-unit")
	watchCmd.Flags().StringVarP(&watchProcess, "process", "p", "", "only show this process")
}

func runWatch(cmd *cobra.Command, args []string) error {
	server := watchServer
	if server == "" {
		server = fmt.Sprintf("http://localhost:%d", cfg.ServerPort)
	}
	t := defaultTheme
	fmt.Println(t.hintStyle().Render("watching " + server + " (ctrl+c to stop)"))

	err := client.Watch(cmd.Context(), server, client.WatchOptions{SiteUnit: watchUnit, Process: watchProcess},
		func(ev models.Event) error {
			fmt.Println(formatEvent(t, ev))
			return nil
		})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func formatEvent(t Theme, ev models.Event) string {
	ts := t.hintStyle().Render(ev.Time.Format("15:04:05"))
	switch ev.Type {
	case models.EventBootstrap:
		return fmt.Sprintf("%s %s", ts, t.statusStyle().Render("matrix reloaded"))
	case models.EventRollback:
		return fmt.Sprintf("%s %s %s -> %d %s (%s)", ts, t.errorStyle().Render("rollback "),
			ev.Key, ev.Code, ev.Label, ev.Error)
	case models.EventConfirmed:
		return fmt.Sprintf("%s %s %s -> %d %s", ts, t.completedStyle().Render("confirmed"),
			ev.Key, ev.Code, ev.Label)
	default:
		return fmt.Sprintf("%s %s %s -> %d %s", ts, t.statusStyle().Render(string(ev.Type)),
			ev.Key, ev.Code, ev.Label)
	}
}
