package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/rackpatch/internal/reconcile"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) badgeStyle() lipgloss.Style {
	return lipgloss.NewStyle().Background(t.ProgressBg).Padding(0, 1)
}

// phaseMsg carries a progress report from the bootstrapping goroutine.
type phaseMsg reconcile.BootstrapProgress

// bootstrapDoneMsg ends the progress display.
type bootstrapDoneMsg struct {
	summary reconcile.BootstrapSummary
	err     error
}

// bootstrapModel is the bubbletea model for bootstrap progress.
type bootstrapModel struct {
	phase    reconcile.BootstrapProgress
	summary  reconcile.BootstrapSummary
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	quiet    bool // no summary on success
	err      error
}

func newBootstrapModel() bootstrapModel {
	return bootstrapModel{
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

func (m bootstrapModel) Init() tea.Cmd {
	return m.progress.Init()
}

func (m bootstrapModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case phaseMsg:
		m.phase = reconcile.BootstrapProgress(msg)
		return m, nil

	case bootstrapDoneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m bootstrapModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m bootstrapModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.phase.Phase == "" {
		return m.theme.statusStyle().Render("Connecting to backend...") + "\n"
	}

	var pct float64
	if m.phase.Total > 0 {
		pct = float64(m.phase.Done) / float64(m.phase.Total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.phase.Phase))
	counts := fmt.Sprintf("%d/%d %s", m.phase.Done, m.phase.Total, phaseUnit(m.phase.Phase))
	hint := m.theme.hintStyle().Render("Press q to abort")

	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

func (m bootstrapModel) finalView() string {
	switch {
	case m.quitting:
		return m.theme.hintStyle().Render("Bootstrap aborted.") + "\n"
	case m.err != nil:
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ Bootstrap failed: %s", m.err)) + "\n"
	case m.quiet:
		return ""
	default:
		return renderSummary(m.theme, m.summary)
	}
}

func phaseUnit(phase string) string {
	switch phase {
	case reconcile.PhaseCatalog:
		return "processes"
	case reconcile.PhaseFetch:
		return "listings"
	default:
		return "rows"
	}
}

// renderSummary formats a completed bootstrap.
func renderSummary(t Theme, s reconcile.BootstrapSummary) string {
	var b strings.Builder
	b.WriteString(t.completedStyle().Render("✓ Bootstrapped"))
	b.WriteString(" " + t.badgeStyle().Render(s.Source) + "\n")
	fmt.Fprintf(&b, "  Rows:     %d (%d applied, %d skipped)\n", s.Rows, s.Applied, s.Skipped)
	fmt.Fprintf(&b, "  Cells:    %d\n", s.Keys)
	fmt.Fprintf(&b, "  Runs:     %d\n", s.Runs)
	if s.CatalogLoaded {
		fmt.Fprintf(&b, "  Catalog:  %d processes, %d statuses\n", s.CatalogProcesses, s.CatalogStatuses)
	} else {
		b.WriteString(t.errorStyle().Render("  Catalog:  unavailable") + "\n")
	}
	b.WriteString(t.hintStyle().Render(fmt.Sprintf("  took %s", s.Duration.Round(time.Millisecond))) + "\n")
	return b.String()
}

// interactive reports whether the bootstrap progress bar should be drawn.
func interactive() bool {
	return !noProgress && term.IsTerminal(int(os.Stdout.Fd()))
}

// runBootstrap bootstraps the engine, drawing a progress bar on terminals.
// Aborting the display cancels the bootstrap.
func runBootstrap(ctx context.Context, e *reconcile.Engine, show bool) (reconcile.BootstrapSummary, error) {
	if !interactive() {
		summary, err := e.Bootstrap(ctx, reconcile.WithProgress(func(p reconcile.BootstrapProgress) {
			logger.Debug("bootstrap progress", "phase", p.Phase, "done", p.Done, "total", p.Total)
		}))
		if err == nil && show {
			fmt.Print(renderSummary(defaultTheme, summary))
		}
		return summary, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newBootstrapModel()
	model.quiet = !show
	p := tea.NewProgram(model)

	go func() {
		summary, err := e.Bootstrap(ctx, reconcile.WithProgress(func(bp reconcile.BootstrapProgress) {
			p.Send(phaseMsg(bp))
		}))
		p.Send(bootstrapDoneMsg{summary: summary, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return reconcile.BootstrapSummary{}, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(bootstrapModel)
	if !ok {
		return reconcile.BootstrapSummary{}, fmt.Errorf("progress UI returned %T", finalModel)
	}
	if m.quitting {
		return reconcile.BootstrapSummary{}, context.Canceled
	}
	return m.summary, m.err
}

// ensureBootstrapped loads the matrix before a command reads or writes it.
func ensureBootstrapped(cmd *cobra.Command) error {
	if rt.Engine.State() == reconcile.StateReady {
		return nil
	}
	if _, err := runBootstrap(cmd.Context(), rt.Engine, false); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}
