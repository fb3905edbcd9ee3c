// Package dashboard renders a read-only view of a build run's DAGState
// using bubbletea and lipgloss, the teacher's terminal-UI stack.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/forgepilot/orchestrator/internal/model"
)

// refreshInterval is how often the dashboard polls the state provider.
const refreshInterval = 500 * time.Millisecond

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	levelStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	inFlightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	debtStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
)

// StateProvider returns the latest DAGState snapshot. The CLI's
// `build --watch` supplies a function that reloads the run's checkpoint on
// every call, so the dashboard never holds a stale copy across level
// transitions.
type StateProvider func() *model.DAGState

// Model is the bubbletea program model. It polls the provider on a tick
// rather than being pushed updates, so it never blocks the scheduler.
type Model struct {
	provider StateProvider
	state    *model.DAGState
	width    int
}

// New constructs a dashboard Model bound to provider.
func New(provider StateProvider) Model {
	return Model{provider: provider, width: 100}
}

type tickMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (Model) Init() tea.Cmd {
	return tickCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		m.state = m.provider()
		return m, tickCmd()
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	return Render(m.state)
}

// Render formats state as the dashboard body. Exported as a pure
// function so it can be exercised without driving the bubbletea event
// loop.
func Render(state *model.DAGState) string {
	if state == nil {
		return headerStyle.Render("waiting for build state...") + "\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("run %s  status=%s  level %d/%d", state.RunID, state.Status, state.CurrentLevel, len(state.Levels))))
	b.WriteString("\n\n")

	for idx, level := range state.Levels {
		marker := " "
		if idx == state.CurrentLevel {
			marker = ">"
		}
		b.WriteString(levelStyle.Render(fmt.Sprintf("%s level %d", marker, idx)))
		b.WriteString("\n")
		for _, name := range level {
			b.WriteString("  " + renderIssueLine(state, name) + "\n")
		}
	}

	if len(state.AccumulatedDebt) > 0 {
		b.WriteString("\n")
		b.WriteString(debtStyle.Render(fmt.Sprintf("accumulated debt: %d item(s)", len(state.AccumulatedDebt))))
		b.WriteString("\n")
	}

	return b.String()
}

func renderIssueLine(state *model.DAGState, name string) string {
	switch {
	case contains(state.Completed, name):
		return completedStyle.Render("[done] " + name)
	case contains(state.FailedUnrecoverable, name):
		return failedStyle.Render("[failed] " + name)
	case contains(state.FailedRecoverable, name):
		return failedStyle.Render("[recoverable-failure] " + name)
	case contains(state.Skipped, name):
		return pendingStyle.Render("[skipped] " + name)
	case contains(state.InFlight, name):
		return inFlightStyle.Render("[running] " + name)
	default:
		return pendingStyle.Render("[pending] " + name)
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Run starts the bubbletea program and blocks until the user quits.
func Run(provider StateProvider) error {
	p := tea.NewProgram(New(provider))
	_, err := p.Run()
	return err
}
