package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"plugsync/internal/plugman"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

const pollInterval = 100 * time.Millisecond

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// monitorModel polls the manager's operation snapshot and renders it.
// The manager stays the single writer; this model only reads copies.
type monitorModel struct {
	manager *plugman.Manager
	bar     progress.Model
	state   plugman.OpState
}

func newMonitorModel(m *plugman.Manager) monitorModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return monitorModel{
		manager: m,
		bar:     bar,
		state:   m.OpState(),
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tick()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.state = m.manager.OpState()
		if m.state.Complete {
			return m, tea.Quit
		}
		return m, tick()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// The workflow keeps running; we just stop watching it.
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m monitorModel) View() string {
	s := m.state

	var title string
	switch s.Kind {
	case plugman.OpInstalling:
		title = fmt.Sprintf("Installing %s", s.Target)
	case plugman.OpUninstalling:
		title = fmt.Sprintf("Uninstalling %s", s.Target)
	case plugman.OpRefreshing:
		title = "Refreshing inventory"
	default:
		if s.Complete && s.Success {
			return okStyle.Render("✔ "+s.Message) + "\n"
		}
		if s.Complete {
			return failStyle.Render("✘ "+s.Message) + "\n"
		}
		title = "Idle"
	}

	return fmt.Sprintf("%s\n%s %3.0f%%\n%s\n",
		titleStyle.Render(title),
		m.bar.ViewAs(s.Progress),
		s.Progress*100,
		messageStyle.Render(s.Message),
	)
}

// WatchOperation renders the in-flight operation until it completes and
// returns the final snapshot.
func WatchOperation(m *plugman.Manager) (plugman.OpState, error) {
	p := tea.NewProgram(newMonitorModel(m))
	if _, err := p.Run(); err != nil {
		return m.OpState(), err
	}
	return m.OpState(), nil
}
