package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Kartavya904/brainsync/brain"
	"github.com/Kartavya904/brainsync/status"
)

var (
	uiTitleStyle = lipgloss.NewStyle().Bold(true)
	uiBarStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	uiFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	uiPathStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type indexEventMsg brain.Event

type indexStreamEndedMsg struct{}

// indexUIModel renders a live progress view for one indexing run.
type indexUIModel struct {
	repoName string
	total    int
	indexed  int
	failed   int
	current  string
	started  bool
	finished bool
	events   <-chan brain.Event
}

func newIndexUIModel(repo status.Repository, entry status.Entry, events <-chan brain.Event) indexUIModel {
	m := indexUIModel{repoName: repo.FullName(), events: events}
	if entry.Counters != nil {
		m.total = entry.Counters.Total
		m.indexed = entry.Counters.Indexed
	}
	return m
}

func (m indexUIModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return indexStreamEndedMsg{}
		}
		return indexEventMsg(ev)
	}
}

func (m indexUIModel) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m indexUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case indexEventMsg:
		switch brain.Event(msg).Kind {
		case brain.EventStart:
			m.started = true
		case brain.EventFile:
			m.current = msg.Path
			if msg.OK {
				m.indexed++
				if m.indexed > m.total {
					m.total = m.indexed
				}
			} else {
				m.failed++
			}
		case brain.EventDone:
			m.finished = true
		}
		return m, m.waitForEvent()
	case indexStreamEndedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m indexUIModel) View() string {
	var sb strings.Builder
	sb.WriteString(uiTitleStyle.Render(fmt.Sprintf("Indexing %s", m.repoName)))
	sb.WriteString("\n\n")
	sb.WriteString(renderProgressBar(m.indexed, m.total, 40))
	sb.WriteString(fmt.Sprintf("  %d/%d", m.indexed, m.total))
	if m.failed > 0 {
		sb.WriteString(uiFailStyle.Render(fmt.Sprintf("  %d failed", m.failed)))
	}
	sb.WriteString("\n")
	switch {
	case m.finished:
		sb.WriteString("\nRun complete.\n")
	case m.current != "":
		sb.WriteString(uiPathStyle.Render(fmt.Sprintf("\n%s\n", m.current)))
	default:
		sb.WriteString("\nWaiting for the run to start...\n")
	}
	sb.WriteString(uiPathStyle.Render("\nq to detach (the run keeps going server-side)\n"))
	return sb.String()
}

func renderProgressBar(done, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := done * width / total
	if filled > width {
		filled = width
	}
	return uiBarStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", width-filled)
}

func runIndexUI(repo status.Repository, entry status.Entry, events <-chan brain.Event) error {
	p := tea.NewProgram(newIndexUIModel(repo, entry, events))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("progress UI failed: %w", err)
	}
	return nil
}
