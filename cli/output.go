package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alpkeskin/gotoon"
	"github.com/charmbracelet/lipgloss"

	"github.com/Kartavya904/brainsync/status"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// encodeOutput serializes data for machine-readable output formats.
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "json":
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode JSON: %w", err)
		}
		return string(out), nil
	case "toon":
		out, err := gotoon.Encode(data)
		if err != nil {
			return "", fmt.Errorf("failed to encode TOON: %w", err)
		}
		return out, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", format)
	}
}

// statusRow is the JSON/TOON shape of one repository status line.
type statusRow struct {
	ID       int64  `json:"github_id"`
	Repo     string `json:"repo"`
	Total    int    `json:"total"`
	Indexed  int    `json:"indexed"`
	Progress string `json:"progress"`
	Pending  bool   `json:"pending,omitempty"`
}

func entryRow(entry status.Entry) statusRow {
	row := statusRow{ID: entry.Repo.ID, Repo: entry.Repo.FullName()}
	if entry.Counters == nil {
		row.Pending = true
		row.Progress = "-"
		return row
	}
	row.Total = entry.Counters.Total
	row.Indexed = entry.Counters.Indexed
	row.Progress = progressLabel(*entry.Counters)
	if !entry.TotalKnown {
		row.Pending = true
	}
	return row
}

func progressLabel(c status.Counters) string {
	if c.Total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%d%%", c.Indexed*100/c.Total)
}

// renderStatusTable prints repository status lines for humans.
func renderStatusTable(entries []status.Entry) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%-36s %8s %8s %9s", "REPOSITORY", "INDEXED", "TOTAL", "PROGRESS")))
	sb.WriteString("\n")
	for _, entry := range entries {
		name := entry.Repo.FullName()
		if entry.Counters == nil {
			sb.WriteString(fmt.Sprintf("%-36s %s\n", name, dimStyle.Render("loading...")))
			continue
		}
		c := *entry.Counters
		label := progressLabel(c)
		if c.Indexed == c.Total && c.Total > 0 {
			label = okStyle.Render(label)
		} else {
			label = warnStyle.Render(label)
		}
		sb.WriteString(fmt.Sprintf("%-36s %8d %8d %9s\n", name, c.Indexed, c.Total, label))
	}
	return sb.String()
}

// renderFileList prints per-file states for one repository.
func renderFileList(files []status.FileStatus) string {
	var sb strings.Builder
	for _, f := range files {
		mark := errStyle.Render("✗")
		if f.State == status.StateIndexed {
			mark = okStyle.Render("✓")
		}
		sb.WriteString(fmt.Sprintf("  %s %s\n", mark, f.Path))
	}
	return sb.String()
}
