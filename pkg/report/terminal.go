package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ternarybob/vloop/pkg/sdk"
)

// styles contains the lipgloss styles used for terminal output.
var styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Pending lipgloss.Style
	Box     lipgloss.Style
	ErrBox  lipgloss.Style
}{
	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")),

	Label: lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")),

	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Pass: lipgloss.NewStyle().
		Foreground(lipgloss.Color("114")),

	Fail: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("196")),

	Pending: lipgloss.NewStyle().
		Foreground(lipgloss.Color("220")),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1),

	ErrBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("196")).
		Padding(0, 1),
}

// RenderTerminal renders a report for a terminal of the given width.
func RenderTerminal(r *sdk.Report, width int) string {
	if r == nil {
		return styles.Muted.Render("no run")
	}
	if width <= 0 {
		width = 80
	}

	header := styles.Title.Render("vloop " + string(r.ChangeType))
	if r.Feature != "" {
		header += styles.Muted.Render(" · " + r.Feature)
	}
	status := statusStyle(r).Render(Status(r))
	header = lipgloss.JoinHorizontal(lipgloss.Top,
		header,
		strings.Repeat(" ", max(1, width-4-lipgloss.Width(header)-lipgloss.Width(status))),
		status,
	)

	lines := []string{header, styles.Muted.Render("run " + sdk.ShortID(r.RunID)), ""}
	for _, row := range Rows(r) {
		line := rowStyle(row).Render(row.Mark()+" "+fmt.Sprintf("%-16s", row.Stage.Title())) + " " + row.Status
		if row.Note != "" {
			line += styles.Muted.Render("  " + truncate(row.Note, width-40))
		}
		lines = append(lines, line)
	}

	box := styles.Box
	if r.Escalated() {
		box = styles.ErrBox
		e := r.Escalation
		lines = append(lines, "",
			styles.Fail.Render(fmt.Sprintf("%s failed %d times; a human needs to look", e.Stage.Title(), e.Attempts)))
		for i, reason := range e.Reasons {
			lines = append(lines, styles.Muted.Render(fmt.Sprintf("  %d. %s", i+1, truncate(reason, width-10))))
		}
	}

	return box.Width(width - 2).Render(strings.Join(lines, "\n"))
}

// RenderPanel renders a named panel. Failed panels get a red border so
// they stand out without hiding the panels around them.
func RenderPanel(title, body string, ok bool, width int) string {
	if width <= 0 {
		width = 80
	}
	box := styles.Box
	head := styles.Label.Render(title)
	if !ok {
		box = styles.ErrBox
		head = styles.Fail.Render(title)
	}
	return box.Width(width - 2).Render(head + "\n" + body)
}

func statusStyle(r *sdk.Report) lipgloss.Style {
	switch {
	case r.Succeeded():
		return styles.Pass
	case r.Escalated():
		return styles.Fail
	default:
		return styles.Pending
	}
}

func rowStyle(row Row) lipgloss.Style {
	switch row.Status {
	case "passed":
		return styles.Pass
	case "failed":
		return styles.Fail
	case "not required":
		return styles.Muted
	default:
		return styles.Pending
	}
}

func truncate(s string, n int) string {
	if n < 10 {
		n = 10
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
