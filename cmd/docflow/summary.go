package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// newTable is the bordered table layout shared by every CLI listing.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...)
}

// renderSummary formats the end-of-run table written to stderr.
func renderSummary(report models.RunReport, elapsed time.Duration) string {
	var b strings.Builder
	title := fmt.Sprintf("Run %s finished in %s", report.RunID, elapsed.Round(time.Second))
	if report.Interrupted {
		title += " (interrupted)"
	}
	b.WriteString(titleStyle.Render(title) + "\n")

	rows := make([][]string, 0, len(report.Reports))
	for _, sr := range report.Reports {
		rows = append(rows, []string{
			sr.Stage.String(),
			fmt.Sprint(sr.Processed),
			fmt.Sprint(sr.Skipped),
			fmt.Sprint(sr.Failed),
			fmt.Sprint(sr.Pending),
		})
	}
	t := newTable("stage", "processed", "skipped", "failed", "pending").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Inherit(headerStyle)
			}
			style := cellStyle
			if col > 0 {
				style = style.Align(lipgloss.Right)
			}
			if row < 0 || row >= len(report.Reports) {
				return style
			}
			sr := report.Reports[row]
			switch {
			case col == 1:
				return style.Inherit(okStyle)
			case col == 3 && sr.Failed > 0:
				return style.Inherit(errorStyle)
			case col == 4 && sr.Pending > 0:
				return style.Inherit(warningStyle)
			}
			return style
		})
	b.WriteString(t.Render() + "\n")

	if n := len(report.Quarantined); n > 0 {
		b.WriteString("\n" + errorStyle.Render(fmt.Sprintf("%d file(s) quarantined", n)) + " - see `docflow quarantine list`\n")
	}
	if len(report.Verdicts) > 0 {
		var ok, warning, fail int
		for _, v := range report.Verdicts {
			switch v.Status {
			case models.VerdictOK:
				ok++
			case models.VerdictWarning:
				warning++
			default:
				fail++
			}
		}
		b.WriteString(fmt.Sprintf("\nverification: %s  %s  %s\n",
			okStyle.Render(fmt.Sprintf("%d ok", ok)),
			warningStyle.Render(fmt.Sprintf("%d warning", warning)),
			errorStyle.Render(fmt.Sprintf("%d fail", fail))))
	}
	return strings.TrimRight(b.String(), "\n")
}

// termPrompter asks on the terminal whether to go on after an interrupt.
type termPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newTermPrompter() *termPrompter {
	return &termPrompter{in: bufio.NewReader(os.Stdin), out: os.Stderr}
}

func (p *termPrompter) Continue(after models.Stage, report models.StageReport) bool {
	fmt.Fprintf(p.out, "\n%s %s stopped with %d processed, %d failed and %d pending.\nContinue with the next stage? [y/N] ",
		warningStyle.Render("Interrupted:"), after, report.Processed, report.Failed, report.Pending)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
