package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Iron-Ham/ciftiprep/internal/batch"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	okColor      = lipgloss.Color("#10B981") // Green
	failColor    = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	primaryColor = lipgloss.Color("#A78BFA") // Purple

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	okStyle    = lipgloss.NewStyle().Foreground(okColor)
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(failColor)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(mutedColor).Padding(0, 1)
)

// maxListedFailures bounds how many failed commands the summary prints.
const maxListedFailures = 5

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// WriteSummary prints a summary of the run to w. When styled is true the
// summary is colored and boxed for a terminal.
func WriteSummary(w io.Writer, r *Report, styled bool) error {
	var lines []string

	title := fmt.Sprintf("ciftiprep %s", r.Subject)
	if r.DryRun {
		title += " (dry run)"
	}
	lines = append(lines, style(styled, titleStyle, title))
	lines = append(lines, style(styled, mutedStyle, fmt.Sprintf("run %s, %s", r.RunID, r.Duration().Round(time.Millisecond))))

	c := r.Counts
	status := fmt.Sprintf("%d ok, %d failed, %d skipped", c.OK, c.Failed, c.Skipped)
	if c.DryRun > 0 {
		status += fmt.Sprintf(", %d planned", c.DryRun)
	}
	if c.Failed > 0 || r.Error != "" {
		lines = append(lines, style(styled, failStyle, status))
	} else {
		lines = append(lines, style(styled, okStyle, status))
	}

	failed := r.Failed()
	for i, s := range failed {
		if i == maxListedFailures {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(failed)-maxListedFailures))
			break
		}
		lines = append(lines, "  "+style(styled, failStyle, "x")+" "+truncate(s.CommandLine(), 100))
	}
	if r.Error != "" {
		lines = append(lines, style(styled, failStyle, "error: ")+r.Error)
	}
	if n := len(r.Manifests); n > 0 {
		lines = append(lines, style(styled, mutedStyle, fmt.Sprintf("%d spec files updated", n)))
	}

	out := strings.Join(lines, "\n")
	if styled {
		out = boxStyle.Render(out)
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

// WriteBatchSummary prints one line per subject of a batch run.
func WriteBatchSummary(w io.Writer, outcomes []batch.Outcome, styled bool) error {
	failed := 0
	var lines []string
	for _, o := range outcomes {
		mark := style(styled, okStyle, "ok")
		detail := o.Duration.Round(time.Second).String()
		if o.Failed() {
			failed++
			mark = style(styled, failStyle, "x ")
			detail = truncate(o.Err.Error(), 100)
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s", mark, o.Subject, style(styled, mutedStyle, detail)))
	}

	title := fmt.Sprintf("ciftiprep batch: %d subjects, %d failed", len(outcomes), failed)
	if failed > 0 {
		title = style(styled, failStyle, title)
	} else {
		title = style(styled, titleStyle, title)
	}

	out := strings.Join(append([]string{title}, lines...), "\n")
	if styled {
		out = boxStyle.Render(out)
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

func style(styled bool, s lipgloss.Style, text string) string {
	if !styled {
		return text
	}
	return s.Render(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
