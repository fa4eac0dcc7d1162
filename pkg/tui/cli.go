// Package tui renders nextport's terminal output.
// Simple, streaming, no full-screen UI - a progress bar and plain reports.
package tui

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/schollz/progressbar/v3"

	"github.com/niksan004/nextport/internal/model"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(white).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader prints the banner shown before a run.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  NEXTPORT")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Next-port probabilities and port stay times"))
	fmt.Fprintln(w)
}

// RunPlan describes a run about to start.
type RunPlan struct {
	RunID     string
	Source    string
	Sink      string
	Scheduler string
	Workers   int
	Entities  int
}

// PrintRunPlan prints what a run is about to do.
func PrintRunPlan(w io.Writer, p *RunPlan) {
	fmt.Fprintln(w, accentStyle.Render("▸ RUN ")+codeStyle.Render(p.RunID))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	field(w, "Source:", p.Source)
	field(w, "Sink:", p.Sink)
	field(w, "Workers:", fmt.Sprintf("%d (%s)", p.Workers, p.Scheduler))
	field(w, "Vessels:", formatNumber(int64(p.Entities)))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintln(w)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(label), titleStyle.Render(value))
}

// NewProgressBar creates a progress bar counting vessels.
func NewProgressBar(w io.Writer, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("  vessels"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID        string
	Entities     int64
	Events       int64
	StayRows     int64
	VoyageRows   int64
	SkippedPorts int64
	Duration     time.Duration
	Files        []string
	Uploaded     []string
}

// PrintRunReport prints results after a run.
func PrintRunReport(w io.Writer, r *RunReport) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ RUN COMPLETE"))
	fmt.Fprintln(w)
	field(w, "Vessels:", formatNumber(r.Entities))
	field(w, "Events:", formatNumber(r.Events))
	field(w, "Stay rows:", formatNumber(r.StayRows))
	field(w, "Next-port rows:", formatNumber(r.VoyageRows))
	if r.SkippedPorts > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Skipped ports:"),
			accentStyle.Render(formatNumber(r.SkippedPorts)+" (all samples trimmed)"))
	}

	if r.Duration > 0 {
		throughput := float64(r.Entities) / r.Duration.Seconds()
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(r.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s vessels/sec)", formatNumber(int64(throughput)))))
	}

	if len(r.Files) > 0 {
		fmt.Fprintln(w)
		for _, f := range r.Files {
			fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("→"), codeStyle.Render(filepath.Base(f)))
		}
	}
	for _, u := range r.Uploaded {
		fmt.Fprintf(w, "  %s %s\n", successStyle.Render("↑"), u)
	}
	fmt.Fprintln(w)
}

// PrintError prints a failure line.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ "+err.Error()))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// PrintStayTable prints stay summaries, one row per port.
func PrintStayTable(w io.Writer, rows []model.StayRow) {
	t := newTable("LOCODE", "STAY", "SECONDS", "POINTS", "STD DEV")
	for _, r := range rows {
		t.Row(
			r.Locode,
			formatDuration(time.Duration(r.StayTime)*time.Second),
			strconv.FormatInt(r.StayTime, 10),
			strconv.Itoa(r.DataPoints),
			strconv.FormatInt(r.StandardDev, 10),
		)
	}
	fmt.Fprintln(w, t.Render())
}

// PrintVoyageTable prints next-port probabilities, one row per edge.
func PrintVoyageTable(w io.Writer, rows []model.VoyageRow) {
	t := newTable("FROM", "TO", "SHARE", "LEGS")
	for _, r := range rows {
		t.Row(
			r.FromLocode,
			r.ToLocode,
			fmt.Sprintf("%.1f%%", r.Percentage*100),
			strconv.Itoa(r.DataPoints),
		)
	}
	fmt.Fprintln(w, t.Render())
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + formatDuration(-d)
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
