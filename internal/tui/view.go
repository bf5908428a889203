package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-snip-runner/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())

	if m.status != nil && !m.status.LastUpdate.IsZero() {
		if !m.status.Healthy {
			sections = append(sections, m.renderScrapeError())
		}
		sections = append(sections, m.renderActivity())
		sections = append(sections, m.renderOutcomes())
		sections = append(sections, m.renderRunTimes())

		if m.hasProblems() {
			sections = append(sections, m.renderProblems())
		}
	} else {
		sections = append(sections, boxStyle.Width(m.width-2).Render(
			dimStyle.Render("Waiting for the first scrape of "+m.metricsURL),
		))
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the per-language table.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderLanguageTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	session := "-"
	uptime := time.Duration(0)
	if m.status != nil {
		if m.status.Session != "" {
			session = m.status.Session
		}
		uptime = m.status.Uptime
	}

	header := fmt.Sprintf(
		" snip-runner │ %s │ Session: %s │ Uptime: %s ",
		GetBackendLabel(m.status),
		session,
		stats.FormatDuration(uptime),
	)

	return headerStyle.Width(m.width).Render(header)
}

func (m Model) renderScrapeError() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		statusError.Render("Last scrape failed: "+m.status.Error),
		dimStyle.Render("Showing values from "+m.status.LastUpdate.Format(time.TimeOnly)),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Activity
// =============================================================================

func (m Model) renderActivity() string {
	s := m.status

	queueStyle := valueStyle
	if s.QueueDepth > 0 {
		queueStyle = valueWarnStyle
	}

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Queue Depth:"),
			queueStyle.Render(fmt.Sprintf("%d", s.QueueDepth)),
		),
		RenderKeyValue("Process Groups", fmt.Sprintf("%d (peak %d)", s.ActiveProcesses, s.PeakActive)),
		renderRateRow("Job Rate", s.JobRate, s.JobRateP50, s.JobRateMax, s.WindowSeconds),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Activity")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func renderRateRow(label string, rate, p50, peak float64, window int) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Width(12).Render(stats.FormatRate(rate)),
		mutedStyle.Render(fmt.Sprintf(" (%ds median ", window)),
		valueStyle.Render(stats.FormatRate(p50)),
		mutedStyle.Render(", max "),
		valueStyle.Render(stats.FormatRate(peak)),
		mutedStyle.Render(")"),
	)
}

// =============================================================================
// Outcomes
// =============================================================================

func (m Model) renderOutcomes() string {
	s := m.status

	var compile, runtime, aborted, fallback int64
	for _, l := range s.Languages {
		compile += l.CompileFailed
		runtime += l.RuntimeFailed
		aborted += l.Errors
		fallback += l.Fallback
	}

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	var failRate float64
	if s.TotalJobs > 0 {
		failRate = float64(compile+runtime) / float64(s.TotalJobs)
	}

	rows := []string{
		RenderOutcomeBar(m.OKRatio(), barWidth),
		RenderKeyValue("Jobs", stats.FormatNumber(s.TotalJobs)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Failed:"),
			GetFailureRateStyle(failRate).Render(
				fmt.Sprintf("%d compile, %d runtime", compile, runtime)),
		),
		RenderKeyValue("Remote", stats.FormatNumber(fallback)),
	}
	if aborted > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Aborted:"),
			valueBadStyle.Render(fmt.Sprintf("%d", aborted)),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Outcomes")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Run Times
// =============================================================================

func (m Model) renderRunTimes() string {
	s := m.status
	if s.P50 == 0 && s.P99 == 0 {
		return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left,
			sectionHeaderStyle.Render("Run Time"),
			dimStyle.Render("No finished runs in the window"),
		))
	}

	rows := []string{
		RenderKeyValue("P50 (median)", stats.FormatMs(s.P50)),
		RenderKeyValue("P95", stats.FormatMs(s.P95)),
		RenderKeyValue("P99", stats.FormatMs(s.P99)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Run Time")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Problems
// =============================================================================

func (m Model) hasProblems() bool {
	return len(m.status.Rejected) > 0 || m.status.Misses > 0
}

func (m Model) renderProblems() string {
	s := m.status

	reasons := make([]string, 0, len(s.Rejected))
	for r := range s.Rejected {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	wide := labelStyle.Width(26)
	var rows []string
	for _, r := range reasons {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			wide.Render("Rejected ("+r+"):"),
			valueBadStyle.Render(fmt.Sprintf("%d", s.Rejected[r])),
		))
	}
	if s.Misses > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			wide.Render("Unresolved Names:"),
			valueWarnStyle.Render(fmt.Sprintf("%d", s.Misses)),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Problems")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Language Table (Detailed View)
// =============================================================================

func (m Model) renderLanguageTable() string {
	if m.status == nil || len(m.status.Languages) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No jobs yet. Press 'd' to toggle."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-12s %8s %8s %8s %8s %8s %8s",
			"Language", "Jobs", "OK", "Compile", "Runtime", "Aborted", "Remote"),
	)

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	var rows []string
	for i, l := range m.status.Languages {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more languages", len(m.status.Languages)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		row := fmt.Sprintf("%-12s %8d %8d %8d %8d %8d %8d",
			l.Language, l.Total(), l.OK, l.CompileFailed, l.RuntimeFailed, l.Errors, l.Fallback)
		rows = append(rows, rowStyle.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Jobs by Language"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle languages",
		"r: refresh",
	}

	url := m.metricsURL
	maxURLLen := m.width - 60
	if len(url) > maxURLLen && maxURLLen > 10 {
		url = url[:maxURLLen-3] + "..."
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render("Metrics: " + url)

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
