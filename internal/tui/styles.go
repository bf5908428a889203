// Package tui provides a live terminal monitor for a running snip-runner
// backend.
//
// The model redraws from a metrics.StatusScraper snapshot on every tick; it
// never talks to the backend itself.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-snip-runner/internal/metrics"
)

// =============================================================================
// Palette and Styles
// =============================================================================

// Colors follow the editor's diagnostic conventions: green output, amber
// warnings, red errors.
var (
	colorAccent = lipgloss.Color("#0EA5E9")
	colorBanner = lipgloss.Color("#1E3A8A")
	colorOK     = lipgloss.Color("#22C55E")
	colorWarn   = lipgloss.Color("#EAB308")
	colorFail   = lipgloss.Color("#DC2626")
	colorNote   = lipgloss.Color("#60A5FA")

	colorFg     = lipgloss.Color("#F3F4F6")
	colorFgSoft = lipgloss.Color("#A1A1AA")
	colorFgDim  = lipgloss.Color("#71717A")
	colorRule   = lipgloss.Color("#3F3F46")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

func strong(c lipgloss.Color) lipgloss.Style { return fg(c).Bold(true) }

var (
	mutedStyle = fg(colorFgSoft)
	dimStyle   = fg(colorFgDim)

	statusOK      = strong(colorOK)
	statusWarning = strong(colorWarn)
	statusError   = strong(colorFail)
	statusInfo    = strong(colorNote)

	valueStyle     = strong(colorFg)
	valueGoodStyle = strong(colorOK)
	valueWarnStyle = strong(colorWarn)
	valueBadStyle  = strong(colorFail)
	labelStyle     = fg(colorFgSoft).Width(20)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRule).
			Padding(0, 1)

	headerStyle = strong(colorFg).
			Background(colorBanner).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = strong(colorAccent).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorRule).
				MarginTop(1)

	footerStyle = fg(colorFgSoft).MarginTop(1)

	// Outcome bar: ok cells, failed cells, percentage.
	barOKStyle      = fg(colorOK)
	barFailStyle    = fg(colorFail)
	barPercentStyle = strong(colorFg)

	tableHeaderStyle = strong(colorAccent).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorRule)
	tableRowEvenStyle = fg(colorFg)
	tableRowOddStyle  = fg(colorFgSoft)
)

// =============================================================================
// Backend Health Indicator
// =============================================================================

// BackendHealth is the monitor's view of the scraped backend.
type BackendHealth int

const (
	BackendWaiting BackendHealth = iota
	BackendHealthy
	BackendBusy
	BackendUnreachable
)

// GetBackendHealth classifies a scraped status. A backend with queued
// requests is busy.
func GetBackendHealth(st *metrics.BackendStatus) BackendHealth {
	switch {
	case st == nil || st.LastUpdate.IsZero():
		return BackendWaiting
	case !st.Healthy:
		return BackendUnreachable
	case st.QueueDepth > 0:
		return BackendBusy
	default:
		return BackendHealthy
	}
}

// GetBackendLabel returns a styled label for the header.
func GetBackendLabel(st *metrics.BackendStatus) string {
	switch GetBackendHealth(st) {
	case BackendUnreachable:
		return statusError.Render("● Backend (unreachable)")
	case BackendBusy:
		return statusWarning.Render("● Backend (busy)")
	case BackendWaiting:
		return statusInfo.Render("● Backend (connecting)")
	default:
		return statusOK.Render("● Backend")
	}
}

// =============================================================================
// Failure Rate Indicator
// =============================================================================

// GetFailureRateStyle returns a style based on the share of failed jobs.
func GetFailureRateStyle(rate float64) lipgloss.Style {
	switch {
	case rate == 0:
		return valueGoodStyle
	case rate < 0.25:
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderOutcomeBar renders the ok share of finished jobs, with failures in
// the remainder.
func RenderOutcomeBar(okRatio float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(okRatio * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return barOKStyle.Render(strings.Repeat("█", filled)) +
		barFailStyle.Render(strings.Repeat("░", width-filled)) +
		barPercentStyle.Render(fmt.Sprintf(" %3.0f%% ok", okRatio*100))
}
