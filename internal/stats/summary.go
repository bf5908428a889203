package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Session is the handle this backend served
	Session string

	// Duration is the total run duration
	Duration time.Duration

	// WorkDir is the workspace root
	WorkDir string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// MaxOutputBytes is the per-run output cap
	MaxOutputBytes int64
}

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

func section(b *strings.Builder, title string) {
	b.WriteString(lightRule)
	fmt.Fprintf(b, "%s\n", centered(title, len([]rune(strings.TrimSuffix(lightRule, "\n")))))
	b.WriteString(lightRule)
	b.WriteString("\n")
}

func centered(s string, width int) string {
	pad := (width - len(s)) / 2
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad) + s
}

// FormatExitSummary formats aggregated stats for display when the backend
// exits.
func FormatExitSummary(stats *AggregatedStats, cfg SummaryConfig) string {
	if stats == nil || (stats.TotalJobs == 0 && len(stats.Rejected) == 0) {
		return formatBasicSummary(cfg)
	}

	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	fmt.Fprintf(&b, "%s\n", centered("snip-runner Exit Summary", 79))
	b.WriteString(heavyRule)
	b.WriteString("\n")

	// Run info
	fmt.Fprintf(&b, "Session:                %s\n", cfg.Session)
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Jobs:                   %s\n", FormatNumber(stats.TotalJobs))
	fmt.Fprintf(&b, "Peak Process Groups:    %d\n", stats.PeakActiveProcesses)
	fmt.Fprintf(&b, "Peak Queue Depth:       %d\n", stats.PeakQueueDepth)
	if cfg.MaxOutputBytes > 0 {
		fmt.Fprintf(&b, "Output Cap:             %s\n", FormatBytes(cfg.MaxOutputBytes))
	}
	b.WriteString("\n")

	// Per-language table
	section(&b, "Jobs by Language")
	fmt.Fprintf(&b, "  %-12s %8s %8s %8s %8s %8s %10s\n", "Language", "Jobs", "OK", "Compile", "Runtime", "Remote", "Avg")
	b.WriteString("  " + strings.Repeat("─", 68) + "\n")
	for _, l := range stats.Languages {
		fmt.Fprintf(&b, "  %-12s %8d %8d %8d %8d %8d %10s\n",
			l.Language, l.Jobs, l.OK, l.CompileFailed, l.RuntimeFailed, l.Fallback, FormatMs(l.AverageElapsed()))
	}
	b.WriteString("\n")

	// Duration distribution
	if stats.Durations.Count > 0 {
		section(&b, "Run Time Distribution")
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(stats.Durations.P50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatMs(stats.Durations.P95))
		fmt.Fprintf(&b, "  P99:                  %s\n", FormatMs(stats.Durations.P99))
		fmt.Fprintf(&b, "  Max:                  %s\n\n", FormatMs(stats.Durations.Max))
	}

	// Errors
	if stats.TotalErrors > 0 || len(stats.Rejected) > 0 {
		section(&b, "Errors")
		if stats.TotalErrors > 0 {
			fmt.Fprintf(&b, "  Aborted jobs:         %d\n", stats.TotalErrors)
		}

		reasons := make([]string, 0, len(stats.Rejected))
		for reason := range stats.Rejected {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(&b, "  Rejected (%s):%s%d\n", reason, strings.Repeat(" ", max(1, 11-len(reason))), stats.Rejected[reason])
		}
		b.WriteString("\n")
	}

	// Footnotes
	footnotes := renderFootnotes(stats)
	if footnotes != "" {
		b.WriteString(footnotes)
	}

	if cfg.WorkDir != "" {
		fmt.Fprintf(&b, "Work directory was: %s\n", cfg.WorkDir)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(heavyRule)

	return b.String()
}

// formatBasicSummary is used when no job ran.
func formatBasicSummary(cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	fmt.Fprintf(&b, "%s\n", centered("snip-runner Exit Summary", 79))
	b.WriteString(heavyRule)
	b.WriteString("\n")

	fmt.Fprintf(&b, "Session:                %s\n", cfg.Session)
	fmt.Fprintf(&b, "Run Duration:           %s\n\n", FormatDuration(cfg.Duration))
	b.WriteString("(No jobs were run)\n\n")

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(heavyRule)

	return b.String()
}

// renderFootnotes adds diagnostic info that doesn't belong in main metrics.
func renderFootnotes(stats *AggregatedStats) string {
	var footnotes []string

	var misses int64
	for _, l := range stats.Languages {
		misses += l.Misses
	}
	if misses > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[1] Unresolved names: %d (left for the toolchain to report)", misses))
	}
	if stats.Cleans > 0 {
		footnotes = append(footnotes, fmt.Sprintf("[2] Workspace cleaned %d times", stats.Cleans))
	}

	if len(footnotes) == 0 {
		return ""
	}

	var b strings.Builder
	section(&b, "Footnotes")
	for _, fn := range footnotes {
		fmt.Fprintf(&b, "  %s\n", fn)
	}
	b.WriteString("\n")
	return b.String()
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
