package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"soctriage/core"
	"soctriage/threat"
	"soctriage/triage"
	"soctriage/util"

	"github.com/fatih/color"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const tableWidth = 110

// renderBanner announces a run
func renderBanner(w io.Writer, count int, demo bool) {
	mode := "live enrichment"
	if demo {
		mode = "demo mode"
	}
	infoColor.Fprintf(w, "Processing %d findings (%s)\n", count, mode)
}

// renderReport displays one row per finding followed by its warnings and errors
func renderReport(w io.Writer, report *triage.Report) {
	if len(report.Results) == 0 {
		warningColor.Fprintln(w, "No findings to triage")
		return
	}

	headerColor.Fprintln(w, "TRIAGE RESULTS")
	headerColor.Fprintln(w, strings.Repeat("=", tableWidth))
	fmt.Fprintf(w, "%-14s %-17s %-7s %-14s %-5s %s\n",
		"Finding", "Verdict", "Score", "Mode", "IoCs", "Title")
	fmt.Fprintln(w, strings.Repeat("-", tableWidth))

	for _, r := range report.Results {
		fmt.Fprintf(w, "%-14s %s %-7.1f %-14s %-5d %s\n",
			truncate(util.StripControl(r.FindingID), 14),
			formatVerdict(r.Verdict, 17),
			r.Score,
			r.ScoreMode,
			len(r.Enrichments),
			truncate(util.StripControl(r.Title), 48))

		for _, e := range r.Enrichments {
			fmt.Fprintf(w, "    %s\n", formatEnrichment(e))
		}
		for _, warn := range r.Warnings {
			warningColor.Fprintf(w, "    ! %s\n", util.StripControl(warn.String()))
		}
		for _, msg := range r.Errors {
			errorColor.Fprintf(w, "    ✗ %s\n", util.StripControl(msg))
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", tableWidth))
}

// renderSummary prints per-verdict totals for a run
func renderSummary(w io.Writer, report *triage.Report) {
	successColor.Fprintf(w, "✓ Triage complete: %d findings in %s\n",
		report.Retained, report.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  %s %d, %s %d, %s %d\n",
		formatVerdict(core.VerdictImmediateAction, 0), report.Count(core.VerdictImmediateAction),
		formatVerdict(core.VerdictInvestigate, 0), report.Count(core.VerdictInvestigate),
		formatVerdict(core.VerdictMonitor, 0), report.Count(core.VerdictMonitor))
	if report.Truncated > 0 {
		warningColor.Fprintf(w, "  %d findings over the per-run limit were not processed\n", report.Truncated)
	}
	if report.Failed > 0 {
		errorColor.Fprintf(w, "  %d findings failed and defaulted to Monitor\n", report.Failed)
	}
	fmt.Fprintf(w, "  Run ID: %s\n", report.RunID)
}

// formatVerdict returns a colored verdict padded to width before coloring
func formatVerdict(v core.Verdict, width int) string {
	text := fmt.Sprintf("%-*s", width, v.String())
	switch v {
	case core.VerdictImmediateAction:
		return color.New(color.FgRed, color.Bold).Sprint(text)
	case core.VerdictInvestigate:
		return color.New(color.FgYellow).Sprint(text)
	default:
		return color.New(color.FgGreen).Sprint(text)
	}
}

// formatEnrichment describes one enrichment result on a single line
func formatEnrichment(r threat.Result) string {
	if !r.Succeeded() {
		return util.StripControl(fmt.Sprintf("%s %s: %s (%s)", r.Indicator.Kind, r.Indicator.Value, r.ErrorKind, r.Error))
	}
	line := fmt.Sprintf("%s %s: reputation %d", r.Indicator.Kind, r.Indicator.Value, r.Reputation)
	if r.Detections > 0 {
		line += fmt.Sprintf(", %d detections", r.Detections)
	}
	if r.Source != "" {
		line += " via " + r.Source
	}
	if r.Cached {
		line += " (cached)"
	}
	return line
}

// outputAsJSON writes data as indented JSON
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// truncate shortens s to n characters with an ellipsis
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
