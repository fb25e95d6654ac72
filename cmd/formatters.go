package cmd

import (
	"fmt"
	"io"
	"strings"

	"gatekeeper/core"

	"github.com/fatih/color"
)

// renderVerifyReport displays one row per test followed by the totals
func renderVerifyReport(w io.Writer, report VerifyReport, quiet bool) {
	if !quiet {
		headerColor.Fprintf(w, "UNIT TESTS (%s)\n", report.Kind)
		headerColor.Fprintln(w, strings.Repeat("=", 100))
		fmt.Fprintf(w, "%-8s %-30s %-40s\n", "Status", "ID", "Name")
		fmt.Fprintln(w, strings.Repeat("-", 100))

		for _, r := range report.Results {
			fmt.Fprintf(w, "%-8s %-30s %-40s\n", formatTestStatus(r.Status()), truncate(r.ID, 29), truncate(r.Name, 40))
			if msg := resultErrorMessage(r); msg != "" {
				errorColor.Fprintf(w, "         %s\n", truncate(msg, 90))
			}
		}
		fmt.Fprintln(w, strings.Repeat("=", 100))
	}

	s := report.Summary
	line := fmt.Sprintf("%d passed, %d failed, %d errored", s.Passed, s.Failed, s.Errored)
	if s.Failed > 0 || s.Errored > 0 {
		errorColor.Fprintf(w, "✗ %s\n", line)
	} else {
		successColor.Fprintf(w, "✓ %s\n", line)
	}
	if report.Stored {
		infoColor.Fprintf(w, "Run %s stored\n", report.RunID)
	}
}

// renderPrefilterReport displays the gate verdict for each event
func renderPrefilterReport(w io.Writer, report PrefilterReport, quiet bool) {
	if len(report.Results) == 0 {
		warningColor.Fprintln(w, "No events to filter")
		return
	}

	if !quiet {
		headerColor.Fprintf(w, "PREFILTER %s\n", report.SnippetID)
		headerColor.Fprintln(w, strings.Repeat("=", 40))
		fmt.Fprintf(w, "%-8s %-10s\n", "Event", "Result")
		fmt.Fprintln(w, strings.Repeat("-", 40))
		for i, passed := range report.Results {
			fmt.Fprintf(w, "%-8d %-10s\n", i+1, formatGate(passed))
		}
		fmt.Fprintln(w, strings.Repeat("=", 40))
	}

	infoColor.Fprintf(w, "%d of %d events passed\n", report.Passed, len(report.Results))
}

// formatTestStatus returns a colored PASS/FAIL/ERROR
func formatTestStatus(status string) string {
	switch status {
	case "PASS":
		return color.New(color.FgGreen).Sprint(status)
	case "FAIL":
		return color.New(color.FgRed).Sprint(status)
	case "ERROR":
		return color.New(color.FgYellow).Sprint(status)
	default:
		return status
	}
}

func formatGate(passed bool) string {
	if passed {
		return color.New(color.FgGreen).Sprint("pass")
	}
	return color.New(color.FgRed).Sprint("drop")
}

// resultErrorMessage picks the most specific error reported for a test
func resultErrorMessage(r core.TestResult) string {
	if r.GenericError != nil {
		return *r.GenericError
	}
	if r.Error != nil {
		return r.Error.Message
	}
	if df := r.Functions.DetectionFunction; df != nil && df.Error != nil {
		return df.Error.Message
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
