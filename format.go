package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
// Method form of statusf so call chains need not thread `quiet bool`.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// truncateID shortens a UUID to its display prefix for table output.
func truncateID(id string) string {
	if len(id) > conflictIDPrefixLen {
		return id[:conflictIDPrefixLen]
	}

	return id
}

// pluralWord picks the singular or plural noun for n.
func pluralWord(n int64, singular, plural string) string {
	if n == 1 {
		return singular
	}

	return plural
}

// formatNanos renders a Unix-nanosecond timestamp as RFC 3339 in UTC.
// Zero means the event never happened.
func formatNanos(ns int64) string {
	if ns == 0 {
		return "never"
	}

	return time.Unix(0, ns).UTC().Format(time.RFC3339)
}

// formatAgo renders how long ago a Unix-nanosecond timestamp was,
// relative to now.
func formatAgo(ns int64, now time.Time) string {
	if ns == 0 {
		return "never"
	}

	d := now.Sub(time.Unix(0, ns))
	if d < 0 {
		d = 0
	}

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours())/24)
	}
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	// Compute column widths.
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Print header.
	printRow(w, headers, widths)

	// Print rows.
	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
