package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// statusf prints a status message to w unless quiet mode is set.
func statusf(w io.Writer, quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.ErrOut, cc.Flags.Quiet, format, args...)
}

// formatSize returns a human-readable size string (e.g. "2.0 MiB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp for display. Zero times print "-".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// formatRelative returns e.g. "in 14 minutes" or "3 hours ago".
func formatRelative(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	return humanize.Time(t)
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
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

	printRow(w, headers, widths)

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

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}
