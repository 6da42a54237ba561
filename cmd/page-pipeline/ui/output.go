// Package ui renders page-pipeline CLI output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	out     io.Writer = os.Stdout
	errOut  io.Writer = os.Stderr
	verbose bool
)

// Init applies the global color and verbosity flags.
func Init(noColor, verboseOutput bool) {
	verbose = verboseOutput
	if noColor {
		color.NoColor = true
	}
}

// Verbose reports whether --verbose was given.
func Verbose() bool {
	return verbose
}

// Success prints a success message.
func Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error prints an error message to stderr.
func Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(errOut, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(out, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational message.
func Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Step prints a step message.
func Step(format string, args ...interface{}) {
	color.New(color.FgBlue).Fprintf(out, "→ %s\n", fmt.Sprintf(format, args...))
}

// Section prints a section header.
func Section(title string) {
	color.New(color.FgMagenta, color.Bold).Fprintf(out, "\n━━━ %s ━━━\n", strings.ToUpper(title))
}

// KeyValue prints an aligned key/value line.
func KeyValue(key string, value interface{}) {
	color.New(color.FgYellow).Fprintf(out, "  %-18s", key+":")
	fmt.Fprintf(out, " %v\n", value)
}

// Table prints rows under a header.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold).SprintFunc()

	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = bold(h)
	}
	fmt.Fprintln(w, strings.Join(styled, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// StatusText colors a status name.
func StatusText(status string) string {
	switch status {
	case "finished":
		return color.GreenString(status)
	case "failed":
		return color.RedString(status)
	case "processing":
		return color.CyanString(status)
	default:
		return color.YellowString(status)
	}
}
