package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// TableFormatter formats plugin reports for a terminal.
type TableFormatter struct {
	writer      io.Writer
	EnableColor bool
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{
		writer:      w,
		EnableColor: true, // Default to true, caller can disable
	}
}

// colorize returns the string wrapped in ANSI color codes if enabled.
func (f *TableFormatter) colorize(text, code string) string {
	if !f.EnableColor {
		return text
	}
	return code + text + colorReset
}

// Format writes the report as text.
//
//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) Format(r *PluginReport) error {
	rule := f.colorize(strings.Repeat("─", 80), colorGray)

	fmt.Fprintln(f.writer, rule)
	fmt.Fprintf(f.writer, "Plugin: %s (v%s)\n", f.colorize(r.Name, colorBold), r.Version)
	if r.Description != "" {
		fmt.Fprintf(f.writer, "Description: %s\n", r.Description)
	}
	fmt.Fprintf(f.writer, "Module: %s\n", r.Module)
	if r.Approval != nil {
		fmt.Fprintf(f.writer, "Approved: v%s at %s\n", r.Approval.Version, r.Approval.ApprovedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(f.writer, "Approved: never")
	}
	fmt.Fprintln(f.writer)

	fmt.Fprintln(f.writer, f.colorize("Capabilities:", colorBold))
	if len(r.Capabilities) == 0 {
		fmt.Fprintln(f.writer, "  none")
	}
	for _, c := range r.Capabilities {
		state := f.colorize("pending", colorYellow)
		if c.Approved {
			state = f.colorize("approved", colorGreen)
		}
		fmt.Fprintf(f.writer, "  %-8s %-40s %s\n", f.riskLabel(c.Risk), c.Capability, state)
		fmt.Fprintf(f.writer, "           %s\n", f.colorize(c.Description, colorGray))
	}
	fmt.Fprintln(f.writer)

	fmt.Fprintln(f.writer, f.colorize("Resources:", colorBold))
	res := r.Resources
	fmt.Fprintf(f.writer, "  max_fuel: %d\n", res.MaxFuel)
	fmt.Fprintf(f.writer, "  max_memory_mb: %d\n", res.MaxMemoryMB)
	fmt.Fprintf(f.writer, "  max_table_elements: %d\n", res.MaxTableElements)
	fmt.Fprintf(f.writer, "  max_http_requests_per_minute: %d\n", res.MaxHTTPRequestsPerMinute)
	fmt.Fprintf(f.writer, "  max_log_messages_per_minute: %d\n", res.MaxLogMessagesPerMinute)
	fmt.Fprintf(f.writer, "  max_execution_seconds: %d\n", res.MaxExecutionSeconds)
	if len(r.Clamped) > 0 {
		fmt.Fprintf(f.writer, "  %s %s\n", f.colorize("clamped to hard maximum:", colorYellow), strings.Join(r.Clamped, ", "))
	}
	fmt.Fprintln(f.writer, rule)

	return nil
}

func (f *TableFormatter) riskLabel(risk string) string {
	label := strings.ToUpper(risk)
	switch risk {
	case "high":
		return f.colorize(label, colorRed)
	case "medium":
		return f.colorize(label, colorYellow)
	default:
		return label
	}
}
