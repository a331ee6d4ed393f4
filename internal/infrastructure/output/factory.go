package output

import (
	"fmt"
	"io"
)

// Formatter writes a plugin report.
type Formatter interface {
	Format(report *PluginReport) error
}

// FormatterFactory creates formatters by name.
type FormatterFactory struct{}

// NewFormatterFactory creates a new formatter factory.
func NewFormatterFactory() *FormatterFactory {
	return &FormatterFactory{}
}

// Create returns a formatter for the given format name.
func (f *FormatterFactory) Create(format string, writer io.Writer) (Formatter, error) {
	switch format {
	case "table":
		return NewTableFormatter(writer), nil
	case "json":
		return NewJSONFormatter(writer, true), nil
	case "yaml":
		return NewYAMLFormatter(writer), nil
	default:
		return nil, fmt.Errorf(
			"unknown format: %s (supported: %v)",
			format, f.SupportedFormats(),
		)
	}
}

// SupportedFormats returns list of available format names.
func (f *FormatterFactory) SupportedFormats() []string {
	return []string{"table", "json", "yaml"}
}
