package output

import (
	"io"

	"github.com/goccy/go-yaml"
)

// YAMLFormatter formats plugin reports as YAML.
type YAMLFormatter struct {
	writer io.Writer
}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter(w io.Writer) *YAMLFormatter {
	return &YAMLFormatter{writer: w}
}

// Format writes the report as YAML.
func (f *YAMLFormatter) Format(report *PluginReport) error {
	encoder := yaml.NewEncoder(f.writer, yaml.Indent(2), yaml.IndentSequence(true))

	if err := encoder.Encode(report); err != nil {
		return err
	}

	return encoder.Close()
}
