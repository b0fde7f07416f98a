package report

import (
	"context"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/0x6d61/docleech/internal/engine"
)

// YAMLReporter outputs the same document as JSONReporter in YAML.
type YAMLReporter struct {
	// Indent is the number of spaces per level, 2 when zero.
	Indent int
}

// Format returns "yaml".
func (r *YAMLReporter) Format() string {
	return "yaml"
}

// Generate writes the fetch result as YAML to w.
func (r *YAMLReporter) Generate(ctx context.Context, result *engine.Result, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	indent := r.Indent
	if indent <= 0 {
		indent = 2
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(indent)
	if err := enc.Encode(newDocument(result)); err != nil {
		return err
	}
	return enc.Close()
}
