package report

import (
	"context"
	"encoding/json"
	"io"

	"github.com/0x6d61/docleech/internal/engine"
)

// JSONReporter writes the report document as JSON. Chinese titles and the
// "{{host}}" placeholders in API urls are written unescaped.
type JSONReporter struct {
	Compact bool // one line, no indentation
}

func (r *JSONReporter) Format() string {
	return "json"
}

// Generate encodes result to w.
func (r *JSONReporter) Generate(ctx context.Context, result *engine.Result, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if !r.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(newDocument(result))
}
