// Package report provides formatters for fetched API trees and the JSON
// snapshot files handed to code generators.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/0x6d61/docleech/internal/engine"
	"github.com/0x6d61/docleech/internal/showdoc"
)

// Reporter generates output in a specific format.
type Reporter interface {
	// Format returns the format name (e.g., "text", "json").
	Format() string

	// Generate writes the formatted fetch result to w.
	Generate(ctx context.Context, result *engine.Result, w io.Writer) error
}

// Formats lists the accepted format names.
func Formats() []string {
	return []string{"json", "yaml", "text"}
}

// New creates a reporter by format name ("json", "yaml" or "text").
// The format name is case-insensitive.
func New(format string) (Reporter, error) {
	switch strings.ToLower(format) {
	case "text":
		return &TextReporter{}, nil
	case "json":
		return &JSONReporter{}, nil
	case "yaml", "yml":
		return &YAMLReporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported report format: %q", format)
	}
}

// document is the structure shared by the JSON and YAML reporters.
type document struct {
	SchemaVersion string            `json:"schema_version" yaml:"schema_version"`
	Tool          string            `json:"tool" yaml:"tool"`
	Source        docSource         `json:"source" yaml:"source"`
	Fetch         docFetch          `json:"fetch" yaml:"fetch"`
	Summary       showdoc.TreeStats `json:"summary" yaml:"summary"`
	ApiTree       *showdoc.ApiTree  `json:"api_tree" yaml:"api_tree"`
}

type docSource struct {
	Server string `json:"server" yaml:"server"`
	ItemID string `json:"item_id" yaml:"item_id"`
	PageID string `json:"page_id,omitempty" yaml:"page_id,omitempty"`
	Link   string `json:"link" yaml:"link"`
}

type docFetch struct {
	StartTime       time.Time `json:"start_time" yaml:"start_time"`
	EndTime         time.Time `json:"end_time" yaml:"end_time"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`
	TotalRequests   int64     `json:"total_requests" yaml:"total_requests"`
	SessionSource   string    `json:"session_source" yaml:"session_source"`
	LoginAttempts   int       `json:"login_attempts" yaml:"login_attempts"`
	Reauthenticated bool      `json:"reauthenticated,omitempty" yaml:"reauthenticated,omitempty"`
}

func newDocument(result *engine.Result) document {
	var tree showdoc.ApiTree
	if result.Tree != nil {
		tree = *result.Tree
	}
	if tree.Categories == nil {
		tree.Categories = []*showdoc.Category{}
	}
	return document{
		SchemaVersion: "1.0",
		Tool:          "docleech",
		Source: docSource{
			Server: result.Target.ServerBase,
			ItemID: result.Target.ItemID,
			PageID: result.Target.PageID,
			Link:   result.Target.ItemLink(),
		},
		Fetch: docFetch{
			StartTime:       result.StartTime,
			EndTime:         result.EndTime,
			DurationSeconds: result.Duration().Seconds(),
			TotalRequests:   result.RequestCount,
			SessionSource:   string(result.SessionSource),
			LoginAttempts:   result.Attempts,
			Reauthenticated: result.Reauthenticated,
		},
		Summary: tree.Stats(),
		ApiTree: &tree,
	}
}
