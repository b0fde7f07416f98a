package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/0x6d61/docleech/internal/engine"
	"github.com/0x6d61/docleech/internal/session"
	"github.com/0x6d61/docleech/internal/showdoc"
)

func newPageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Fetch one page and print its decoded content",
		RunE:  runPage,
	}
	f := cmd.Flags()
	f.String("page-id", "", "Page to fetch (default the page in the URL)")
	f.StringP("format", "f", "json", "Output format (json, yaml, text)")
	f.StringP("output", "o", "", "Output file path")
	return cmd
}

// pageDocument is what the page command prints.
type pageDocument struct {
	Page          *showdoc.Page  `json:"page" yaml:"page"`
	Content       map[string]any `json:"content" yaml:"content"`
	SessionSource session.Source `json:"session_source" yaml:"session_source"`
}

func runPage(cmd *cobra.Command, args []string) error {
	pageID, _ := cmd.Flags().GetString("page-id")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	format = strings.ToLower(format)
	switch format {
	case "json", "yaml", "yml", "text":
	default:
		return fmt.Errorf("unknown page format %q", format)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := a.runner.Page(ctx, a.creds, pageID)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file %q: %w", outputPath, err)
		}
		defer f.Close()
		out = f
	}
	return writePage(out, format, res)
}

func writePage(w io.Writer, format string, res *engine.PageResult) error {
	doc := pageDocument{Page: res.Page, Content: res.Content, SessionSource: res.SessionSource}
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode page: %w", err)
		}
		return enc.Close()
	case "text":
		return writePageText(w, res)
	default:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
}

func writePageText(w io.Writer, res *engine.PageResult) error {
	p := res.Page
	b := &strings.Builder{}
	fmt.Fprintf(b, "Page:    %s (#%s)\n", p.PageTitle, p.PageID)
	fmt.Fprintf(b, "Link:    %s\n", p.Link)
	if p.AuthorUsername != "" {
		fmt.Fprintf(b, "Author:  %s\n", p.AuthorUsername)
	}
	fmt.Fprintf(b, "Kind:    %s\n", p.Kind)
	if p.IsAPI() {
		fmt.Fprintf(b, "Method:  %s\n", p.API.Method)
		fmt.Fprintf(b, "URL:     %s\n", p.API.URL)
		if p.API.Description != "" {
			fmt.Fprintf(b, "About:   %s\n", p.API.Description)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
