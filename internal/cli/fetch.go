package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/0x6d61/docleech/internal/engine"
	"github.com/0x6d61/docleech/internal/report"
	"github.com/0x6d61/docleech/internal/showdoc"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the API tree with every page's API definition",
		Long: `Fetch logs in (or reuses a cached session), walks the item's categories
and fetches every page in scope. The tree is printed and, unless disabled,
saved as a JSON snapshot.

Scope: --node picks a category by name ("" or "全部" for everything); without
it a page id in the URL narrows the tree to that page.`,
		RunE: runFetch,
	}
	f := cmd.Flags()
	f.String("node", "", "Category name to export (default the whole item)")
	f.StringP("format", "f", "text", "Output format (text, json, yaml)")
	f.StringP("output", "o", "", "Output file path")
	f.String("snapshot", "", "Snapshot path (default {snapshot_dir}/{item}_{name}_{time}.json)")
	f.Bool("no-snapshot", false, "Do not save a snapshot")
	f.Int("concurrency", 0, "Pages fetched in parallel (default 1)")
	f.Bool("tolerant", false, "Record failed pages in the tree instead of aborting")
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	nodeName, _ := cmd.Flags().GetString("node")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	snapshotPath, _ := cmd.Flags().GetString("snapshot")
	noSnapshot, _ := cmd.Flags().GetBool("no-snapshot")

	reporter, err := newReporter(cmd, format)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	// ------------------------------------------------------------------ //
	// 1. Authenticate and fetch
	// ------------------------------------------------------------------ //
	result, err := a.runner.Run(ctx, a.creds, showdoc.Query{NodeName: nodeName, PageID: a.target.PageID})
	if err != nil {
		return err
	}

	// ------------------------------------------------------------------ //
	// 2. Snapshot
	// ------------------------------------------------------------------ //
	if !noSnapshot {
		if snapshotPath == "" {
			snapshotPath = report.AutoSnapshotPath(a.cfg.SnapshotDir, result.Tree.ItemInfo, time.Now())
		}
		abs, err := report.WriteSnapshot(snapshotPath, result.Tree)
		if err != nil {
			return err
		}
		a.progress("snapshot saved to %s", abs)
	}

	// ------------------------------------------------------------------ //
	// 3. Report
	// ------------------------------------------------------------------ //
	return writeReport(ctx, cmd, reporter, result, outputPath)
}

// newReporter builds the reporter for format, passing -v on to the text
// reporter.
func newReporter(cmd *cobra.Command, format string) (report.Reporter, error) {
	reporter, err := report.New(format)
	if err != nil {
		return nil, fmt.Errorf("unknown report format %q: %w", format, err)
	}
	if text, ok := reporter.(*report.TextReporter); ok {
		text.Verbose, _ = cmd.Flags().GetInt("verbose")
	}
	return reporter, nil
}

// writeReport renders result to outputPath, or to stdout when it is empty.
func writeReport(ctx context.Context, cmd *cobra.Command, reporter report.Reporter, result *engine.Result, outputPath string) error {
	var out io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file %q: %w", outputPath, err)
		}
		defer f.Close()
		out = f
	}

	if err := reporter.Generate(ctx, result, out); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	if outputPath != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "[*] %s report written to %s\n", reporter.Format(), outputPath)
	}
	return nil
}
