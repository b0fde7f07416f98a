package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0x6d61/docleech/internal/engine"
	"github.com/0x6d61/docleech/internal/report"
	"github.com/0x6d61/docleech/internal/showdoc"
)

func newTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the category/page tree without fetching page contents",
		Long: `Tree lists the item's categories and pages with their links. Only the
item info request is made, so it is the quick way to find a node name.

With --offline the tree is read from the newest snapshot of the item (or
from --snapshot) and nothing is sent to the server.`,
		RunE: runTree,
	}
	f := cmd.Flags()
	f.String("node", "", "Category name to show (default the whole item)")
	f.StringP("format", "f", "text", "Output format (text, json, yaml)")
	f.StringP("output", "o", "", "Output file path")
	f.Bool("offline", false, "Read the tree from a saved snapshot")
	f.String("snapshot", "", "Snapshot to read with --offline (default the newest one)")
	return cmd
}

func runTree(cmd *cobra.Command, args []string) error {
	nodeName, _ := cmd.Flags().GetString("node")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	offline, _ := cmd.Flags().GetBool("offline")

	reporter, err := newReporter(cmd, format)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if offline {
		result, err := offlineTree(cmd, nodeName)
		if err != nil {
			return err
		}
		return writeReport(ctx, cmd, reporter, result, outputPath)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.runner.Tree(ctx, a.creds, showdoc.Query{NodeName: nodeName, PageID: a.target.PageID})
	if err != nil {
		return err
	}
	return writeReport(ctx, cmd, reporter, result, outputPath)
}

// offlineTree loads a snapshot and narrows it the way a live fetch would.
func offlineTree(cmd *cobra.Command, nodeName string) (*engine.Result, error) {
	flags := cmd.Flags()
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	var target showdoc.Target
	if rawURL, _ := flags.GetString("url"); rawURL != "" {
		if target, err = showdoc.ParseURL(rawURL); err != nil {
			return nil, err
		}
	}

	path, _ := flags.GetString("snapshot")
	if path == "" {
		if target.ItemID == "" {
			return nil, fmt.Errorf("ShowDoc URL or --snapshot is required with --offline")
		}
		if path, err = report.LatestSnapshot(cfg.SnapshotDir, target.ItemID); err != nil {
			return nil, err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "[*] reading snapshot %s\n", path)

	tree, err := report.ReadSnapshot(path)
	if err != nil {
		return nil, err
	}
	if target.ItemID == "" {
		target.ItemID = tree.ItemInfo.ItemID
	}

	switch {
	case !showdoc.IsAllNodes(nodeName):
		tree, err = showdoc.Filter(tree, nodeName)
	case target.PageID != "":
		tree, err = showdoc.FilterByPage(tree, target.PageID)
	}
	if err != nil {
		return nil, err
	}
	return &engine.Result{Target: target, Tree: tree}, nil
}
