package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect or clear the session cache",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List cached sessions (cookies are not shown)",
		Args:  cobra.NoArgs,
		RunE:  runSessionsList,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached sessions",
		Args:  cobra.NoArgs,
		RunE:  runSessionsClear,
	}
	clearCmd.Flags().Bool("expired", false, "Only drop expired or unreadable sessions")

	cmd.AddCommand(list, clearCmd)
	return cmd
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	summaries, err := store.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintf(out, "No cached sessions in %s\n", cfg.SessionFile)
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SITE", "OBTAINED", "EXPIRES", "STATUS")
	for _, s := range summaries {
		status := "valid"
		if s.Expired {
			status = "expired"
		}
		t.Row(s.SiteKey,
			s.ObtainedAt.Local().Format(timeLayout),
			s.ExpiresAt.Local().Format(timeLayout),
			status)
	}
	_, err = fmt.Fprintln(out, t.String())
	return err
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	expiredOnly, _ := cmd.Flags().GetBool("expired")

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	if expiredOnly {
		n, err := store.Prune(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d expired session(s)\n", n)
		return nil
	}
	if err := store.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleared %s\n", cfg.SessionFile)
	return nil
}
