package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0x6d61/docleech/internal/showdoc"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docleech",
		Short: "Export the API tree of a password-protected ShowDoc item",
		Long: `docleech - ShowDoc API tree exporter

Logs in to a password-protected ShowDoc item (solving the captcha with an
OCR command), caches the session cookie, and exports the item's
category/page tree with each page's decoded API definition.

Use this tool only on documentation you are allowed to read.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()

	// Target flags
	pf.StringP("url", "u", "", "ShowDoc item or page URL (e.g., https://doc.example.com/web/#/90/)")
	pf.String("cookie", "", "Session cookie string (e.g., PHPSESSID=abc123)")
	pf.String("password", "", "Item password (default from config, then 123456)")
	pf.String("config", "", "Config file (default ~/.config/docleech/config.toml)")

	// Connection flags
	pf.String("proxy", "", "Proxy URL (http://host:port or socks5://host:port)")
	pf.Duration("timeout", 0, "Request timeout (default 30s)")
	pf.Float64("rate-limit", 0, "Maximum requests per second (0 = unlimited)")
	pf.Int("retries", 0, "Retries after a connection error or 5xx (default 3)")
	pf.String("user-agent", "", "User-Agent header")
	pf.Bool("random-agent", false, "Use random User-Agent")

	// Session and captcha flags
	pf.String("session-file", "", "Session cache path")
	pf.String("session-backend", "", "Session cache backend (file, sqlite)")
	pf.Bool("no-cache", false, "Neither read nor write the session cache")
	pf.String("captcha-command", "", "OCR command the captcha image is piped to (default tesseract)")
	pf.String("captcha-debug-dir", "", "Directory for images of failed captcha attempts")
	pf.Int("max-attempts", 0, "Captcha login attempts (default 5)")

	// Output flags
	pf.IntP("verbose", "v", 0, "Verbosity level (0-3)")

	cmd.AddCommand(
		newVersionCmd(),
		newFetchCmd(),
		newTreeCmd(),
		newPageCmd(),
		newCookieCmd(),
		newSessionsCmd(),
	)
	return cmd
}

// Execute runs the root command. Errors from the ShowDoc client are
// prefixed with their kind.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return withKind(err)
	}
	return nil
}

func withKind(err error) error {
	if kind := showdoc.Kind(err); kind != "unknown_error" {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docleech %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
