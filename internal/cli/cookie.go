package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCookieCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cookie",
		Short: "Obtain a session cookie (cache or captcha login) and print it",
		Long: `Cookie runs the login workflow on its own: a cached session is reused,
otherwise the item password is submitted with OCR-solved captchas. The
cookie string is printed on stdout, suitable for --cookie or SHOWDOC_COOKIE.`,
		RunE: runCookie,
	}
}

func runCookie(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := a.runner.Authenticate(ctx, a.creds)
	if err != nil {
		return err
	}

	sess := res.Session
	a.progress("session from %s, expires %s", sess.Source, sess.ExpiresAt.Local().Format(timeLayout))
	if res.Attempts > 0 {
		a.progress("%d captcha attempt(s)", res.Attempts)
	}
	if a.verbose > 1 {
		names := make([]string, 0, len(res.Path))
		for _, st := range res.Path {
			names = append(names, st.String())
		}
		a.progress("states: %s", strings.Join(names, " -> "))
	}
	fmt.Fprintln(cmd.OutOrStdout(), sess.Cookie)
	return nil
}
