package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/0x6d61/docleech/internal/auth"
	"github.com/0x6d61/docleech/internal/captcha"
	"github.com/0x6d61/docleech/internal/session"
	"github.com/0x6d61/docleech/internal/showdoc"
	"github.com/0x6d61/docleech/internal/transport"
)

// Runner orchestrates authentication and tree fetches for one item.
type Runner struct {
	client transport.Client
	target showdoc.Target
	config *Config
	logger *slog.Logger
	store  session.Store
	solver captcha.Solver
	debug  *captcha.DebugDir

	// Progress callback
	onProgress func(msg string)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore sets the session cache.
func WithStore(s session.Store) RunnerOption {
	return func(r *Runner) {
		r.store = s
	}
}

// WithSolver sets the captcha solver used by password logins.
func WithSolver(s captcha.Solver) RunnerOption {
	return func(r *Runner) {
		r.solver = s
	}
}

// WithDebugDir sets where images of failed captcha attempts are kept.
func WithDebugDir(d *captcha.DebugDir) RunnerOption {
	return func(r *Runner) {
		r.debug = d
	}
}

// WithLogger sets the logger shared by every component of the run.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a runner for target with all components wired up.
func NewRunner(client transport.Client, target showdoc.Target, config *Config, opts ...RunnerOption) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	r := &Runner{
		client: client,
		target: target,
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.solver == nil {
		r.solver = &captcha.CommandSolver{Logger: r.logger}
	}
	return r
}

// Target returns the item the runner works on.
func (r *Runner) Target() showdoc.Target {
	return r.target
}

// SetProgressCallback sets a function called with status messages.
func (r *Runner) SetProgressCallback(fn func(string)) {
	r.onProgress = fn
}

// progress sends a status message via the progress callback if set.
func (r *Runner) progress(format string, args ...any) {
	if r.onProgress != nil {
		r.onProgress(fmt.Sprintf(format, args...))
	}
}

// Run authenticates and fetches every page in scope of q.
func (r *Runner) Run(ctx context.Context, creds auth.Credentials, q showdoc.Query) (*Result, error) {
	return r.fetchTree(ctx, creds, func(ctx context.Context, f *showdoc.TreeFetcher) (*showdoc.ApiTree, error) {
		tree, err := f.GetAllAPIs(ctx, q)
		if err != nil {
			return nil, err
		}
		st := tree.Stats()
		r.progress("fetched %d page(s) in %d categories, %d API page(s)", st.Pages, st.Categories, st.APIPages)
		return tree, nil
	})
}

// Tree authenticates and fetches the table of contents narrowed to q,
// without page contents.
func (r *Runner) Tree(ctx context.Context, creds auth.Credentials, q showdoc.Query) (*Result, error) {
	return r.fetchTree(ctx, creds, func(ctx context.Context, f *showdoc.TreeFetcher) (*showdoc.ApiTree, error) {
		return f.NodeTree(ctx, q)
	})
}

// Page authenticates and fetches a single page.
func (r *Runner) Page(ctx context.Context, creds auth.Credentials, pageID string) (*PageResult, error) {
	if pageID == "" {
		pageID = r.target.PageID
	}
	if pageID == "" {
		return nil, &showdoc.NotFoundError{Kind: "page", Name: "", Msg: "no page id given"}
	}

	res := &PageResult{}
	src, _, err := r.withSession(ctx, creds, func(ctx context.Context, f *showdoc.TreeFetcher) error {
		page, content, err := f.FetchPageDetail(ctx, pageID)
		if err != nil {
			return err
		}
		res.Page, res.Content = page, content
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.SessionSource = src
	return res, nil
}

// Authenticate obtains a session without fetching anything.
func (r *Runner) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Result, error) {
	api := r.newAPI()
	return r.workflow(api).Authenticate(ctx, creds)
}

func (r *Runner) fetchTree(ctx context.Context, creds auth.Credentials, fetch func(context.Context, *showdoc.TreeFetcher) (*showdoc.ApiTree, error)) (*Result, error) {
	result := &Result{Target: r.target, StartTime: time.Now()}
	before := r.requestCount()

	var tree *showdoc.ApiTree
	src, attempts, err := r.withSession(ctx, creds, func(ctx context.Context, f *showdoc.TreeFetcher) error {
		var err error
		tree, err = fetch(ctx, f)
		return err
	})

	result.EndTime = time.Now()
	result.RequestCount = r.requestCount() - before
	if err != nil {
		return nil, err
	}
	result.Tree = tree
	result.SessionSource = src
	result.Attempts = attempts.n
	result.Reauthenticated = attempts.reauth
	return result, nil
}

// loginTally counts the captcha logins of a run. reauth is set when one of
// them replaced a rejected session.
type loginTally struct {
	n      int
	reauth bool
}

// withSession authenticates, then calls fn with a fetcher bound to the
// session. A reused session that the server rejects is dropped from the
// cache, and when a password is at hand fn is retried once after a fresh
// login.
func (r *Runner) withSession(ctx context.Context, creds auth.Credentials, fn func(context.Context, *showdoc.TreeFetcher) error) (session.Source, loginTally, error) {
	var tally loginTally
	if err := ctx.Err(); err != nil {
		return "", tally, fmt.Errorf("run cancelled before start: %w", err)
	}

	api := r.newAPI()
	wf := r.workflow(api)

	r.progress("authenticating to %s (item %s)", r.target.ServerBase, r.target.ItemID)
	ar, err := wf.Authenticate(ctx, creds)
	if err != nil {
		return "", tally, err
	}
	tally.n += ar.Attempts
	r.progress("session from %s", ar.Session.Source)

	fetcher := showdoc.NewTreeFetcher(api,
		showdoc.WithConcurrency(r.config.Concurrency),
		showdoc.WithPageErrorPolicy(r.config.PageErrorPolicy),
		showdoc.WithFetcherLogger(r.logger),
	)

	err = fn(ctx, fetcher)
	if err == nil || !showdoc.IsAuth(err) || ar.Session.Source == session.SourceLogin {
		return ar.Session.Source, tally, err
	}

	// The reused cookie was refused.
	r.logger.Warn("session rejected", "source", ar.Session.Source, "error", err)
	r.progress("%s session rejected by the server", ar.Session.Source)
	if r.store != nil {
		if derr := r.store.Delete(ctx, r.target.SiteKey()); derr != nil {
			r.logger.Warn("could not drop cached session", "error", derr)
		}
	}
	if creds.Password == "" {
		return "", tally, err
	}

	r.progress("logging in again with the password")
	ar, err = wf.Authenticate(ctx, auth.Credentials{Password: creds.Password})
	if err != nil {
		return "", tally, err
	}
	tally.n += ar.Attempts
	tally.reauth = true

	if err := fn(ctx, fetcher); err != nil {
		return "", tally, err
	}
	return ar.Session.Source, tally, nil
}

func (r *Runner) newAPI() *showdoc.API {
	return showdoc.NewAPI(r.client, r.target, showdoc.WithAPILogger(r.logger))
}

func (r *Runner) workflow(api *showdoc.API) *auth.Workflow {
	return auth.New(api, r.solver,
		auth.WithStore(r.store),
		auth.WithDebugDir(r.debug),
		auth.WithMaxAttempts(r.config.MaxAttempts),
		auth.WithTTL(r.config.SessionTTL),
		auth.WithLogger(r.logger),
		auth.WithObserver(func(from, to auth.State, attempt int) {
			if to == auth.Verifying {
				r.progress("captcha attempt %d/%d", attempt, r.maxAttempts())
			}
		}),
	)
}

func (r *Runner) maxAttempts() int {
	if r.config.MaxAttempts < 1 {
		return auth.DefaultMaxAttempts
	}
	return r.config.MaxAttempts
}

func (r *Runner) requestCount() int64 {
	if stats := r.client.Stats(); stats != nil {
		return stats.TotalRequests
	}
	return 0
}
