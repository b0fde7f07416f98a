// Package auth obtains a ShowDoc session: it reuses a caller-supplied or
// cached cookie, or runs the captcha login until the server accepts a
// password or the attempt budget runs out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/0x6d61/docleech/internal/captcha"
	"github.com/0x6d61/docleech/internal/session"
	"github.com/0x6d61/docleech/internal/showdoc"
)

// DefaultMaxAttempts is the login budget shared by captcha mismatches and
// network failures.
const DefaultMaxAttempts = 5

// State is a node of the login state machine.
type State int

const (
	NoSession State = iota
	CaptchaPending
	Verifying
	Authenticated
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case CaptchaPending:
		return "captcha_pending"
	case Verifying:
		return "verifying"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the machine stops in s.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed
}

// Credentials are what the caller brings. A Cookie wins over a cached
// session, which wins over the Password.
type Credentials struct {
	Cookie   string
	Password string
}

// Result describes a successful authentication.
type Result struct {
	Session  *session.Session
	Attempts int     // captcha login attempts, 0 when a cookie was reused
	Path     []State // every state visited, starting with NoSession
}

// Observer is told about every transition.
type Observer func(from, to State, attempt int)

// Workflow runs the login state machine against one item.
type Workflow struct {
	api         *showdoc.API
	solver      captcha.Solver
	store       session.Store
	debug       *captcha.DebugDir
	maxAttempts int
	ttl         time.Duration
	logger      *slog.Logger
	observer    Observer
	now         func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithStore sets the session cache. Without one nothing is persisted.
func WithStore(s session.Store) Option {
	return func(w *Workflow) { w.store = s }
}

// WithDebugDir sets where failed captcha images are kept.
func WithDebugDir(d *captcha.DebugDir) Option {
	return func(w *Workflow) { w.debug = d }
}

// WithMaxAttempts sets the login budget.
func WithMaxAttempts(n int) Option {
	return func(w *Workflow) { w.maxAttempts = n }
}

// WithTTL sets the lifetime of newly stored sessions.
func WithTTL(d time.Duration) Option {
	return func(w *Workflow) { w.ttl = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithObserver registers a transition callback.
func WithObserver(o Observer) Option {
	return func(w *Workflow) { w.observer = o }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New creates a Workflow for the item api talks to.
func New(api *showdoc.API, solver captcha.Solver, opts ...Option) *Workflow {
	w := &Workflow{
		api:         api,
		solver:      solver,
		maxAttempts: DefaultMaxAttempts,
		ttl:         session.DefaultTTL,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.maxAttempts < 1 {
		w.maxAttempts = DefaultMaxAttempts
	}
	return w
}

// machine is the mutable state of one Authenticate call.
type machine struct {
	state     State
	attempt   int
	captchaID string
	image     []byte
	lastErr   error
	lastCode  int
	lastMsg   string
	session   *session.Session
	failure   error
	path      []State
}

// Authenticate drives the machine from NoSession to a terminal state. On
// success the API carries the session for subsequent requests.
func (w *Workflow) Authenticate(ctx context.Context, creds Credentials) (*Result, error) {
	if err := w.debug.Reset(); err != nil {
		w.logger.Warn("could not clear captcha debug dir", "error", err)
	}

	m := &machine{state: NoSession, path: []State{NoSession}}
	for !m.state.Terminal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := w.step(ctx, m, creds)
		if w.observer != nil {
			w.observer(m.state, next, m.attempt)
		}
		w.logger.Debug("auth transition", "from", m.state.String(), "to", next.String(), "attempt", m.attempt)
		m.state = next
		m.path = append(m.path, next)
	}

	if m.state == Failed {
		return nil, m.failure
	}
	return &Result{Session: m.session, Attempts: m.attempt, Path: m.path}, nil
}

// step performs the work of the current state and returns the next one.
func (w *Workflow) step(ctx context.Context, m *machine, creds Credentials) State {
	switch m.state {
	case NoSession:
		return w.stepNoSession(ctx, m, creds)
	case CaptchaPending:
		return w.stepCaptcha(ctx, m)
	case Verifying:
		return w.stepVerify(ctx, m, creds.Password)
	default:
		m.failure = fmt.Errorf("auth: step from terminal state %s", m.state)
		return Failed
	}
}

func (w *Workflow) stepNoSession(ctx context.Context, m *machine, creds Credentials) State {
	siteKey := w.api.Target().SiteKey()

	if creds.Cookie != "" {
		m.session = session.New(siteKey, creds.Cookie, session.SourceCookie, w.now(), w.ttl)
		w.api.SetCookie(creds.Cookie)
		w.persist(ctx, m.session)
		w.logger.Info("using supplied cookie", "site", siteKey)
		return Authenticated
	}

	if w.store != nil {
		cached, err := w.store.Load(ctx, siteKey)
		if err != nil {
			w.logger.Warn("session cache unreadable", "error", err)
		} else if cached.Valid(w.now()) {
			m.session = cached
			w.api.SetCookie(cached.Cookie)
			w.logger.Info("using cached session", "site", siteKey, "expires_at", cached.ExpiresAt)
			return Authenticated
		}
	}

	if creds.Password == "" {
		m.failure = &showdoc.AuthError{Op: "login", Message: "no cookie, cached session or password available"}
		return Failed
	}
	// A rejected cookie from an earlier run must not shadow the jar.
	w.api.SetCookie("")
	w.logger.Info("starting captcha login", "site", siteKey, "max_attempts", w.maxAttempts)
	return CaptchaPending
}

func (w *Workflow) stepCaptcha(ctx context.Context, m *machine) State {
	if m.attempt >= w.maxAttempts {
		m.failure = &showdoc.AuthError{
			Op:          "login",
			Code:        m.lastCode,
			Message:     w.exhaustedMessage(m),
			Attempts:    m.attempt,
			MaxAttempts: w.maxAttempts,
			Err:         m.lastErr,
		}
		return Failed
	}
	m.attempt++
	m.captchaID, m.image = "", nil

	id, err := w.api.CreateCaptcha(ctx)
	if err != nil {
		return w.retry(ctx, m, "create captcha", err)
	}
	image, err := w.api.CaptchaImage(ctx, id)
	if err != nil {
		return w.retry(ctx, m, "captcha image", err)
	}
	m.captchaID, m.image = id, image
	return Verifying
}

func (w *Workflow) stepVerify(ctx context.Context, m *machine, password string) State {
	guess := w.solver.Solve(ctx, m.image)
	w.logger.Debug("captcha guess", "attempt", m.attempt, "captcha_id", m.captchaID, "guess", guess)

	res, err := w.api.SubmitPassword(ctx, password, m.captchaID, guess)
	if err != nil {
		w.saveImage(m, "network_error")
		return w.retry(ctx, m, "login", err)
	}
	m.lastCode, m.lastMsg = res.Code, res.Message

	switch res.Outcome {
	case showdoc.LoginOK:
		cookie := w.api.SessionCookie()
		if cookie == "" {
			m.failure = &showdoc.AuthError{Op: "login", Message: "server accepted the password but set no session cookie", Attempts: m.attempt, MaxAttempts: w.maxAttempts}
			return Failed
		}
		m.session = session.New(w.api.Target().SiteKey(), cookie, session.SourceLogin, w.now(), w.ttl)
		w.persist(ctx, m.session)
		w.logger.Info("login succeeded", "attempt", m.attempt)
		return Authenticated

	case showdoc.LoginCaptchaMismatch:
		w.saveImage(m, "captcha_mismatch")
		w.logger.Info("captcha rejected", "attempt", m.attempt, "max_attempts", w.maxAttempts, "guess", guess)
		m.lastErr = nil
		return CaptchaPending

	case showdoc.LoginWrongPassword:
		w.saveImage(m, "wrong_password")
		msg := res.Message
		if msg == "" {
			msg = "wrong password"
		}
		m.failure = &showdoc.AuthError{Op: "login", Code: res.Code, Message: msg, Attempts: m.attempt, MaxAttempts: w.maxAttempts}
		return Failed

	default:
		// Unknown answers cost an attempt like a mismatch; only the password
		// codes end the login early.
		w.saveImage(m, "rejected")
		w.logger.Warn("login rejected, retrying", "attempt", m.attempt, "max_attempts", w.maxAttempts, "code", res.Code, "message", res.Message)
		m.lastErr = nil
		return CaptchaPending
	}
}

// retry records a recoverable failure and goes back for a new captcha.
// Cancellation is not recoverable.
func (w *Workflow) retry(ctx context.Context, m *machine, op string, err error) State {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		m.failure = err
		return Failed
	}
	w.logger.Warn("login step failed, retrying", "op", op, "attempt", m.attempt, "max_attempts", w.maxAttempts, "error", err)
	m.lastErr = fmt.Errorf("%s: %w", op, err)
	return CaptchaPending
}

func (w *Workflow) exhaustedMessage(m *machine) string {
	if m.lastErr == nil && m.lastMsg != "" {
		return "login attempts exhausted, last answer: " + m.lastMsg
	}
	return "login attempts exhausted"
}

func (w *Workflow) persist(ctx context.Context, s *session.Session) {
	if w.store == nil {
		return
	}
	if err := w.store.Save(ctx, s); err != nil {
		w.logger.Warn("could not store session", "site", s.SiteKey, "error", err)
	}
}

func (w *Workflow) saveImage(m *machine, reason string) {
	if len(m.image) == 0 {
		return
	}
	path, err := w.debug.Save(m.image, m.attempt, reason, m.captchaID)
	if err != nil {
		w.logger.Warn("could not save captcha image", "error", err)
		return
	}
	if path != "" {
		w.logger.Debug("captcha image saved", "path", path, "reason", reason)
	}
}
