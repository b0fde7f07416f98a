package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/0x6d61/docleech/internal/auth"
	"github.com/0x6d61/docleech/internal/captcha"
	"github.com/0x6d61/docleech/internal/config"
	"github.com/0x6d61/docleech/internal/engine"
	"github.com/0x6d61/docleech/internal/session"
	"github.com/0x6d61/docleech/internal/showdoc"
	"github.com/0x6d61/docleech/internal/transport"
)

// newSolver builds the captcha solver for a run. Tests swap it out.
var newSolver = func(cfg *config.Config, logger *slog.Logger) captcha.Solver {
	return &captcha.CommandSolver{
		Command: cfg.CaptchaCommand,
		Args:    cfg.CaptchaArgs,
		Logger:  logger,
	}
}

// app is everything a command needs to talk to one ShowDoc item.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	verbose int
	stderr  io.Writer

	target showdoc.Target
	creds  auth.Credentials
	store  session.Store // nil with --no-cache
	runner *engine.Runner
}

// newApp loads the configuration, applies the command line on top of it
// and wires the runner for the target URL.
func newApp(cmd *cobra.Command) (*app, error) {
	flags := cmd.Flags()

	// ------------------------------------------------------------------ //
	// 1. Configuration: defaults < file < .env/environment < flags
	// ------------------------------------------------------------------ //
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	targetURL, _ := flags.GetString("url")
	if targetURL == "" {
		return nil, fmt.Errorf("ShowDoc URL is required (use --url or -u)")
	}
	target, err := showdoc.ParseURL(targetURL)
	if err != nil {
		return nil, err
	}

	verbose, _ := flags.GetInt("verbose")
	a := &app{
		cfg:     cfg,
		logger:  newLogger(cmd.ErrOrStderr(), verbose),
		verbose: verbose,
		stderr:  cmd.ErrOrStderr(),
		target:  target,
		creds:   auth.Credentials{Cookie: cfg.Cookie, Password: cfg.Password},
	}

	// ------------------------------------------------------------------ //
	// 2. Session cache
	// ------------------------------------------------------------------ //
	if noCache, _ := flags.GetBool("no-cache"); !noCache {
		store, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	// ------------------------------------------------------------------ //
	// 3. Transport client
	// ------------------------------------------------------------------ //
	randomAgent, _ := flags.GetBool("random-agent")
	client, err := transport.NewClient(transport.ClientOptions{
		Timeout:         cfg.Timeout,
		ProxyURL:        cfg.Proxy,
		FollowRedirects: true,
		UserAgent:       cfg.UserAgent,
		RandomUserAgent: randomAgent,
		MaxRPS:          cfg.RateLimit,
		MaxRetries:      cfg.HTTPRetries,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	// ------------------------------------------------------------------ //
	// 4. Runner
	// ------------------------------------------------------------------ //
	ec := engine.DefaultConfig()
	ec.Concurrency = cfg.Concurrency
	ec.MaxAttempts = cfg.MaxAttempts
	ec.SessionTTL = cfg.SessionTTL
	if tolerant, _ := flags.GetBool("tolerant"); tolerant {
		ec.PageErrorPolicy = showdoc.Tolerant
	}

	opts := []engine.RunnerOption{
		engine.WithLogger(a.logger),
		engine.WithSolver(newSolver(cfg, a.logger)),
		engine.WithDebugDir(captcha.NewDebugDir(cfg.CaptchaDebugDir)),
	}
	if a.store != nil {
		opts = append(opts, engine.WithStore(a.store))
	}
	a.runner = engine.NewRunner(client, target, ec, opts...)
	a.runner.SetProgressCallback(func(msg string) {
		a.progress("%s", msg)
	})
	return a, nil
}

// loadConfig reads the config file named by --config and lets every flag
// the user actually set win over it.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	str := func(name string, dst *string) {
		if changed(flags, name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if changed(flags, name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	str("cookie", &cfg.Cookie)
	str("password", &cfg.Password)
	str("proxy", &cfg.Proxy)
	str("user-agent", &cfg.UserAgent)
	str("session-file", &cfg.SessionFile)
	str("session-backend", &cfg.SessionBackend)
	str("captcha-command", &cfg.CaptchaCommand)
	str("captcha-debug-dir", &cfg.CaptchaDebugDir)
	num("retries", &cfg.HTTPRetries)
	num("max-attempts", &cfg.MaxAttempts)
	num("concurrency", &cfg.Concurrency)
	if changed(flags, "timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if changed(flags, "rate-limit") {
		cfg.RateLimit, _ = flags.GetFloat64("rate-limit")
	}

	// A sqlite backend picked on the command line keeps the default file
	// name but not its extension.
	if cfg.SessionBackend == config.BackendSQLite && !changed(flags, "session-file") &&
		filepath.Ext(cfg.SessionFile) == ".json" {
		cfg.SessionFile = strings.TrimSuffix(cfg.SessionFile, ".json") + ".db"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// changed reports whether the flag exists on this command and was set.
func changed(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// newLogger maps -v to a level: 0 errors only, 1 warnings, 2 info, 3 debug.
func newLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelError
	switch {
	case verbose >= 3:
		level = slog.LevelDebug
	case verbose == 2:
		level = slog.LevelInfo
	case verbose == 1:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens the configured session cache, creating its directory.
func openStore(cfg *config.Config) (session.Store, error) {
	if dir := filepath.Dir(cfg.SessionFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session directory %q: %w", dir, err)
		}
	}
	switch cfg.SessionBackend {
	case config.BackendSQLite:
		s, err := session.NewSQLiteStore(cfg.SessionFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open session file %q: %w", cfg.SessionFile, err)
		}
		return s, nil
	default:
		return session.NewFileStore(cfg.SessionFile), nil
	}
}

func (a *app) progress(format string, args ...any) {
	fmt.Fprintf(a.stderr, "[*] "+format+"\n", args...)
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing session store", "error", err)
		}
	}
}

// commandContext is cancelled by CTRL+C.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt)
}
