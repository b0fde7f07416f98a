// Package engine provides the fetch pipeline: authenticate, fetch the
// document tree, narrow it to the caller's scope.
package engine

import (
	"time"

	"github.com/0x6d61/docleech/internal/auth"
	"github.com/0x6d61/docleech/internal/session"
	"github.com/0x6d61/docleech/internal/showdoc"
)

// Config holds configuration for a run.
type Config struct {
	Concurrency     int                     // page fetches in flight (default 1)
	PageErrorPolicy showdoc.PageErrorPolicy // FailFast unless set
	MaxAttempts     int                     // captcha login budget (default 5)
	SessionTTL      time.Duration           // lifetime of stored sessions (default 24h)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:     1,
		PageErrorPolicy: showdoc.FailFast,
		MaxAttempts:     auth.DefaultMaxAttempts,
		SessionTTL:      session.DefaultTTL,
	}
}

// Result holds the outcome of a run.
type Result struct {
	Target showdoc.Target
	Tree   *showdoc.ApiTree

	// SessionSource tells where the session that served the fetch came
	// from: a supplied cookie, the cache or a captcha login.
	SessionSource session.Source

	// Attempts counts captcha logins over the whole run.
	Attempts int

	// Reauthenticated is set when a reused session was rejected and a
	// fresh login served the fetch.
	Reauthenticated bool

	StartTime    time.Time
	EndTime      time.Time
	RequestCount int64
}

// Duration returns how long the run took.
func (r *Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// PageResult is one page fetched on its own.
type PageResult struct {
	Page *showdoc.Page

	// Content is the decoded page content, nil for non-JSON pages.
	Content map[string]any

	SessionSource session.Source
}
