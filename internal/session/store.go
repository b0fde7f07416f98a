// Package session persists ShowDoc session cookies between runs, keyed by
// site (server base and item id), with an expiry enforced on read.
package session

import (
	"context"
	"time"
)

// DefaultTTL is how long a stored cookie is trusted.
const DefaultTTL = 24 * time.Hour

// Source tells where the session used by a run came from.
type Source string

const (
	SourceCookie Source = "cookie" // supplied by the caller
	SourceCache  Source = "cache"  // loaded from a Store
	SourceLogin  Source = "login"  // obtained through the captcha login
)

// Session is an authentication cookie with its lifetime.
type Session struct {
	SiteKey    string    `json:"site_key"`
	Cookie     string    `json:"cookie"`
	ObtainedAt time.Time `json:"obtained_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	// Source is reported to callers and never persisted.
	Source Source `json:"-"`
}

// New creates a session obtained at now that lives for ttl. A ttl of zero
// or less means DefaultTTL.
func New(siteKey, cookie string, source Source, now time.Time, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Session{
		SiteKey:    siteKey,
		Cookie:     cookie,
		ObtainedAt: now,
		ExpiresAt:  now.Add(ttl),
		Source:     source,
	}
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Valid reports whether the session holds a cookie and has not expired.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Cookie != "" && !s.Expired(now)
}

// Summary describes a stored session without its cookie.
type Summary struct {
	SiteKey    string    `json:"site_key"`
	ObtainedAt time.Time `json:"obtained_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Expired    bool      `json:"expired"`
}

// Store persists sessions. Load returns (nil, nil) when no usable session
// exists: missing, corrupt or expired records all count as absent.
type Store interface {
	Load(ctx context.Context, siteKey string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, siteKey string) error
	List(ctx context.Context) ([]*Summary, error)
	Clear(ctx context.Context) error
	Prune(ctx context.Context) (int64, error)
	Close() error
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// parseTime accepts RFC 3339 and the SQLite CURRENT_TIMESTAMP format.
func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", v)
	}
	return t, err
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
