package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sortableTime is fixed width so that stored timestamps compare as strings.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store.
// dbPath is the path to the SQLite database file; use ":memory:" for testing.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}
	// A :memory: database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			site_key    TEXT NOT NULL UNIQUE,
			cookie      TEXT NOT NULL,
			obtained_at TEXT NOT NULL,
			expires_at  TEXT NOT NULL,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create table: %w", err)
	}

	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

// Save upserts sess by site key. New rows get a UUID primary key.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if sess.SiteKey == "" {
		return fmt.Errorf("session: save: empty site key")
	}

	query := `
		INSERT INTO sessions (id, site_key, cookie, obtained_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_key) DO UPDATE SET
			cookie      = excluded.cookie,
			obtained_at = excluded.obtained_at,
			expires_at  = excluded.expires_at,
			updated_at  = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		sess.SiteKey,
		sess.Cookie,
		sess.ObtainedAt.UTC().Format(sortableTime),
		sess.ExpiresAt.UTC().Format(sortableTime),
		s.opts.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("session: save session: %w", err)
	}
	return nil
}

// Load retrieves the session for siteKey. Expired or unreadable rows are
// deleted and reported as absent.
func (s *SQLiteStore) Load(ctx context.Context, siteKey string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cookie, obtained_at, expires_at FROM sessions WHERE site_key = ?`, siteKey)

	var rec fileRecord
	if err := row.Scan(&rec.Cookie, &rec.ObtainedAt, &rec.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("session: scan row: %w", err)
	}

	sess, ok := rec.session(siteKey)
	if !ok || !sess.Valid(s.opts.now()) {
		if err := s.Delete(ctx, siteKey); err != nil {
			return nil, err
		}
		return nil, nil
	}
	sess.Source = SourceCache
	return sess, nil
}

// List returns a summary of every stored session ordered by site key.
func (s *SQLiteStore) List(ctx context.Context) ([]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_key, cookie, obtained_at, expires_at FROM sessions ORDER BY site_key`)
	if err != nil {
		return nil, fmt.Errorf("session: list sessions: %w", err)
	}
	defer rows.Close()

	now := s.opts.now()
	summaries := []*Summary{}
	for rows.Next() {
		var (
			key string
			rec fileRecord
		)
		if err := rows.Scan(&key, &rec.Cookie, &rec.ObtainedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("session: scan summary row: %w", err)
		}
		sess, ok := rec.session(key)
		if !ok {
			continue
		}
		summaries = append(summaries, &Summary{
			SiteKey:    key,
			ObtainedAt: sess.ObtainedAt,
			ExpiresAt:  sess.ExpiresAt,
			Expired:    sess.Expired(now),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: iterate rows: %w", err)
	}
	return summaries, nil
}

// Delete removes the session for siteKey.
func (s *SQLiteStore) Delete(ctx context.Context, siteKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE site_key = ?`, siteKey); err != nil {
		return fmt.Errorf("session: delete session: %w", err)
	}
	return nil
}

// Clear removes every session.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("session: clear sessions: %w", err)
	}
	return nil
}

// Prune removes sessions whose expires_at has passed.
// It returns the number of deleted sessions.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	cutoff := s.opts.now().UTC().Format(sortableTime)

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: prune sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: rows affected: %w", err)
	}
	return deleted, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
