package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore keeps all sessions in one JSON file. Every write replaces the
// file through a temporary file and a rename, so readers never see a
// partial document.
type FileStore struct {
	path string
	opts options
	mu   sync.Mutex
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// fileRecord is the on-disk form of one session.
type fileRecord struct {
	Cookie     string `json:"cookie"`
	ObtainedAt string `json:"obtained_at"`
	ExpiresAt  string `json:"expires_at"`
}

// NewFileStore returns a store backed by path. The file and its directory
// are created on the first Save.
func NewFileStore(path string, opts ...Option) *FileStore {
	return &FileStore{path: path, opts: buildOptions(opts)}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Load returns the unexpired session for siteKey. Expired records are
// dropped from the file.
func (s *FileStore) Load(ctx context.Context, siteKey string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	rec, ok := records[siteKey]
	if !ok {
		return nil, nil
	}
	sess, ok := rec.session(siteKey)
	if !ok || !sess.Valid(s.opts.now()) {
		delete(records, siteKey)
		if err := s.write(records); err != nil {
			return nil, err
		}
		return nil, nil
	}
	sess.Source = SourceCache
	return sess, nil
}

// Save stores sess, replacing any record for the same site.
func (s *FileStore) Save(ctx context.Context, sess *Session) error {
	if sess.SiteKey == "" {
		return fmt.Errorf("session: save: empty site key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	records[sess.SiteKey] = fileRecord{
		Cookie:     sess.Cookie,
		ObtainedAt: sess.ObtainedAt.Format(time.RFC3339Nano),
		ExpiresAt:  sess.ExpiresAt.Format(time.RFC3339Nano),
	}
	return s.write(records)
}

// Delete removes the record for siteKey, if any.
func (s *FileStore) Delete(ctx context.Context, siteKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := records[siteKey]; !ok {
		return nil
	}
	delete(records, siteKey)
	return s.write(records)
}

// List returns every readable record sorted by site key.
func (s *FileStore) List(ctx context.Context) ([]*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	summaries := make([]*Summary, 0, len(records))
	for key, rec := range records {
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
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].SiteKey < summaries[j].SiteKey })
	return summaries, nil
}

// Clear removes the backing file.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// Prune drops expired and unreadable records and returns how many went.
func (s *FileStore) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return 0, err
	}
	now := s.opts.now()
	var n int64
	for key, rec := range records {
		if sess, ok := rec.session(key); !ok || sess.Expired(now) {
			delete(records, key)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.write(records)
}

// Close is a no-op; the file is not held open.
func (s *FileStore) Close() error { return nil }

// read loads the file. A missing or corrupt file is an empty store.
func (s *FileStore) read() (map[string]fileRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]fileRecord), nil
		}
		return nil, fmt.Errorf("session: read %s: %w", s.path, err)
	}
	records := make(map[string]fileRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return make(map[string]fileRecord), nil
	}
	return records, nil
}

// write replaces the file atomically: temp file in the same directory,
// fsync, rename.
func (s *FileStore) write(records map[string]fileRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", s.path, err)
	}
	return nil
}

func (r fileRecord) session(siteKey string) (*Session, bool) {
	if r.Cookie == "" {
		return nil, false
	}
	obtained, err := parseTime(r.ObtainedAt)
	if err != nil {
		return nil, false
	}
	expires, err := parseTime(r.ExpiresAt)
	if err != nil {
		return nil, false
	}
	return &Session{SiteKey: siteKey, Cookie: r.Cookie, ObtainedAt: obtained, ExpiresAt: expires}, true
}

// WriteFileAtomic writes data to path via a temporary file and a rename,
// creating parent directories as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
