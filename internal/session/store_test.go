package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backends runs every contract test against both stores.
func backends(t *testing.T, clock *fakeClock) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(":memory:", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "out", "sessions.json"), WithClock(clock.Now)),
		"sqlite": sqlite,
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestSession_Lifetime(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := New("k", "c=1", SourceLogin, now, 0)

	if !s.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, now.Add(DefaultTTL))
	}
	if !s.Valid(now.Add(23 * time.Hour)) {
		t.Error("session should be valid before its expiry")
	}
	if s.Valid(now.Add(DefaultTTL)) {
		t.Error("session should be expired exactly at its expiry")
	}

	var nilSession *Session
	if nilSession.Valid(now) {
		t.Error("nil session reported valid")
	}
	if New("k", "", SourceLogin, now, time.Hour).Valid(now) {
		t.Error("session without cookie reported valid")
	}
}

// ---------------------------------------------------------------------------
// Store contract
// ---------------------------------------------------------------------------

func TestStore_SaveAndLoad(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := store.Load(ctx, "https://doc.example.com#90")
			if err != nil || got != nil {
				t.Fatalf("Load on empty store = %+v, %v; want nil, nil", got, err)
			}

			want := New("https://doc.example.com#90", "PHPSESSID=abc; think_language=zh-CN", SourceLogin, clock.Now(), 2*time.Hour)
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save returned error: %v", err)
			}

			got, err = store.Load(ctx, want.SiteKey)
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if got == nil {
				t.Fatal("Load returned nil after Save")
			}
			if got.Cookie != want.Cookie {
				t.Errorf("Cookie = %q, want %q", got.Cookie, want.Cookie)
			}
			if !got.ObtainedAt.Equal(want.ObtainedAt) || !got.ExpiresAt.Equal(want.ExpiresAt) {
				t.Errorf("times = %v/%v, want %v/%v", got.ObtainedAt, got.ExpiresAt, want.ObtainedAt, want.ExpiresAt)
			}
			if got.Source != SourceCache {
				t.Errorf("Source = %q, want %q", got.Source, SourceCache)
			}

			other, err := store.Load(ctx, "https://doc.example.com#91")
			if err != nil || other != nil {
				t.Errorf("Load(other item) = %+v, %v", other, err)
			}
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = store.Save(ctx, New("k", "old", SourceLogin, clock.Now(), 0))
			_ = store.Save(ctx, New("k", "new", SourceLogin, clock.Now(), 0))

			got, err := store.Load(ctx, "k")
			if err != nil {
				t.Fatal(err)
			}
			if got == nil || got.Cookie != "new" {
				t.Errorf("Load = %+v, want cookie new", got)
			}
		})
	}
}

func TestStore_ExpiredIsAbsentAndDropped(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Save(ctx, New("k", "c", SourceLogin, clock.Now(), time.Hour)); err != nil {
				t.Fatal(err)
			}

			clock.Advance(2 * time.Hour)
			defer clock.Advance(-2 * time.Hour)

			got, err := store.Load(ctx, "k")
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if got != nil {
				t.Fatalf("expired session returned: %+v", got)
			}

			list, err := store.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Errorf("expired record still listed: %+v", list[0])
			}
		})
	}
}

func TestStore_DeleteListClear(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = store.Save(ctx, New("b", "2", SourceLogin, clock.Now(), time.Hour))
			_ = store.Save(ctx, New("a", "1", SourceLogin, clock.Now(), time.Hour))
			_ = store.Save(ctx, New("c", "3", SourceLogin, clock.Now().Add(-2*time.Hour), time.Hour))

			list, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List returned error: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("List returned %d sessions, want 3", len(list))
			}
			if list[0].SiteKey != "a" || list[1].SiteKey != "b" || list[2].SiteKey != "c" {
				t.Errorf("List order = %s, %s, %s", list[0].SiteKey, list[1].SiteKey, list[2].SiteKey)
			}
			if list[0].Expired || !list[2].Expired {
				t.Errorf("expired flags = %v, %v", list[0].Expired, list[2].Expired)
			}

			if err := store.Delete(ctx, "a"); err != nil {
				t.Fatalf("Delete returned error: %v", err)
			}
			if err := store.Delete(ctx, "missing"); err != nil {
				t.Errorf("Delete(missing) returned error: %v", err)
			}
			if got, _ := store.Load(ctx, "a"); got != nil {
				t.Error("deleted session still loads")
			}

			n, err := store.Prune(ctx)
			if err != nil {
				t.Fatalf("Prune returned error: %v", err)
			}
			if n != 1 {
				t.Errorf("Prune removed %d, want 1", n)
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear returned error: %v", err)
			}
			list, err = store.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Errorf("List after Clear returned %d sessions", len(list))
			}
		})
	}
}

func TestStore_SaveRequiresKey(t *testing.T) {
	clock := newFakeClock()
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			if err := store.Save(context.Background(), New("", "c", SourceLogin, clock.Now(), 0)); err == nil {
				t.Error("expected error for empty site key")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// FileStore specifics
// ---------------------------------------------------------------------------

func TestFileStore_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(path)
	ctx := context.Background()

	got, err := store.Load(ctx, "k")
	if err != nil || got != nil {
		t.Fatalf("Load on corrupt file = %+v, %v; want nil, nil", got, err)
	}

	if err := store.Save(ctx, New("k", "c", SourceLogin, time.Now(), 0)); err != nil {
		t.Fatalf("Save over corrupt file: %v", err)
	}
	if got, _ := store.Load(ctx, "k"); got == nil {
		t.Error("Save did not replace the corrupt file")
	}
}

func TestFileStore_CorruptRecordIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	data := `{"k": {"cookie": "c", "obtained_at": "yesterday", "expires_at": "tomorrow"}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := NewFileStore(path).Load(context.Background(), "k")
	if err != nil || got != nil {
		t.Errorf("Load = %+v, %v; want nil, nil", got, err)
	}
}

func TestFileStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	store := NewFileStore(path)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Save(ctx, New("k", "c", SourceLogin, time.Now(), 0)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestFileStore_ClearMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "none.json"))
	if err := store.Clear(context.Background()); err != nil {
		t.Errorf("Clear on missing file: %v", err)
	}
}
