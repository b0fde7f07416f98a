package session

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) returned error: %v", err)
	}
	defer store.Close()

	if store == nil {
		t.Fatal("NewSQLiteStore(:memory:) returned nil store")
	}
	if store.db == nil {
		t.Fatal("NewSQLiteStore(:memory:) db field is nil")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()
	clock := newFakeClock()

	store, err := NewSQLiteStore(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.Save(ctx, New("https://doc.example.com#90", "PHPSESSID=a", SourceLogin, clock.Now(), 0)); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx, "https://doc.example.com#90")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got == nil || got.Cookie != "PHPSESSID=a" {
		t.Fatalf("Load after reopen = %+v", got)
	}
}

func TestSQLiteStore_UpsertKeepsOneRow(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	clock := newFakeClock()

	for _, cookie := range []string{"PHPSESSID=1", "PHPSESSID=2", "PHPSESSID=3"} {
		if err := store.Save(ctx, New("k", cookie, SourceLogin, clock.Now(), 0)); err != nil {
			t.Fatalf("Save(%s): %v", cookie, err)
		}
	}

	var n int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}
