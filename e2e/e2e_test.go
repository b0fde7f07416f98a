//go:build e2e

// Package e2e contains end-to-end tests against a real ShowDoc instance
// with a password-protected item and tesseract on the PATH.
//
// Run with:
//
//	DOCLEECH_E2E_URL=https://doc.example.com/web/#/90/ \
//	DOCLEECH_E2E_PASSWORD=123456 \
//	go test -v -tags e2e -count=1 -timeout 300s ./e2e/...
package e2e_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0x6d61/docleech/internal/auth"
	"github.com/0x6d61/docleech/internal/captcha"
	"github.com/0x6d61/docleech/internal/engine"
	"github.com/0x6d61/docleech/internal/session"
	"github.com/0x6d61/docleech/internal/showdoc"
	"github.com/0x6d61/docleech/internal/transport"
)

// e2eTarget returns the item under test.
// If it is not configured or unreachable, the test is skipped.
func e2eTarget(t *testing.T) showdoc.Target {
	t.Helper()
	raw := os.Getenv("DOCLEECH_E2E_URL")
	if raw == "" {
		t.Skip("DOCLEECH_E2E_URL not set")
	}
	target, err := showdoc.ParseURL(raw)
	if err != nil {
		t.Fatalf("DOCLEECH_E2E_URL: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.ServerBase+"/web/", nil)
	if err != nil {
		t.Skipf("cannot build health-check request for %s: %v", target.ServerBase, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Skipf("ShowDoc not available at %s: %v", target.ServerBase, err)
	}
	resp.Body.Close()
	return target
}

func e2eCredentials() auth.Credentials {
	pw := os.Getenv("DOCLEECH_E2E_PASSWORD")
	if pw == "" {
		pw = "123456"
	}
	return auth.Credentials{Cookie: os.Getenv("DOCLEECH_E2E_COOKIE"), Password: pw}
}

// newE2ERunner wires a runner with the real OCR solver.
func newE2ERunner(t *testing.T, target showdoc.Target, store session.Store) *engine.Runner {
	t.Helper()
	client, err := transport.NewClient(transport.ClientOptions{
		Timeout:         30 * time.Second,
		FollowRedirects: true,
		MaxRetries:      2,
	})
	if err != nil {
		t.Fatalf("failed to create transport client: %v", err)
	}
	cfg := engine.DefaultConfig()
	cfg.Concurrency = 2
	return engine.NewRunner(client, target, cfg,
		engine.WithStore(store),
		engine.WithSolver(&captcha.CommandSolver{}),
		engine.WithDebugDir(captcha.NewDebugDir(filepath.Join(t.TempDir(), "captcha"))),
	)
}

func TestE2E_FetchAndReuseSession(t *testing.T) {
	target := e2eTarget(t)
	store := session.NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))
	ctx := context.Background()

	r := newE2ERunner(t, target, store)
	r.SetProgressCallback(func(msg string) { t.Log(msg) })

	first, err := r.Tree(ctx, e2eCredentials(), showdoc.Query{})
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if err := first.Tree.Validate(); err != nil {
		t.Fatalf("tree from the server is invalid: %v", err)
	}
	st := first.Tree.Stats()
	t.Logf("item %s: %d categories, %d pages (session %s, %d attempts)",
		first.Tree.ItemInfo.ItemName, st.Categories, st.Pages, first.SessionSource, first.Attempts)

	// The second run must not solve a captcha again.
	second, err := newE2ERunner(t, target, store).Tree(ctx, auth.Credentials{Password: e2eCredentials().Password}, showdoc.Query{})
	if err != nil {
		t.Fatalf("second Tree: %v", err)
	}
	if second.SessionSource != session.SourceCache || second.Attempts != 0 {
		t.Errorf("second run: source %s, %d attempts; want cache, 0", second.SessionSource, second.Attempts)
	}
}

func TestE2E_FetchOnePage(t *testing.T) {
	target := e2eTarget(t)
	if target.PageID == "" {
		t.Skip("DOCLEECH_E2E_URL has no page id")
	}
	store := session.NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))

	res, err := newE2ERunner(t, target, store).Page(context.Background(), e2eCredentials(), "")
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if res.Page.PageID != target.PageID {
		t.Errorf("page id = %q, want %q", res.Page.PageID, target.PageID)
	}
	t.Logf("page %q kind %s", res.Page.PageTitle, res.Page.Kind)
}
