package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/0x6d61/docleech/internal/auth"
	"github.com/0x6d61/docleech/internal/captcha"
	"github.com/0x6d61/docleech/internal/engine"
	"github.com/0x6d61/docleech/internal/report"
	"github.com/0x6d61/docleech/internal/session"
	"github.com/0x6d61/docleech/internal/showdoc"
	"github.com/0x6d61/docleech/internal/transport"
)

// --------------------------------------------------------------------------
// Helpers: the real transport client, session store and runner wired
// against the fake server.
// --------------------------------------------------------------------------

func newTestClient(t *testing.T) *transport.DefaultClient {
	t.Helper()
	client, err := transport.NewClient(transport.ClientOptions{
		Timeout:         5 * time.Second,
		FollowRedirects: true,
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create transport client: %v", err)
	}
	return client
}

func newTestRunner(t *testing.T, srv *ShowDocServer, rawURL string, cfg *engine.Config) (*engine.Runner, *session.FileStore) {
	t.Helper()
	target, err := showdoc.ParseURL(rawURL)
	if err != nil {
		t.Fatalf("ParseURL(%q): %v", rawURL, err)
	}
	store := session.NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))
	solver := captcha.SolverFunc(func(ctx context.Context, image []byte) string {
		return captcha.Normalize(" Ab-12 \n", "")
	})
	r := engine.NewRunner(newTestClient(t), target, cfg,
		engine.WithStore(store),
		engine.WithSolver(solver),
		engine.WithDebugDir(captcha.NewDebugDir(filepath.Join(t.TempDir(), "captcha"))),
	)
	return r, store
}

var password = auth.Credentials{Password: "123456"}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestIntegration_FetchReportSnapshot(t *testing.T) {
	srv := NewShowDocServer(SampleConfig())
	defer srv.Close()

	r, _ := newTestRunner(t, srv, srv.ItemURL(), nil)
	ctx := context.Background()

	result, err := r.Run(ctx, password, showdoc.Query{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if err := result.Tree.Validate(); err != nil {
		t.Fatalf("fetched tree is invalid: %v", err)
	}

	// Assert: the JSON report carries the whole tree
	reporter, err := report.New("json")
	if err != nil {
		t.Fatalf("failed to create JSON reporter: %v", err)
	}
	var buf bytes.Buffer
	if err := reporter.Generate(ctx, result, &buf); err != nil {
		t.Fatalf("failed to generate JSON report: %v", err)
	}
	var jsonData map[string]any
	if err := json.Unmarshal(buf.Bytes(), &jsonData); err != nil {
		t.Fatalf("report output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if tool, ok := jsonData["tool"]; !ok || tool != "docleech" {
		t.Errorf("JSON report tool = %v, want 'docleech'", jsonData["tool"])
	}
	if !strings.Contains(buf.String(), "{{host}}/api/order/refund") {
		t.Error("JSON report is missing an API url")
	}

	// Assert: the snapshot reads back to the same tree
	path := report.AutoSnapshotPath(t.TempDir(), result.Tree.ItemInfo, time.Now())
	abs, err := report.WriteSnapshot(path, result.Tree)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	back, err := report.ReadSnapshot(abs)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if !reflect.DeepEqual(back, result.Tree) {
		t.Error("snapshot round trip changed the tree")
	}
}

func TestIntegration_NoisyJSON(t *testing.T) {
	cfg := SampleConfig()
	cfg.NoisyJSON = true
	srv := NewShowDocServer(cfg)
	defer srv.Close()

	r, _ := newTestRunner(t, srv, srv.ItemURL(), nil)
	result, err := r.Run(context.Background(), password, showdoc.Query{NodeName: "用户"})
	if err != nil {
		t.Fatalf("Run with PHP notices in the answers: %v", err)
	}
	if st := result.Tree.Stats(); st.Pages != 2 || st.APIPages != 2 {
		t.Errorf("stats = %+v, want 2 API pages", st)
	}
}

func TestIntegration_RetriedLogin(t *testing.T) {
	cfg := SampleConfig()
	cfg.FailLogins = 1
	srv := NewShowDocServer(cfg)
	defer srv.Close()

	// The transport retries the 503 on its own, inside one login attempt.
	r, _ := newTestRunner(t, srv, srv.ItemURL(), nil)
	result, err := r.Run(context.Background(), password, showdoc.Query{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if c := srv.Counts(); c.Logins != 2 {
		t.Errorf("login requests = %d, want 2", c.Logins)
	}
}

func TestIntegration_TolerantPages(t *testing.T) {
	cfg := SampleConfig()
	cfg.FailPages = map[string]bool{"302": true}
	srv := NewShowDocServer(cfg)
	defer srv.Close()

	ec := engine.DefaultConfig()
	ec.PageErrorPolicy = showdoc.Tolerant
	ec.Concurrency = 3
	r, _ := newTestRunner(t, srv, srv.ItemURL(), ec)

	result, err := r.Run(context.Background(), password, showdoc.Query{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	failed := showdoc.FindPage(result.Tree, "302")
	if failed == nil || failed.FetchError == "" {
		t.Fatalf("page 302 = %+v, want a recorded failure", failed)
	}
	if st := result.Tree.Stats(); st.Failed != 1 || st.APIPages != 3 {
		t.Errorf("stats = %+v", st)
	}

	var buf bytes.Buffer
	if err := (&report.TextReporter{}).Generate(context.Background(), result, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[failed] 申请退款") {
		t.Errorf("text report does not flag the failed page:\n%s", buf.String())
	}
}

func TestIntegration_PageURLScope(t *testing.T) {
	srv := NewShowDocServer(SampleConfig())
	defer srv.Close()

	// A page link narrows the fetch to the page's category.
	r, _ := newTestRunner(t, srv, srv.PageURL("302"), nil)
	result, err := r.Run(context.Background(), password, showdoc.Query{PageID: r.Target().PageID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Tree.Categories) != 1 || result.Tree.Categories[0].CatName != "退款" {
		t.Fatalf("categories = %+v, want only 退款", result.Tree.Categories)
	}
	if n := srv.Counts().PageInfo; n != 2 {
		t.Errorf("page fetches = %d, want 2", n)
	}
}

func TestIntegration_ContextCancellation(t *testing.T) {
	srv := NewShowDocServer(SampleConfig())
	defer srv.Close()

	r, _ := newTestRunner(t, srv, srv.ItemURL(), nil)

	// Create context with immediate cancel
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := r.Run(ctx, password, showdoc.Query{})
	elapsed := time.Since(start)

	if elapsed > 5*time.Second {
		t.Errorf("cancelled run took too long: %v", elapsed)
	}
	if err == nil {
		t.Error("expected error from cancelled context, got nil")
	}
	if c := srv.Counts(); c.Homepage+c.CaptchaCreated+c.ItemInfo != 0 {
		t.Errorf("cancelled run reached the server: %+v", c)
	}
}
