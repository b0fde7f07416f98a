package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/0x6d61/docleech/internal/engine"
)

func TestTextReporter_Generate(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TextReporter{}).Generate(context.Background(), newTestResult(), &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"docleech - ShowDoc API Tree",
		"Item:     商城接口 (90)",
		"Source:   https://doc.example.com/web/#/90/",
		"Session:  login, 2 login attempt(s)",
		"Duration: 3.5s",
		"Requests: 9",
		"根目录",
		"订单",
		"退款",
		"[doc] 说明",
		"[POST] 下单",
		"{{host}}/api/order/create",
		"[failed] 退款规则",
		"Summary: 3 categories, 3 pages, 1 API pages, 1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "/web/#/90/301") {
		t.Error("page links shown at verbose 0")
	}
}

func TestTextReporter_Nesting(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TextReporter{}).Generate(context.Background(), newTestResult(), &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	// 退款 is drawn below 订单 and indented further.
	order := strings.Index(out, "订单")
	refund := strings.Index(out, "退款")
	if order < 0 || refund < order {
		t.Fatalf("unexpected order of categories:\n%s", out)
	}
	col := func(s string) int {
		for _, line := range strings.Split(out, "\n") {
			if i := strings.Index(line, s); i >= 0 {
				return len([]rune(line[:i]))
			}
		}
		return -1
	}
	if col("退款") <= col("订单") {
		t.Errorf("child category not indented:\n%s", out)
	}
}

func TestTextReporter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TextReporter{Verbose: 2}).Generate(context.Background(), newTestResult(), &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"https://doc.example.com/web/#/90/301", "#301", "#12"} {
		if !strings.Contains(out, want) {
			t.Errorf("verbose output missing %q\n%s", want, out)
		}
	}
}

func TestTextReporter_Empty(t *testing.T) {
	res := newTestResult()
	res.Tree.Categories = nil
	res.Reauthenticated = true

	var buf bytes.Buffer
	if err := (&TextReporter{}).Generate(context.Background(), res, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "No categories found.") {
		t.Errorf("missing empty notice\n%s", out)
	}
	if !strings.Contains(out, "re-authenticated") {
		t.Errorf("missing re-authentication note\n%s", out)
	}
}

func TestTextReporter_NilTree(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TextReporter{}).Generate(context.Background(), &engine.Result{}, &buf); err != nil {
		t.Fatalf("Generate with nil tree: %v", err)
	}
}
