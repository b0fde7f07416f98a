package showdoc

import "testing"

func countPages(c *Category) int {
	n := len(c.Pages)
	for _, child := range c.Children {
		n += countPages(child)
	}
	return n
}

func TestIsAllNodes(t *testing.T) {
	for _, name := range []string{"", "  ", "all", "ALL", "All", "全部", " 全部 "} {
		if !IsAllNodes(name) {
			t.Errorf("IsAllNodes(%q) = false", name)
		}
	}
	for _, name := range []string{"用户", "allx", "全"} {
		if IsAllNodes(name) {
			t.Errorf("IsAllNodes(%q) = true", name)
		}
	}
}

func TestFilter_AllReturnsTree(t *testing.T) {
	tree := sampleTree()
	for _, name := range []string{"", "all", "全部"} {
		got, err := Filter(tree, name)
		if err != nil {
			t.Fatalf("Filter(%q) error: %v", name, err)
		}
		if got != tree {
			t.Errorf("Filter(%q) should return the tree unchanged", name)
		}
	}
}

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		node      string
		wantID    string
		wantPages int
	}{
		{"用户", "11", 2},
		{"订单", "12", 3},
		{"退款", "13", 2},
		{" 退款 ", "13", 2},
		{RootCategoryName, "0", 1},
	}
	for _, tt := range tests {
		t.Run(tt.node, func(t *testing.T) {
			tree := sampleTree()
			got, err := Filter(tree, tt.node)
			if err != nil {
				t.Fatalf("Filter error: %v", err)
			}
			if len(got.Categories) != 1 {
				t.Fatalf("got %d roots, want 1", len(got.Categories))
			}
			root := got.Categories[0]
			if root.CatID != tt.wantID {
				t.Errorf("root cat_id = %s, want %s", root.CatID, tt.wantID)
			}
			if n := countPages(root); n != tt.wantPages {
				t.Errorf("pages = %d, want %d", n, tt.wantPages)
			}
			if got.ItemInfo != tree.ItemInfo {
				t.Error("item info not carried over")
			}
			if err := got.Validate(); err != nil {
				t.Errorf("filtered tree invalid: %v", err)
			}
		})
	}
}

func TestFilter_DoesNotAliasSource(t *testing.T) {
	tree := sampleTree()
	got, err := Filter(tree, "订单")
	if err != nil {
		t.Fatal(err)
	}
	got.Categories[0].Children[0].Pages[0].PageTitle = "changed"
	if tree.Categories[2].Children[0].Pages[0].PageTitle == "changed" {
		t.Error("filtered tree shares pages with the source tree")
	}
}

func TestFilter_FirstMatchWins(t *testing.T) {
	tree := sampleTree()
	tree.Categories[2].Children[0].CatName = "用户"
	got, err := Filter(tree, "用户")
	if err != nil {
		t.Fatal(err)
	}
	if got.Categories[0].CatID != "11" {
		t.Errorf("matched %s, want the first category in depth-first order (11)", got.Categories[0].CatID)
	}
}

func TestFilter_NotFound(t *testing.T) {
	_, err := Filter(sampleTree(), "支付")
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
	if Kind(err) != "not_found" {
		t.Errorf("Kind = %s", Kind(err))
	}
}

func TestFilterByPage(t *testing.T) {
	got, err := FilterByPage(sampleTree(), "302")
	if err != nil {
		t.Fatalf("FilterByPage error: %v", err)
	}
	if got.Categories[0].CatID != "13" {
		t.Errorf("root = %s, want 13", got.Categories[0].CatID)
	}

	if _, err := FilterByPage(sampleTree(), "999"); !IsNotFound(err) {
		t.Errorf("missing page error = %v, want *NotFoundError", err)
	}
}

func TestFindPage(t *testing.T) {
	tree := sampleTree()
	if p := FindPage(tree, "303"); p == nil || p.PageTitle != "退款规则" {
		t.Errorf("FindPage(303) = %+v", p)
	}
	if p := FindPage(tree, "999"); p != nil {
		t.Errorf("FindPage(999) = %+v, want nil", p)
	}
}
