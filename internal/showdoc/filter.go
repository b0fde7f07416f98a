package showdoc

import "strings"

// IsAllNodes reports whether name selects the whole tree: empty, "all"
// (any case) or "全部".
func IsAllNodes(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, "all") || name == "全部"
}

// Filter returns the subtree rooted at the first category, in depth-first
// order, whose name equals nodeName exactly. The match becomes the single
// root category of a new tree; tree itself is not modified. The "all"
// sentinels return tree unchanged.
func Filter(tree *ApiTree, nodeName string) (*ApiTree, error) {
	if IsAllNodes(nodeName) {
		return tree, nil
	}
	nodeName = strings.TrimSpace(nodeName)

	var match *Category
	_ = Walk(tree, func(n Node) error {
		if n.Kind == NodeCategory && n.Category.CatName == nodeName {
			match = n.Category
			return errStop
		}
		return nil
	})
	if match == nil {
		return nil, &NotFoundError{Kind: "node", Name: nodeName}
	}
	return &ApiTree{ItemInfo: tree.ItemInfo, Categories: []*Category{match.Clone()}}, nil
}

// FilterByPage returns the subtree rooted at the category that directly
// holds pageID.
func FilterByPage(tree *ApiTree, pageID string) (*ApiTree, error) {
	var match *Category
	_ = Walk(tree, func(n Node) error {
		if n.Kind == NodePage && n.Page.PageID == pageID {
			match = n.Category
			return errStop
		}
		return nil
	})
	if match == nil {
		return nil, &NotFoundError{Kind: "page", Name: pageID}
	}
	return &ApiTree{ItemInfo: tree.ItemInfo, Categories: []*Category{match.Clone()}}, nil
}

// FindPage returns the page with pageID, or nil.
func FindPage(tree *ApiTree, pageID string) *Page {
	var found *Page
	_ = Walk(tree, func(n Node) error {
		if n.Kind == NodePage && n.Page.PageID == pageID {
			found = n.Page
			return errStop
		}
		return nil
	})
	return found
}
