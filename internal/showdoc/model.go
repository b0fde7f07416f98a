package showdoc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RootCategoryID and RootCategoryName label the synthetic category that
// holds pages attached directly to the item instead of a category.
const (
	RootCategoryID   = "0"
	RootCategoryName = "根目录"
)

// ItemInfo is the metadata of one documentation item.
type ItemInfo struct {
	ItemID        string `json:"item_id" yaml:"item_id"`
	ItemName      string `json:"item_name" yaml:"item_name"`
	ItemDomain    string `json:"item_domain,omitempty" yaml:"item_domain,omitempty"`
	IsArchived    bool   `json:"is_archived,omitempty" yaml:"is_archived,omitempty"`
	DefaultPageID string `json:"default_page_id,omitempty" yaml:"default_page_id,omitempty"`
}

// ApiDefinition is the interface description decoded from an API page.
type ApiDefinition struct {
	Method      string         `json:"method" yaml:"method"`
	URL         string         `json:"url" yaml:"url"`
	Title       string         `json:"title,omitempty" yaml:"title,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Request     map[string]any `json:"request,omitempty" yaml:"request,omitempty"`
	Response    map[string]any `json:"response,omitempty" yaml:"response,omitempty"`
}

// PageKind discriminates API pages from free-text documentation pages.
type PageKind string

const (
	PageAPI PageKind = "api"
	PageDoc PageKind = "doc"
)

// Page is a leaf document. API is non-nil exactly when Kind is PageAPI.
type Page struct {
	PageID         string         `json:"page_id" yaml:"page_id"`
	PageTitle      string         `json:"page_title" yaml:"page_title"`
	CatID          string         `json:"cat_id,omitempty" yaml:"cat_id,omitempty"`
	AuthorUsername string         `json:"author_username,omitempty" yaml:"author_username,omitempty"`
	Kind           PageKind       `json:"kind,omitempty" yaml:"kind,omitempty"`
	API            *ApiDefinition `json:"api_info" yaml:"api_info"`
	Link           string         `json:"link,omitempty" yaml:"link,omitempty"`

	// FetchError is set instead of aborting when the fetcher runs with
	// the Tolerant page error policy.
	FetchError string `json:"fetch_error,omitempty" yaml:"fetch_error,omitempty"`
}

// IsAPI reports whether the page describes an API endpoint.
func (p *Page) IsAPI() bool {
	return p.Kind == PageAPI && p.API != nil
}

// setAPI records def (nil for a documentation page) and keeps Kind in step.
func (p *Page) setAPI(def *ApiDefinition) {
	p.API = def
	if def != nil {
		p.Kind = PageAPI
	} else {
		p.Kind = PageDoc
	}
}

// Category is a table-of-contents node.
type Category struct {
	CatID       string      `json:"cat_id" yaml:"cat_id"`
	CatName     string      `json:"cat_name" yaml:"cat_name"`
	Level       int         `json:"level" yaml:"level"`
	ParentCatID string      `json:"parent_cat_id" yaml:"parent_cat_id"`
	Pages       []*Page     `json:"pages" yaml:"pages"`
	Children    []*Category `json:"children" yaml:"children"`
}

// Clone returns a deep copy of the category and its descendants.
func (c *Category) Clone() *Category {
	out := *c
	out.Pages = make([]*Page, len(c.Pages))
	for i, p := range c.Pages {
		pc := *p
		out.Pages[i] = &pc
	}
	out.Children = make([]*Category, len(c.Children))
	for i, child := range c.Children {
		out.Children[i] = child.Clone()
	}
	return &out
}

// ApiTree is the complete result of one fetch and the contract with the
// code generators downstream. Consumers must treat it as read-only.
type ApiTree struct {
	ItemInfo   ItemInfo    `json:"item_info" yaml:"item_info"`
	Categories []*Category `json:"categories" yaml:"categories"`
}

// NodeKind tells a category node from a page node during a walk.
type NodeKind int

const (
	NodeCategory NodeKind = iota
	NodePage
)

// Node is one visit of Walk. Category is the visited category for
// NodeCategory and the enclosing category for NodePage.
type Node struct {
	Kind     NodeKind
	Category *Category
	Page     *Page
	Parent   *Category // nil for root categories
	Depth    int
}

// ErrSkipChildren can be returned by a WalkFunc on a category node to skip
// its pages and descendants.
var ErrSkipChildren = errors.New("skip children")

// WalkFunc is called for every node visited by Walk.
type WalkFunc func(n Node) error

// Walk visits the tree depth-first: each category, then its pages, then its
// children. Returning an error other than ErrSkipChildren stops the walk.
func Walk(tree *ApiTree, fn WalkFunc) error {
	for _, c := range tree.Categories {
		if err := walkCategory(c, nil, 0, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkCategory(c, parent *Category, depth int, fn WalkFunc) error {
	if err := fn(Node{Kind: NodeCategory, Category: c, Parent: parent, Depth: depth}); err != nil {
		if err == ErrSkipChildren {
			return nil
		}
		return err
	}
	for _, p := range c.Pages {
		if err := fn(Node{Kind: NodePage, Category: c, Page: p, Parent: parent, Depth: depth}); err != nil && err != ErrSkipChildren {
			return err
		}
	}
	for _, child := range c.Children {
		if err := walkCategory(child, c, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// TreeStats counts the nodes of a tree.
type TreeStats struct {
	Categories int `json:"categories" yaml:"categories"`
	Pages      int `json:"pages" yaml:"pages"`
	APIPages   int `json:"api_pages" yaml:"api_pages"`
	Failed     int `json:"failed_pages,omitempty" yaml:"failed_pages,omitempty"`
}

// Stats counts categories, pages and API pages.
func (t *ApiTree) Stats() TreeStats {
	var s TreeStats
	_ = Walk(t, func(n Node) error {
		switch n.Kind {
		case NodeCategory:
			s.Categories++
		case NodePage:
			s.Pages++
			if n.Page.IsAPI() {
				s.APIPages++
			}
			if n.Page.FetchError != "" {
				s.Failed++
			}
		}
		return nil
	})
	return s
}

// Validate checks the structural invariants: every child points at its
// parent, category and page ids are unique, and api_info agrees with Kind.
func (t *ApiTree) Validate() error {
	cats := make(map[string]bool)
	pages := make(map[string]bool)
	return Walk(t, func(n Node) error {
		switch n.Kind {
		case NodeCategory:
			c := n.Category
			if n.Parent != nil && c.ParentCatID != n.Parent.CatID {
				return &ParseError{What: "tree", Err: fmt.Errorf("category %s has parent_cat_id %s, want %s", c.CatID, c.ParentCatID, n.Parent.CatID)}
			}
			if cats[c.CatID] {
				return &ParseError{What: "tree", Err: fmt.Errorf("duplicate cat_id %s", c.CatID)}
			}
			cats[c.CatID] = true
		case NodePage:
			p := n.Page
			if pages[p.PageID] {
				return &ParseError{What: "tree", Err: fmt.Errorf("duplicate page_id %s", p.PageID)}
			}
			pages[p.PageID] = true
			if (p.API != nil) != (p.Kind == PageAPI) {
				return &ParseError{What: "tree", Err: fmt.Errorf("page %s: kind %q disagrees with api_info", p.PageID, p.Kind)}
			}
		}
		return nil
	})
}

// ToMap returns the tree in its structured-dictionary form, the shape the
// JSON snapshot uses.
func (t *ApiTree) ToMap() (map[string]any, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal tree: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal tree: %w", err)
	}
	return m, nil
}

// TreeFromMap rebuilds a tree from its structured-dictionary form. Pages
// without an explicit kind get one from api_info presence.
func TreeFromMap(m map[string]any) (*ApiTree, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, &ParseError{What: "tree map", Err: err}
	}
	var t ApiTree
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, &ParseError{What: "tree map", Err: err}
	}
	_ = Walk(&t, func(n Node) error {
		if n.Kind == NodePage && n.Page.Kind == "" {
			n.Page.setAPI(n.Page.API)
		}
		return nil
	})
	return &t, nil
}

// errStop ends a walk early once a search has found its node.
var errStop = errors.New("stop walk")
