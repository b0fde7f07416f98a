package showdoc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// PageErrorPolicy decides what a tree fetch does when one page fails.
type PageErrorPolicy int

const (
	// FailFast aborts the whole fetch with a *PageFetchError.
	FailFast PageErrorPolicy = iota
	// Tolerant records the failure on Page.FetchError and keeps going.
	// Authentication failures still abort.
	Tolerant
)

// String returns the policy name.
func (p PageErrorPolicy) String() string {
	if p == Tolerant {
		return "tolerant"
	}
	return "fail-fast"
}

// Query selects the part of an item a fetch covers. NodeName wins over
// PageID; both empty means the whole item.
type Query struct {
	NodeName string
	PageID   string
}

// TreeFetcher builds ApiTrees from an authenticated API.
type TreeFetcher struct {
	api         *API
	concurrency int
	policy      PageErrorPolicy
	logger      *slog.Logger
}

// FetcherOption configures a TreeFetcher.
type FetcherOption func(*TreeFetcher)

// WithConcurrency bounds the number of page fetches in flight. Values below
// one mean sequential.
func WithConcurrency(n int) FetcherOption {
	return func(f *TreeFetcher) { f.concurrency = n }
}

// WithPageErrorPolicy sets the per-page failure policy.
func WithPageErrorPolicy(p PageErrorPolicy) FetcherOption {
	return func(f *TreeFetcher) { f.policy = p }
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *TreeFetcher) { f.logger = l }
}

// NewTreeFetcher creates a TreeFetcher. The API must already carry a valid
// session; rejected sessions surface as *AuthError and are not retried here.
func NewTreeFetcher(api *API, opts ...FetcherOption) *TreeFetcher {
	f := &TreeFetcher{
		api:         api,
		concurrency: 1,
		policy:      FailFast,
		logger:      api.logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.concurrency < 1 {
		f.concurrency = 1
	}
	return f
}

// FetchItemInfo fetches the item metadata and its table of contents. The
// returned tree holds page stubs only: no page has been fetched yet.
func (f *TreeFetcher) FetchItemInfo(ctx context.Context) (*ApiTree, error) {
	item, err := f.api.itemInfo(ctx)
	if err != nil {
		return nil, err
	}
	return buildTree(f.api.target, item)
}

// FetchPageInfo fetches one page and derives its API definition.
func (f *TreeFetcher) FetchPageInfo(ctx context.Context, pageID string) (*Page, error) {
	p, _, err := f.FetchPageDetail(ctx, pageID)
	return p, err
}

// FetchPageDetail is FetchPageInfo that also returns the decoded page
// content, API page or not.
func (f *TreeFetcher) FetchPageDetail(ctx context.Context, pageID string) (*Page, map[string]any, error) {
	info, err := f.api.PageInfo(ctx, pageID)
	if err != nil {
		return nil, nil, err
	}
	def, err := ParseAPIDefinition(info.Content)
	if err != nil {
		return nil, nil, err
	}
	p := &Page{
		PageID:         info.PageID,
		PageTitle:      info.PageTitle,
		CatID:          info.CatID,
		AuthorUsername: info.AuthorUsername,
		Link:           f.api.target.PageLink(info.PageID),
	}
	p.setAPI(def)
	return p, info.Content, nil
}

// GetAllAPIs fetches the item, narrows it to q and fetches every page in
// scope.
func (f *TreeFetcher) GetAllAPIs(ctx context.Context, q Query) (*ApiTree, error) {
	// Warm-up only; it primes cookies on some deployments.
	if err := f.api.FetchHomepage(ctx); err != nil {
		f.logger.Debug("homepage warm-up failed", "error", err)
	}

	tree, err := f.NodeTree(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := f.fillPages(ctx, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// NodeTree returns the table of contents narrowed to q, with page links but
// without page contents.
func (f *TreeFetcher) NodeTree(ctx context.Context, q Query) (*ApiTree, error) {
	stub, err := f.FetchItemInfo(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case !IsAllNodes(q.NodeName):
		return Filter(stub, q.NodeName)
	case q.PageID != "":
		return FilterByPage(stub, q.PageID)
	default:
		return stub, nil
	}
}

type pageJob struct {
	page     *Page
	category *Category
}

// fillPages fetches every page of tree in place.
func (f *TreeFetcher) fillPages(ctx context.Context, tree *ApiTree) error {
	var jobs []pageJob
	_ = Walk(tree, func(n Node) error {
		if n.Kind == NodePage {
			jobs = append(jobs, pageJob{page: n.Page, category: n.Category})
		}
		return nil
	})
	f.logger.Info("fetching pages", "pages", len(jobs), "concurrency", f.concurrency, "policy", f.policy.String())

	if f.concurrency == 1 {
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f.fillPage(ctx, job); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return f.fillPage(gctx, job)
		})
	}
	return g.Wait()
}

// fillPage fetches one page into its stub. Each job owns its *Page, so the
// concurrent path needs no locking.
func (f *TreeFetcher) fillPage(ctx context.Context, job pageJob) error {
	p := job.page
	got, err := f.FetchPageInfo(ctx, p.PageID)
	if err != nil {
		perr := &PageFetchError{PageID: p.PageID, Title: p.PageTitle, Category: job.category.CatName, Err: err}
		if f.policy == Tolerant && !IsAuth(err) && ctx.Err() == nil {
			f.logger.Warn("page fetch failed", "page_id", p.PageID, "title", p.PageTitle, "error", err)
			p.FetchError = perr.Error()
			p.Kind = PageDoc
			return nil
		}
		return perr
	}

	p.setAPI(got.API)
	if p.PageTitle == "" {
		p.PageTitle = got.PageTitle
	}
	if p.AuthorUsername == "" {
		p.AuthorUsername = got.AuthorUsername
	}
	f.logger.Debug("page fetched", "page_id", p.PageID, "kind", p.Kind)
	return nil
}

// --------------------------------------------------------------------------
// Item info payload
// --------------------------------------------------------------------------

type rawItem struct {
	ItemID        flexString `json:"item_id"`
	ItemName      string     `json:"item_name"`
	ItemDomain    string     `json:"item_domain"`
	IsArchived    flexString `json:"is_archived"`
	DefaultPageID flexString `json:"default_page_id"`
	Menu          rawMenu    `json:"menu"`
}

type rawMenu struct {
	Pages    []rawPageStub `json:"pages"`
	Catalogs []rawCatalog  `json:"catalogs"`
}

// UnmarshalJSON accepts the empty list PHP emits for an empty menu.
func (m *rawMenu) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		*m = rawMenu{}
		return nil
	}
	type plain rawMenu
	return json.Unmarshal(b, (*plain)(m))
}

type rawCatalog struct {
	CatID       flexString    `json:"cat_id"`
	CatName     string        `json:"cat_name"`
	ParentCatID flexString    `json:"parent_cat_id"`
	Level       flexInt       `json:"level"`
	Pages       []rawPageStub `json:"pages"`
	Catalogs    []rawCatalog  `json:"catalogs"`
}

type rawPageStub struct {
	PageID         flexString `json:"page_id"`
	PageTitle      string     `json:"page_title"`
	CatID          flexString `json:"cat_id"`
	AuthorUsername string     `json:"author_username"`
}

// treeBuilder converts the raw menu while checking id uniqueness.
type treeBuilder struct {
	target Target
	cats   map[string]bool
	pages  map[string]bool
}

func buildTree(target Target, item *rawItem) (*ApiTree, error) {
	b := &treeBuilder{target: target, cats: make(map[string]bool), pages: make(map[string]bool)}

	tree := &ApiTree{
		ItemInfo: ItemInfo{
			ItemID:        string(item.ItemID),
			ItemName:      item.ItemName,
			ItemDomain:    item.ItemDomain,
			IsArchived:    item.IsArchived == "1",
			DefaultPageID: string(item.DefaultPageID),
		},
	}
	if tree.ItemInfo.ItemID == "" {
		tree.ItemInfo.ItemID = target.ItemID
	}

	if len(item.Menu.Pages) > 0 {
		root := &Category{
			CatID:       RootCategoryID,
			CatName:     RootCategoryName,
			ParentCatID: RootCategoryID,
			Children:    []*Category{},
		}
		b.cats[RootCategoryID] = true
		pages, err := b.pageStubs(item.Menu.Pages, RootCategoryID)
		if err != nil {
			return nil, err
		}
		root.Pages = pages
		tree.Categories = append(tree.Categories, root)
	}

	for _, rc := range item.Menu.Catalogs {
		parent := string(rc.ParentCatID)
		if parent == "" {
			parent = RootCategoryID
		}
		c, err := b.category(rc, parent, 0)
		if err != nil {
			return nil, err
		}
		tree.Categories = append(tree.Categories, c)
	}
	if tree.Categories == nil {
		tree.Categories = []*Category{}
	}
	return tree, nil
}

func (b *treeBuilder) category(rc rawCatalog, parentID string, depth int) (*Category, error) {
	id := string(rc.CatID)
	if id == "" {
		return nil, &ParseError{What: "item menu", Err: fmt.Errorf("category %q has no cat_id", rc.CatName)}
	}
	if b.cats[id] {
		return nil, &ParseError{What: "item menu", Err: fmt.Errorf("duplicate cat_id %s", id)}
	}
	b.cats[id] = true

	level := int(rc.Level)
	if level == 0 {
		// ShowDoc numbers top-level catalogs from 2.
		level = depth + 2
	}
	c := &Category{
		CatID:       id,
		CatName:     rc.CatName,
		Level:       level,
		ParentCatID: parentID,
		Children:    make([]*Category, 0, len(rc.Catalogs)),
	}

	pages, err := b.pageStubs(rc.Pages, id)
	if err != nil {
		return nil, err
	}
	c.Pages = pages

	for _, sub := range rc.Catalogs {
		child, err := b.category(sub, id, depth+1)
		if err != nil {
			return nil, err
		}
		c.Children = append(c.Children, child)
	}
	return c, nil
}

func (b *treeBuilder) pageStubs(raw []rawPageStub, catID string) ([]*Page, error) {
	pages := make([]*Page, 0, len(raw))
	for _, rp := range raw {
		id := string(rp.PageID)
		if id == "" {
			continue
		}
		if b.pages[id] {
			return nil, &ParseError{What: "item menu", Err: fmt.Errorf("duplicate page_id %s", id)}
		}
		b.pages[id] = true
		pages = append(pages, &Page{
			PageID:         id,
			PageTitle:      rp.PageTitle,
			CatID:          catID,
			AuthorUsername: rp.AuthorUsername,
			Link:           b.target.PageLink(id),
		})
	}
	return pages, nil
}
