// Package showdoc talks to a ShowDoc documentation site and turns its table
// of contents and API pages into an ApiTree.
package showdoc

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Target identifies one documentation item on a ShowDoc server.
type Target struct {
	ServerBase string // scheme://host[:port], no trailing slash
	ItemID     string
	PageID     string // optional
}

var (
	pageIDParam  = regexp.MustCompile(`(?:^|[?&#/])page_id=(\d+)`)
	itemIDParam  = regexp.MustCompile(`(?:^|[?&#/])item_id=(\d+)`)
	idPathPrefix = regexp.MustCompile(`^(?:web/)?(?:item/(?:password|index|show)/)?(\d+)(?:/(\d+))?/?(?:[?#].*)?$`)
)

// ParseURL normalises the URL forms ShowDoc hands out (item pages, the
// password login page, share links and item_id query strings) to a Target.
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, &ParseError{What: "url", Err: fmt.Errorf("empty url")}
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, &ParseError{What: "url", Err: err}
	}
	if u.Host == "" {
		return Target{}, &ParseError{What: "url", Err: fmt.Errorf("missing host in %q", raw)}
	}

	t := Target{ServerBase: u.Scheme + "://" + u.Host}

	// The web UI keeps its route in the fragment: #/90/4828, #/item/password/90?...
	if frag := strings.TrimPrefix(u.Fragment, "/"); frag != "" {
		if m := idPathPrefix.FindStringSubmatch(frag); m != nil {
			t.ItemID, t.PageID = m[1], m[2]
		}
	}
	if t.ItemID == "" {
		if m := itemIDParam.FindStringSubmatch(raw); m != nil {
			t.ItemID = m[1]
		}
	}
	if t.ItemID == "" {
		if m := idPathPrefix.FindStringSubmatch(strings.TrimPrefix(u.Path, "/")); m != nil {
			t.ItemID, t.PageID = m[1], m[2]
		}
	}
	if t.ItemID == "" {
		return Target{}, &ParseError{What: "url", Err: fmt.Errorf("no item_id in %q", raw)}
	}

	if m := pageIDParam.FindStringSubmatch(raw); m != nil {
		t.PageID = m[1]
	}
	return t, nil
}

// SiteKey is the key sessions are cached under.
func (t Target) SiteKey() string {
	return t.ServerBase + "#" + t.ItemID
}

// PageLink returns the web UI link of a page in this item.
func (t Target) PageLink(pageID string) string {
	return fmt.Sprintf("%s/web/#/%s/%s", t.ServerBase, t.ItemID, pageID)
}

// ItemLink returns the web UI link of the item.
func (t Target) ItemLink() string {
	return fmt.Sprintf("%s/web/#/%s/", t.ServerBase, t.ItemID)
}

func (t Target) endpoint(route string) string {
	return t.ServerBase + "/server/index.php?s=" + route
}
