// Package testutil provides an in-process fake ShowDoc server for tests.
//
// The server implements the handful of endpoints the client uses: the web
// homepage, captcha creation and images, password login, item info and page
// info. Sessions are tracked through a PHPSESSID cookie like the real
// service.
package testutil

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// ShowDoc error codes produced by the fake server.
const (
	codeNotLoggedIn      = 10102
	codeCaptchaIncorrect = 10206
	codeWrongPassword    = 10303
	codePageNotFound     = 10101
)

// captchaPNG is a minimal PNG signature served as the captcha image.
var captchaPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake-captcha")

// FakePage is one page of the fake item. Content is the raw (unescaped)
// page_content; the server HTML-escapes it like ShowDoc does.
type FakePage struct {
	ID      string
	Title   string
	Author  string
	Content string
}

// FakeCatalog is one category of the fake item.
type FakeCatalog struct {
	ID       string
	Name     string
	Pages    []FakePage
	Children []FakeCatalog
}

// ShowDocConfig describes the item and the behaviour of the fake server.
type ShowDocConfig struct {
	ItemID   string
	ItemName string

	// Password is the item password. CaptchaText is the answer every
	// captcha expects, compared case-insensitively.
	Password    string
	CaptchaText string

	// AlwaysMismatch makes every login fail with the captcha error code.
	AlwaysMismatch bool

	// FailLogins makes the first n login requests answer HTTP 503.
	FailLogins int

	// RejectLogins makes the next n login requests answer RejectCode
	// (10101 when zero) before any captcha check.
	RejectLogins int
	RejectCode   int

	// Public items serve item and page info without a login.
	Public bool

	// NoisyJSON prefixes every API answer with a PHP notice.
	NoisyJSON bool

	// FailPages answers HTTP 500 for these page ids.
	FailPages map[string]bool

	RootPages []FakePage
	Catalogs  []FakeCatalog
}

// Counts is a snapshot of the requests the server has seen.
type Counts struct {
	Homepage       int
	CaptchaCreated int
	CaptchaImages  int
	Logins         int
	ItemInfo       int
	PageInfo       int
}

// ShowDocServer is a running fake ShowDoc instance.
type ShowDocServer struct {
	*httptest.Server

	cfg ShowDocConfig

	mu         sync.Mutex
	counts     Counts
	nextID     int
	sessions   map[string]bool // session id -> authorised
	captchas   map[string]bool
	pages      map[string]FakePage
	failLogins   int
	rejectLogins int
}

// NewShowDocServer starts a fake server for cfg. Missing ItemID, Password
// and CaptchaText default to "90", "123456" and "ab12". Close it after use.
func NewShowDocServer(cfg ShowDocConfig) *ShowDocServer {
	if cfg.ItemID == "" {
		cfg.ItemID = "90"
	}
	if cfg.Password == "" {
		cfg.Password = "123456"
	}
	if cfg.CaptchaText == "" {
		cfg.CaptchaText = "ab12"
	}

	s := &ShowDocServer{
		cfg:          cfg,
		sessions:     make(map[string]bool),
		captchas:     make(map[string]bool),
		pages:        make(map[string]FakePage),
		failLogins:   cfg.FailLogins,
		rejectLogins: cfg.RejectLogins,
	}
	for _, p := range cfg.RootPages {
		s.pages[p.ID] = p
	}
	var index func([]FakeCatalog)
	index = func(cats []FakeCatalog) {
		for _, c := range cats {
			for _, p := range c.Pages {
				s.pages[p.ID] = p
			}
			index(c.Children)
		}
	}
	index(cfg.Catalogs)

	mux := http.NewServeMux()
	mux.HandleFunc("/web/", s.handleHomepage)
	mux.HandleFunc("/server/index.php", s.handleAPI)
	s.Server = httptest.NewServer(mux)
	return s
}

// ItemURL returns the web UI link of the fake item.
func (s *ShowDocServer) ItemURL() string {
	return s.URL + "/web/#/" + s.cfg.ItemID + "/"
}

// PageURL returns the web UI link of a page of the fake item.
func (s *ShowDocServer) PageURL(pageID string) string {
	return s.URL + "/web/#/" + s.cfg.ItemID + "/" + pageID
}

// Counts returns the request counters.
func (s *ShowDocServer) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// IssueSession creates an already authorised session and returns it as a
// Cookie header value.
func (s *ShowDocServer) IssueSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newIDLocked("sess")
	s.sessions[id] = true
	return "PHPSESSID=" + id
}

// RevokeSessions de-authorises every session issued so far.
func (s *ShowDocServer) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.sessions {
		s.sessions[id] = false
	}
}

func (s *ShowDocServer) newIDLocked(prefix string) string {
	s.nextID++
	return prefix + strconv.Itoa(s.nextID)
}

// session returns the caller's session id, issuing one when absent.
func (s *ShowDocServer) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie("PHPSESSID"); err == nil {
		s.mu.Lock()
		_, known := s.sessions[c.Value]
		if !known {
			s.sessions[c.Value] = false
		}
		s.mu.Unlock()
		return c.Value
	}
	s.mu.Lock()
	id := s.newIDLocked("sess")
	s.sessions[id] = false
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: id, Path: "/"})
	return id
}

func (s *ShowDocServer) authorised(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Public || s.sessions[id]
}

func (s *ShowDocServer) handleHomepage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counts.Homepage++
	s.mu.Unlock()
	s.session(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!DOCTYPE html><html><head><title>ShowDoc</title></head><body><div id=\"app\"></div></body></html>")
}

func (s *ShowDocServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	sid := s.session(w, r)

	switch r.URL.Query().Get("s") {
	case "/api/common/createCaptcha":
		s.createCaptcha(w)
	case "/api/common/showCaptcha":
		s.showCaptcha(w, r)
	case "/api/item/pwd":
		s.login(w, r, sid)
	case "/api/item/info":
		s.itemInfo(w, r, sid)
	case "/api/page/info":
		s.pageInfo(w, r, sid)
	default:
		http.NotFound(w, r)
	}
}

func (s *ShowDocServer) createCaptcha(w http.ResponseWriter) {
	s.mu.Lock()
	s.counts.CaptchaCreated++
	id := 1000 + s.counts.CaptchaCreated
	s.captchas[strconv.Itoa(id)] = true
	s.mu.Unlock()
	// Numeric id, as ShowDoc sends it.
	s.writeJSON(w, 0, "", map[string]any{"captcha_id": id})
}

func (s *ShowDocServer) showCaptcha(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counts.CaptchaImages++
	known := s.captchas[r.URL.Query().Get("captcha_id")]
	s.mu.Unlock()
	if !known {
		http.Error(w, "unknown captcha", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(captchaPNG)
}

func (s *ShowDocServer) login(w http.ResponseWriter, r *http.Request, sid string) {
	s.mu.Lock()
	s.counts.Logins++
	if s.failLogins > 0 {
		s.failLogins--
		s.mu.Unlock()
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.rejectLogins > 0 {
		s.rejectLogins--
		delete(s.captchas, r.PostForm.Get("captcha_id"))
		s.mu.Unlock()
		code := s.cfg.RejectCode
		if code == 0 {
			code = 10101
		}
		s.writeJSON(w, code, "服务器繁忙", nil)
		return
	}
	captchaID := r.PostForm.Get("captcha_id")
	known := s.captchas[captchaID]
	delete(s.captchas, captchaID)
	s.mu.Unlock()

	if r.PostForm.Get("item_id") != s.cfg.ItemID {
		s.writeJSON(w, 10101, "项目不存在", nil)
		return
	}
	if !known || s.cfg.AlwaysMismatch || !strings.EqualFold(r.PostForm.Get("captcha"), s.cfg.CaptchaText) {
		s.writeJSON(w, codeCaptchaIncorrect, "验证码不正确", nil)
		return
	}
	if r.PostForm.Get("password") != s.cfg.Password {
		s.writeJSON(w, codeWrongPassword, "访问密码不正确", nil)
		return
	}

	s.mu.Lock()
	s.sessions[sid] = true
	s.mu.Unlock()
	s.writeJSON(w, 0, "", map[string]any{})
}

func (s *ShowDocServer) itemInfo(w http.ResponseWriter, r *http.Request, sid string) {
	s.mu.Lock()
	s.counts.ItemInfo++
	s.mu.Unlock()

	if r.PostForm.Get("item_id") != s.cfg.ItemID {
		s.writeJSON(w, 10101, "项目不存在", nil)
		return
	}
	if !s.authorised(sid) {
		s.writeJSON(w, codeWrongPassword, "您没有访问权限", nil)
		return
	}

	itemID, _ := strconv.Atoi(s.cfg.ItemID)
	s.writeJSON(w, 0, "", map[string]any{
		"item_id":         itemID,
		"item_name":       s.cfg.ItemName,
		"item_domain":     "",
		"is_archived":     "0",
		"default_page_id": "0",
		"menu": map[string]any{
			"pages":    pageStubs(s.cfg.RootPages, "0"),
			"catalogs": catalogs(s.cfg.Catalogs, "0", 2),
		},
	})
}

func (s *ShowDocServer) pageInfo(w http.ResponseWriter, r *http.Request, sid string) {
	s.mu.Lock()
	s.counts.PageInfo++
	s.mu.Unlock()

	if !s.authorised(sid) {
		s.writeJSON(w, codeNotLoggedIn, "你还没有登录", nil)
		return
	}
	id := r.PostForm.Get("page_id")
	if s.cfg.FailPages[id] {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p, ok := s.pages[id]
	if !ok {
		s.writeJSON(w, codePageNotFound, "页面不存在", nil)
		return
	}
	s.writeJSON(w, 0, "", map[string]any{
		"page_id":         p.ID,
		"page_title":      p.Title,
		"item_id":         s.cfg.ItemID,
		"author_username": p.Author,
		"page_content":    html.EscapeString(p.Content),
	})
}

func (s *ShowDocServer) writeJSON(w http.ResponseWriter, code int, msg string, data any) {
	body, err := json.Marshal(map[string]any{
		"error_code":    code,
		"error_message": msg,
		"data":          data,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if s.cfg.NoisyJSON {
		fmt.Fprint(w, "<br />\n<b>Notice</b>:  Undefined index: lang in <b>/var/www/html/server/index.php</b><br />\n")
	}
	_, _ = w.Write(body)
}

func pageStubs(pages []FakePage, catID string) []map[string]any {
	out := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		out = append(out, map[string]any{
			"page_id":         p.ID,
			"page_title":      p.Title,
			"cat_id":          catID,
			"author_username": p.Author,
		})
	}
	return out
}

func catalogs(cats []FakeCatalog, parentID string, level int) []map[string]any {
	out := make([]map[string]any, 0, len(cats))
	for _, c := range cats {
		catID, err := strconv.Atoi(c.ID)
		var id any = c.ID
		if err == nil {
			id = catID
		}
		out = append(out, map[string]any{
			"cat_id":        id,
			"cat_name":      c.Name,
			"parent_cat_id": parentID,
			"level":         strconv.Itoa(level),
			"pages":         pageStubs(c.Pages, c.ID),
			"catalogs":      catalogs(c.Children, c.ID, level+1),
		})
	}
	return out
}

// APIContent returns page_content describing an API endpoint.
func APIContent(method, url, title string) string {
	b, _ := json.Marshal(map[string]any{
		"info": map[string]any{
			"method":      method,
			"url":         url,
			"title":       title,
			"description": title + " endpoint",
		},
		"request": map[string]any{
			"params": map[string]any{
				"mode": "json",
				"json": "{\"id\": 1}",
			},
		},
		"response": map[string]any{
			"responseExample": "{\"code\": 0}",
		},
	})
	return string(b)
}

// SampleConfig returns an item with a root page, an API category with a
// nested sub-category and a documentation page.
func SampleConfig() ShowDocConfig {
	return ShowDocConfig{
		ItemID:   "90",
		ItemName: "商城接口",
		RootPages: []FakePage{
			{ID: "100", Title: "说明", Author: "admin", Content: "# 接口说明\n\n所有接口返回 JSON。"},
		},
		Catalogs: []FakeCatalog{
			{
				ID:   "11",
				Name: "用户",
				Pages: []FakePage{
					{ID: "201", Title: "登录", Author: "admin", Content: APIContent("post", "{{host}}/api/user/login", "登录")},
					{ID: "202", Title: "用户信息", Author: "admin", Content: APIContent("get", "{{host}}/api/user/info", "用户信息")},
				},
			},
			{
				ID:   "12",
				Name: "订单",
				Pages: []FakePage{
					{ID: "301", Title: "下单", Author: "dev", Content: APIContent("POST", "{{host}}/api/order/create", "下单")},
				},
				Children: []FakeCatalog{
					{
						ID:   "13",
						Name: "退款",
						Pages: []FakePage{
							{ID: "302", Title: "申请退款", Author: "dev", Content: APIContent("POST", "{{host}}/api/order/refund", "申请退款")},
							{ID: "303", Title: "退款规则", Author: "dev", Content: "退款需在 7 天内申请。"},
						},
					},
				},
			},
		},
	}
}
