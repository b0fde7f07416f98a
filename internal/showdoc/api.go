package showdoc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/0x6d61/docleech/internal/transport"
)

// ShowDoc error codes the client reacts to.
const (
	CodeSuccess          = 0
	CodeNotLoggedIn      = 10102
	CodeCaptchaIncorrect = 10206
	CodeNoPermission     = 10302
	CodePasswordRequired = 10303
)

// wrongPasswordCodes are the login codes retrying cannot fix.
var wrongPasswordCodes = map[int]bool{
	10201:                true,
	10202:                true,
	10203:                true,
	10204:                true,
	10205:                true,
	CodePasswordRequired: true,
}

// authCodes are the data-endpoint codes meaning the session was refused.
var authCodes = map[int]bool{
	CodeNotLoggedIn:      true,
	CodeNoPermission:     true,
	CodePasswordRequired: true,
}

// LoginOutcome classifies the answer to a password submission.
type LoginOutcome int

const (
	LoginOK LoginOutcome = iota
	LoginCaptchaMismatch
	LoginWrongPassword
	LoginRejected
)

// String returns the outcome name.
func (o LoginOutcome) String() string {
	names := [...]string{"ok", "captcha_mismatch", "wrong_password", "rejected"}
	if int(o) < len(names) {
		return names[o]
	}
	return "unknown"
}

// ClassifyLogin maps a login error_code to its outcome.
func ClassifyLogin(code int) LoginOutcome {
	switch {
	case code == CodeSuccess:
		return LoginOK
	case code == CodeCaptchaIncorrect:
		return LoginCaptchaMismatch
	case wrongPasswordCodes[code]:
		return LoginWrongPassword
	default:
		return LoginRejected
	}
}

// LoginResult is the server's answer to a password submission.
type LoginResult struct {
	Outcome LoginOutcome
	Code    int
	Message string
}

// PageInfo is one page as returned by the page info endpoint.
type PageInfo struct {
	PageID         string
	PageTitle      string
	CatID          string
	ItemID         string
	AuthorUsername string

	// RawContent is page_content as sent, still HTML-entity escaped.
	RawContent string

	// Content is the decoded JSON object, nil for pages whose content is
	// not JSON (markdown documentation pages).
	Content map[string]any
}

// API wraps the ShowDoc endpoints of one item.
type API struct {
	client transport.Client
	target Target
	cookie string
	logger *slog.Logger
	now    func() time.Time
}

// APIOption configures an API.
type APIOption func(*API)

// WithAPILogger sets the logger used for request tracing.
func WithAPILogger(l *slog.Logger) APIOption {
	return func(a *API) { a.logger = l }
}

// WithCookie makes every request carry the given cookie string
// ("name=value; name2=value2").
func WithCookie(cookie string) APIOption {
	return func(a *API) { a.cookie = cookie }
}

// NewAPI creates an API for target that sends its requests through client.
func NewAPI(client transport.Client, target Target, opts ...APIOption) *API {
	a := &API{
		client: client,
		target: target,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Target returns the item this API talks to.
func (a *API) Target() Target { return a.target }

// SetCookie replaces the cookie string sent with every request. An empty
// string leaves only the client's cookie jar.
func (a *API) SetCookie(cookie string) { a.cookie = cookie }

// SessionCookie returns the cookies the transport holds for the server as a
// Cookie header value, falling back to the explicitly set cookie.
func (a *API) SessionCookie() string {
	cookies := a.client.Cookies(a.target.ServerBase + "/")
	if len(cookies) == 0 {
		return a.cookie
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// FetchHomepage loads the web UI entry page. It only primes the cookie jar;
// callers are expected to ignore its error.
func (a *API) FetchHomepage(ctx context.Context) error {
	_, err := a.do(ctx, "homepage", transport.NewGetRequest(a.target.ServerBase + "/web/"))
	return err
}

// CreateCaptcha asks the server for a new captcha challenge id.
func (a *API) CreateCaptcha(ctx context.Context) (string, error) {
	env, err := a.postForm(ctx, "create captcha", "/api/common/createCaptcha", url.Values{})
	if err != nil {
		return "", err
	}
	if env.ErrorCode != CodeSuccess {
		return "", &AuthError{Op: "create captcha", Code: int(env.ErrorCode), Message: env.message()}
	}
	var data struct {
		CaptchaID flexString `json:"captcha_id"`
	}
	if err := env.decodeData(&data); err != nil {
		return "", err
	}
	if data.CaptchaID == "" {
		return "", &ParseError{What: "create captcha", Err: fmt.Errorf("response has no captcha_id")}
	}
	return string(data.CaptchaID), nil
}

// CaptchaImage downloads the image of a captcha challenge.
func (a *API) CaptchaImage(ctx context.Context, captchaID string) ([]byte, error) {
	u := fmt.Sprintf("%s&captcha_id=%s&%d", a.target.endpoint("/api/common/showCaptcha"),
		url.QueryEscape(captchaID), a.now().UnixMilli())
	resp, err := a.do(ctx, "captcha image", transport.NewGetRequest(u))
	if err != nil {
		return nil, err
	}
	if !resp.IsImage() {
		return nil, &ParseError{What: "captcha image", Err: fmt.Errorf("content type %q is not an image", resp.ContentType())}
	}
	if len(resp.Body) == 0 {
		return nil, &ParseError{What: "captcha image", Err: fmt.Errorf("empty image")}
	}
	return resp.Body, nil
}

// SubmitPassword posts the item password together with a captcha answer.
// Domain failures are reported through the result, not as errors.
func (a *API) SubmitPassword(ctx context.Context, password, captchaID, captchaText string) (*LoginResult, error) {
	env, err := a.postForm(ctx, "login", "/api/item/pwd", url.Values{
		"item_id":    {a.target.ItemID},
		"password":   {password},
		"captcha":    {captchaText},
		"captcha_id": {captchaID},
	})
	if err != nil {
		return nil, err
	}
	code := int(env.ErrorCode)
	return &LoginResult{Outcome: ClassifyLogin(code), Code: code, Message: env.message()}, nil
}

// itemInfo fetches the item's metadata and its table of contents.
func (a *API) itemInfo(ctx context.Context) (*rawItem, error) {
	env, err := a.postForm(ctx, "item info", "/api/item/info", url.Values{"item_id": {a.target.ItemID}})
	if err != nil {
		return nil, err
	}
	if env.ErrorCode != CodeSuccess {
		code := int(env.ErrorCode)
		if authCodes[code] {
			return nil, &AuthError{Op: "item info", Code: code, Message: env.message()}
		}
		return nil, &NotFoundError{Kind: "item", Name: a.target.ItemID, Code: code, Msg: env.message()}
	}
	var item rawItem
	if err := env.decodeData(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// PageInfo fetches one page and decodes its content when it is JSON.
func (a *API) PageInfo(ctx context.Context, pageID string) (*PageInfo, error) {
	env, err := a.postForm(ctx, "page info", "/api/page/info", url.Values{"page_id": {pageID}})
	if err != nil {
		return nil, err
	}
	if env.ErrorCode != CodeSuccess {
		code := int(env.ErrorCode)
		if authCodes[code] {
			return nil, &AuthError{Op: "page info", Code: code, Message: env.message()}
		}
		return nil, &NotFoundError{Kind: "page", Name: pageID, Code: code, Msg: env.message()}
	}
	var data struct {
		PageID         flexString `json:"page_id"`
		PageTitle      string     `json:"page_title"`
		CatID          flexString `json:"cat_id"`
		ItemID         flexString `json:"item_id"`
		AuthorUsername string     `json:"author_username"`
		PageContent    string     `json:"page_content"`
	}
	if err := env.decodeData(&data); err != nil {
		return nil, err
	}

	info := &PageInfo{
		PageID:         string(data.PageID),
		PageTitle:      data.PageTitle,
		CatID:          string(data.CatID),
		ItemID:         string(data.ItemID),
		AuthorUsername: data.AuthorUsername,
		RawContent:     data.PageContent,
	}
	if info.PageID == "" {
		info.PageID = pageID
	}
	if content, err := DecodePageContent(data.PageContent); err == nil {
		info.Content = content
	} else {
		a.logger.Debug("page content is not JSON", "page_id", pageID, "error", err)
	}
	return info, nil
}

// --------------------------------------------------------------------------
// Request helpers
// --------------------------------------------------------------------------

func (a *API) postForm(ctx context.Context, op, route string, form url.Values) (*envelope, error) {
	resp, err := a.do(ctx, op, transport.NewFormRequest(a.target.endpoint(route), form))
	if err != nil {
		return nil, err
	}
	return parseEnvelope(op, resp.Body)
}

// do sends req with the session cookie and maps transport failures and
// HTTP statuses onto the error kinds.
func (a *API) do(ctx context.Context, op string, req *transport.Request) (*transport.Response, error) {
	if a.cookie != "" {
		req.WithHeader("Cookie", a.cookie)
	}

	a.logger.Debug("showdoc request", "op", op, "method", req.Method, "url", req.URL)
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, &NetworkError{URL: req.URL, Err: err}
	}
	a.logger.Debug("showdoc response", "op", op, "status", resp.StatusCode, "bytes", len(resp.Body), "json", resp.IsJSON(), "duration", resp.Duration)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Op: op, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &NetworkError{URL: req.URL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// envelope is the JSON wrapper around every ShowDoc API answer.
type envelope struct {
	ErrorCode    flexInt         `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	ErrorMsg     string          `json:"error_msg"`
	Data         json.RawMessage `json:"data"`
	op           string
}

func (e *envelope) message() string {
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	return e.ErrorMsg
}

func (e *envelope) decodeData(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &ParseError{What: e.op + " data", Err: err}
	}
	return nil
}

// parseEnvelope decodes body, falling back to the outermost {...} when the
// server wraps the JSON in notices or markup.
func parseEnvelope(op string, body []byte) (*envelope, error) {
	env := &envelope{op: op}
	if err := json.Unmarshal(body, env); err == nil {
		return env, nil
	}
	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return nil, &ParseError{What: op + " response", Err: fmt.Errorf("no JSON object in %d-byte body", len(body))}
	}
	if err := json.Unmarshal(body[start:end+1], env); err != nil {
		return nil, &ParseError{What: op + " response", Err: err}
	}
	return env, nil
}

// --------------------------------------------------------------------------
// Lenient JSON scalars: ShowDoc sends ids as numbers or strings.
// --------------------------------------------------------------------------

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}
