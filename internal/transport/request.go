// Package transport is the HTTP layer every ShowDoc call goes through. It
// keeps the session cookie jar and applies rate limiting, retries, the proxy
// and the User-Agent policy.
package transport

import (
	"net/http"
	"net/url"
)

// FormContentType is the Content-Type of URL-encoded form bodies.
const FormContentType = "application/x-www-form-urlencoded"

// Request is one HTTP request to the documentation site.
type Request struct {
	// Method defaults to GET.
	Method string

	URL string

	// Headers are set on top of the client defaults. A "Cookie" entry is
	// sent in addition to whatever the jar holds.
	Headers map[string]string

	Body        string
	ContentType string
}

// NewGetRequest builds a GET request for rawURL.
func NewGetRequest(rawURL string) *Request {
	return &Request{Method: http.MethodGet, URL: rawURL}
}

// NewFormRequest builds a POST request carrying form as its URL-encoded body.
func NewFormRequest(rawURL string, form url.Values) *Request {
	return &Request{
		Method:      http.MethodPost,
		URL:         rawURL,
		Body:        form.Encode(),
		ContentType: FormContentType,
	}
}

// WithHeader sets a header and returns r.
func (r *Request) WithHeader(name, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[name] = value
	return r
}
