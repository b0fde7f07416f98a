package transport

import (
	"net/http"
	"strings"
	"time"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte

	// Duration is the round-trip time of the last attempt.
	Duration time.Duration

	// URL is the final URL after any redirects.
	URL string
}

// ContentType returns the lower-cased Content-Type header.
func (r *Response) ContentType() string {
	return strings.ToLower(r.Headers.Get("Content-Type"))
}

// IsImage reports whether the response declares an image/* content type.
func (r *Response) IsImage() bool {
	return strings.HasPrefix(r.ContentType(), "image/")
}

// IsJSON reports whether the response declares a JSON content type. ShowDoc
// is not consistent about it, so callers only use it for logging.
func (r *Response) IsJSON() bool {
	return strings.Contains(r.ContentType(), "json")
}
