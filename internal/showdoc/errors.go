package showdoc

import (
	"errors"
	"fmt"
)

// AuthError reports a bad password, an exhausted login retry budget or a
// session the server refused.
type AuthError struct {
	Op          string // step that failed, e.g. "login" or "item info"
	Code        int    // ShowDoc error_code, 0 when not applicable
	Message     string
	Attempts    int // login attempts made, 0 outside the login loop
	MaxAttempts int
	Err         error
}

func (e *AuthError) Error() string {
	msg := "authentication failed"
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" [error_code=%d]", e.Code)
	}
	if e.MaxAttempts > 0 {
		msg += fmt.Sprintf(" after %d/%d attempts", e.Attempts, e.MaxAttempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown node name, page or item.
type NotFoundError struct {
	Kind string // "node", "page" or "item"
	Name string
	Code int
	Msg  string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" [error_code=%d]", e.Code)
	}
	return msg
}

// ParseError reports a malformed URL, response envelope or page content.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse " + e.What
	}
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure or an unexpected HTTP status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PageFetchError wraps the failure of a single page fetch during a tree
// fetch. The cause keeps its own kind, so IsNetwork etc. still apply.
type PageFetchError struct {
	PageID   string
	Title    string
	Category string
	Err      error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("fetch page %s (%q in %q): %v", e.PageID, e.Title, e.Category, e.Err)
}

func (e *PageFetchError) Unwrap() error { return e.Err }

// IsAuth reports whether err is or wraps an *AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsParse reports whether err is or wraps a *ParseError.
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsNetwork reports whether err is or wraps a *NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// Kind names the error kind of err for user-facing prefixes.
func Kind(err error) string {
	switch {
	case IsAuth(err):
		return "auth_error"
	case IsNotFound(err):
		return "not_found"
	case IsParse(err):
		return "parse_error"
	case IsNetwork(err):
		return "network_error"
	default:
		return "unknown_error"
	}
}
