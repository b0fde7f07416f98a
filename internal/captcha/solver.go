// Package captcha turns ShowDoc captcha images into text guesses and keeps
// the images of failed attempts for inspection.
package captcha

import (
	"context"
	"strings"
)

// DefaultWhitelist is the character set ShowDoc captchas are drawn from.
const DefaultWhitelist = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Length is the number of characters in a ShowDoc captcha.
const Length = 4

// Solver guesses the text of a captcha image. A wrong or empty guess is not
// an error; the server's verdict is the only judge.
type Solver interface {
	Solve(ctx context.Context, image []byte) string
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, image []byte) string

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, image []byte) string {
	return f(ctx, image)
}

// Normalize keeps the characters of raw found in whitelist, lower-cases
// them and cuts the result to Length.
func Normalize(raw, whitelist string) string {
	if whitelist == "" {
		whitelist = DefaultWhitelist
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if strings.ContainsRune(whitelist, r) {
			b.WriteRune(r)
		}
	}
	out := []rune(strings.ToLower(b.String()))
	if len(out) > Length {
		out = out[:Length]
	}
	return string(out)
}
