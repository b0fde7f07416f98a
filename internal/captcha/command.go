package captcha

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// DefaultCommand is the OCR engine CommandSolver runs when none is set.
const DefaultCommand = "tesseract"

// CommandSolver pipes the image to an external OCR program and reads the
// recognised text from its stdout.
type CommandSolver struct {
	// Command is the executable, DefaultCommand when empty.
	Command string

	// Args replaces the default tesseract arguments
	// (stdin stdout --psm 8 -c tessedit_char_whitelist=...).
	Args []string

	// Env is appended to the current environment.
	Env []string

	// Whitelist limits the characters kept, DefaultWhitelist when empty.
	Whitelist string

	// Timeout bounds one run, 10s when zero.
	Timeout time.Duration

	Logger *slog.Logger
}

// Solve runs the command. Failures are logged and yield an empty guess.
func (s *CommandSolver) Solve(ctx context.Context, image []byte) string {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := s.Command
	if name == "" {
		name = DefaultCommand
	}
	cmd := exec.CommandContext(ctx, name, s.args()...)
	cmd.Stdin = bytes.NewReader(image)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		logger.Warn("captcha OCR failed", "command", name, "error", err, "stderr", stderr.String())
		return ""
	}
	guess := Normalize(string(out), s.Whitelist)
	logger.Debug("captcha OCR", "raw", string(bytes.TrimSpace(out)), "guess", guess)
	return guess
}

func (s *CommandSolver) args() []string {
	if len(s.Args) > 0 {
		return s.Args
	}
	whitelist := s.Whitelist
	if whitelist == "" {
		whitelist = DefaultWhitelist
	}
	return []string{"stdin", "stdout", "--psm", "8", "-c", "tessedit_char_whitelist=" + whitelist}
}
