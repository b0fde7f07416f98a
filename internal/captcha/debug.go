package captcha

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DefaultDebugDir is where failed captcha images go when nothing else is
// configured.
const DefaultDebugDir = "captcha_debug"

// imagePattern matches the files Save writes.
const imagePattern = "captcha_*.png"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// DebugDir stores the images of failed login attempts. A nil *DebugDir or
// one with an empty Path discards everything.
type DebugDir struct {
	Path string
	now  func() time.Time
}

// NewDebugDir returns a DebugDir rooted at path.
func NewDebugDir(path string) *DebugDir {
	return &DebugDir{Path: path, now: time.Now}
}

func (d *DebugDir) enabled() bool {
	return d != nil && d.Path != ""
}

// Reset removes the images earlier workflows saved. Other files and the
// directory itself are left alone. It runs once per login workflow.
func (d *DebugDir) Reset() error {
	if !d.enabled() {
		return nil
	}
	images, err := filepath.Glob(filepath.Join(d.Path, imagePattern))
	if err != nil {
		return fmt.Errorf("captcha: clear debug dir: %w", err)
	}
	for _, path := range images {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("captcha: clear debug dir: %w", err)
		}
	}
	return nil
}

// Save writes image as captcha_{time}_attempt{n}_{reason}_{id}.png and
// returns the file path. A missing captcha id is replaced by a random one.
func (d *DebugDir) Save(image []byte, attempt int, reason, captchaID string) (string, error) {
	if !d.enabled() {
		return "", nil
	}
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return "", fmt.Errorf("captcha: create debug dir: %w", err)
	}

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	id := unsafeName.ReplaceAllString(captchaID, "")
	if id == "" {
		id = uuid.NewString()[:8]
	}
	reason = unsafeName.ReplaceAllString(reason, "_")
	if reason == "" {
		reason = "unknown"
	}

	name := fmt.Sprintf("captcha_%s_attempt%d_%s_%s.png", now().Format("20060102_150405"), attempt, reason, id)
	path := filepath.Join(d.Path, name)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("captcha: save debug image: %w", err)
	}
	return path, nil
}
