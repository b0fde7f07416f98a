package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/0x6d61/docleech/internal/session"
	"github.com/0x6d61/docleech/internal/showdoc"
)

// DefaultSnapshotDir is where snapshots go when no path is given.
const DefaultSnapshotDir = "output/showdoc_snapshots"

const maxSafeNameRunes = 30

// SafeName reduces an item name to letters, digits, spaces, '-' and '_',
// trimmed and cut to 30 characters.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := []rune(strings.TrimSpace(b.String()))
	if len(out) > maxSafeNameRunes {
		out = out[:maxSafeNameRunes]
	}
	return strings.TrimSpace(string(out))
}

// AutoSnapshotPath returns {dir}/{item_id}_{safe_name}_{YYYYmmdd_HHMMSS}.json,
// leaving out the name part when the item has no usable name.
func AutoSnapshotPath(dir string, item showdoc.ItemInfo, now time.Time) string {
	if dir == "" {
		dir = DefaultSnapshotDir
	}
	stamp := now.Format("20060102_150405")
	name := item.ItemID + "_" + stamp + ".json"
	if safe := SafeName(item.ItemName); safe != "" {
		name = item.ItemID + "_" + safe + "_" + stamp + ".json"
	}
	return filepath.Join(dir, name)
}

// WriteSnapshot writes tree in its structured-dictionary form to path,
// atomically, and returns the absolute path written.
func WriteSnapshot(path string, tree *showdoc.ApiTree) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("snapshot path: %w", err)
	}
	m, err := tree.ToMap()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := session.WriteFileAtomic(abs, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", abs, err)
	}
	return abs, nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot and checks its
// structure.
func ReadSnapshot(path string) (*showdoc.ApiTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &showdoc.NotFoundError{Kind: "snapshot", Name: path}
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &showdoc.ParseError{What: "snapshot " + path, Err: err}
	}
	tree, err := showdoc.TreeFromMap(m)
	if err != nil {
		return nil, err
	}
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return tree, nil
}

// LatestSnapshot returns the most recently modified snapshot of itemID in
// dir.
func LatestSnapshot(dir, itemID string) (string, error) {
	if dir == "" {
		dir = DefaultSnapshotDir
	}
	matches, err := filepath.Glob(filepath.Join(dir, itemID+"_*.json"))
	if err != nil {
		return "", fmt.Errorf("find snapshots: %w", err)
	}

	var (
		latest string
		newest time.Time
	)
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		if latest == "" || fi.ModTime().After(newest) {
			latest, newest = m, fi.ModTime()
		}
	}
	if latest == "" {
		return "", &showdoc.NotFoundError{Kind: "snapshot", Name: itemID, Msg: "no snapshot in " + dir}
	}
	return latest, nil
}
