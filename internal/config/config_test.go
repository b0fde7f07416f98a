package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at a temp dir and clears the override variables.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{EnvCookie, EnvPassword, EnvCaptchaDebugDir, EnvSessionFile} {
		t.Setenv(k, "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("config = %+v\nwant %+v", cfg, want)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty", cfg.Path)
	}
}

func TestLoad_DefaultFile(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".config", "docleech", "config.toml"), `
password = "654321"
session_ttl = "2h"
timeout = "5s"
concurrency = 4
rate_limit = 2.5
captcha_args = ["stdin", "stdout", "--psm", "7"]
snapshot_dir = "~/snaps"
`)

	cfg, err := load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Password != "654321" || cfg.SessionTTL != 2*time.Hour || cfg.Timeout != 5*time.Second {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Concurrency != 4 || cfg.RateLimit != 2.5 || len(cfg.CaptchaArgs) != 4 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.SnapshotDir != filepath.Join(home, "snaps") {
		t.Errorf("SnapshotDir = %q, ~ not expanded", cfg.SnapshotDir)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("unset key lost its default: MaxAttempts = %d", cfg.MaxAttempts)
	}
	if !strings.HasSuffix(cfg.Path, "config.toml") {
		t.Errorf("Path = %q", cfg.Path)
	}
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	isolate(t)
	if _, err := load(filepath.Join(t.TempDir(), "nope.toml"), ""); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestLoad_BadTOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	writeFile(t, path, "password = \n")
	if _, err := load(path, ""); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("error = %v, want parse error", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `password = "from-file"`+"\n")

	t.Setenv(EnvPassword, "from-env")
	t.Setenv(EnvCookie, "PHPSESSID=abc")
	t.Setenv(EnvCaptchaDebugDir, "/tmp/dbg")
	t.Setenv(EnvSessionFile, "/tmp/s.json")

	cfg, err := load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Password != "from-env" || cfg.Cookie != "PHPSESSID=abc" {
		t.Errorf("credentials = %q %q", cfg.Password, cfg.Cookie)
	}
	if cfg.CaptchaDebugDir != "/tmp/dbg" || cfg.SessionFile != "/tmp/s.json" {
		t.Errorf("paths = %q %q", cfg.CaptchaDebugDir, cfg.SessionFile)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	os.Unsetenv(EnvPassword)
	t.Cleanup(func() { os.Unsetenv(EnvPassword) })

	envFile := filepath.Join(t.TempDir(), ".env")
	writeFile(t, envFile, EnvPassword+"=from-dotenv\n")

	cfg, err := load("", envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Password != "from-dotenv" {
		t.Errorf("Password = %q, want from-dotenv", cfg.Password)
	}
}

func TestLoad_SQLiteBackendPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `session_backend = "sqlite"`+"\n")

	cfg, err := load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("output", ".showdoc_sessions.db"); cfg.SessionFile != want {
		t.Errorf("SessionFile = %q, want %q", cfg.SessionFile, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.SessionBackend = "redis" }},
		{"ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"rate limit", func(c *Config) { c.RateLimit = -1 }},
		{"timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"retries", func(c *Config) { c.HTTPRetries = -1 }},
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
