// Package config loads docleech settings: built-in defaults, then an
// optional TOML file, then a .env file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Session backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Environment variables that override the file.
const (
	EnvCookie          = "SHOWDOC_COOKIE"
	EnvPassword        = "SHOWDOC_PASSWORD"
	EnvCaptchaDebugDir = "SHOWDOC_CAPTCHA_DEBUG_DIR"
	EnvSessionFile     = "DOCLEECH_SESSION_FILE"
)

// Config holds the docleech settings.
type Config struct {
	Cookie   string `toml:"cookie"`
	Password string `toml:"password"`

	SessionBackend string        `toml:"session_backend"`
	SessionFile    string        `toml:"session_file"`
	SessionTTL     time.Duration `toml:"session_ttl"`

	CaptchaDebugDir string   `toml:"captcha_debug_dir"`
	CaptchaCommand  string   `toml:"captcha_command"`
	CaptchaArgs     []string `toml:"captcha_args"`
	MaxAttempts     int      `toml:"max_attempts"`

	Concurrency int           `toml:"concurrency"`
	RateLimit   float64       `toml:"rate_limit"`
	Timeout     time.Duration `toml:"timeout"`
	HTTPRetries int           `toml:"http_retries"`
	Proxy       string        `toml:"proxy"`
	UserAgent   string        `toml:"user_agent"`

	SnapshotDir string `toml:"snapshot_dir"`

	// Path is the config file that was read, empty when none was.
	Path string `toml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Password:        "123456",
		SessionBackend:  BackendFile,
		SessionFile:     filepath.Join("output", ".showdoc_sessions.json"),
		SessionTTL:      24 * time.Hour,
		CaptchaDebugDir: "captcha_debug",
		CaptchaCommand:  "tesseract",
		MaxAttempts:     5,
		Concurrency:     1,
		Timeout:         30 * time.Second,
		HTTPRetries:     3,
		SnapshotDir:     filepath.Join("output", "showdoc_snapshots"),
	}
}

// DefaultPath returns ~/.config/docleech/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "docleech", "config.toml")
}

// Load reads path, or DefaultPath when path is empty, then .env from the
// working directory and the environment. A missing default file is fine;
// a missing explicit one is an error.
func Load(path string) (*Config, error) {
	return load(path, ".env")
}

func load(path, envFile string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	home, _ := os.UserHomeDir()
	path = expandHome(path, home)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			cfg.Path = path
		} else if explicit {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	// .env never overrides variables that are already set.
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg.Cookie = getEnv(EnvCookie, cfg.Cookie)
	cfg.Password = getEnv(EnvPassword, cfg.Password)
	cfg.CaptchaDebugDir = getEnv(EnvCaptchaDebugDir, cfg.CaptchaDebugDir)
	cfg.SessionFile = getEnv(EnvSessionFile, cfg.SessionFile)

	if cfg.SessionBackend == BackendSQLite && filepath.Ext(cfg.SessionFile) == ".json" {
		cfg.SessionFile = strings.TrimSuffix(cfg.SessionFile, ".json") + ".db"
	}

	// expand ~ in paths
	cfg.SessionFile = expandHome(cfg.SessionFile, home)
	cfg.CaptchaDebugDir = expandHome(cfg.CaptchaDebugDir, home)
	cfg.SnapshotDir = expandHome(cfg.SnapshotDir, home)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.SessionBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("config: session_backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.SessionBackend)
	}
	switch {
	case c.SessionTTL <= 0:
		return fmt.Errorf("config: session_ttl must be positive, got %s", c.SessionTTL)
	case c.MaxAttempts < 1:
		return fmt.Errorf("config: max_attempts must be at least 1, got %d", c.MaxAttempts)
	case c.Concurrency < 1:
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.Concurrency)
	case c.RateLimit < 0:
		return fmt.Errorf("config: rate_limit must not be negative, got %g", c.RateLimit)
	case c.Timeout <= 0:
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	case c.HTTPRetries < 0:
		return fmt.Errorf("config: http_retries must not be negative, got %d", c.HTTPRetries)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func expandHome(path, home string) string {
	if home != "" && len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
