// Package config loads the daemon's configuration by layering compiled
// defaults, an optional JSON file, and environment variables, in that
// order, each overriding the last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable this daemon reads at startup.
type Config struct {
	DatabasePath string `json:"database_path" env:"EXTRACTOR_DATABASE_PATH"`
	DefaultRoot  string `json:"default_root" env:"EXTRACTOR_DEFAULT_ROOT"`
	BlockSize    int    `json:"block_size" env:"EXTRACTOR_BLOCK_SIZE"`
	BatchSize    int    `json:"batch_size" env:"EXTRACTOR_BATCH_SIZE"`
	MaxLineBytes int    `json:"max_line_bytes" env:"EXTRACTOR_MAX_LINE_BYTES"`
	ScanCron     string `json:"scan_cron" env:"EXTRACTOR_SCAN_CRON"`
	LogFile      string `json:"log_file" env:"EXTRACTOR_LOG_FILE"`

	mu sync.RWMutex
}

// ResolveHomeDir finds the directory extractor-core state lives under:
// an explicit override, then the OS user home directory, then a temp
// directory fallback.
func ResolveHomeDir() string {
	if envHome := strings.TrimSpace(os.Getenv("EXTRACTOR_HOME")); envHome != "" {
		return envHome
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(os.TempDir(), ".claude-extractor-core")
	}
	return filepath.Join(home, ".claude")
}

// DefaultConfig returns the compiled-in defaults, rooted under ResolveHomeDir.
func DefaultConfig() *Config {
	home := ResolveHomeDir()
	return &Config{
		DatabasePath: filepath.Join(home, "extractor.db"),
		DefaultRoot:  filepath.Join(home, "projects"),
		BlockSize:    256,
		BatchSize:    5000,
		MaxLineBytes: 8 << 20,
		ScanCron:     "",
		LogFile:      "",
	}
}

// defaultConfigPath is where LoadConfig looks for an optional JSON
// override file when none is given explicitly.
func defaultConfigPath() string {
	return filepath.Join(ResolveHomeDir(), "extractor-config.json")
}

// LoadConfig builds a Config by layering DefaultConfig, an optional JSON
// file at path (defaultConfigPath() if path is empty), and environment
// variables prefixed EXTRACTOR_. A missing JSON file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = defaultConfigPath()
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: env overlay: %w", err)
	}

	return cfg, nil
}

// Lock/RLock/Unlock/RUnlock let the owning process treat a live Config as
// a small shared mutable value without a redesign if a future method needs
// to mutate it after load (e.g. reloading LogFile).

func (c *Config) Lock()    { c.mu.Lock() }
func (c *Config) Unlock()  { c.mu.Unlock() }
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }
