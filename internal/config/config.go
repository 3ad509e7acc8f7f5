// Package config handles dombind configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level dombind configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Pages     []PageConfig    `yaml:"pages"`
	Picker    PickerConfig    `yaml:"picker"`
	Highlight HighlightConfig `yaml:"highlight"`
	Agent     AgentConfig     `yaml:"agent"`
	Store     StoreConfig     `yaml:"store"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig defines a page to attach the binder to at startup.
type PageConfig struct {
	ID           string `yaml:"id"`
	URL          string `yaml:"url"`
	RootSelector string `yaml:"root_selector"`
}

// PickerConfig tunes interactive picking sessions.
type PickerConfig struct {
	// DefaultTimeout is used when StartSession gets no timeout.
	// Clamped to [1s, 60s] at session start.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// HighlightConfig tunes the overlay highlight layer.
type HighlightConfig struct {
	MaxMatches   int    `yaml:"max_matches"`
	DefaultColor string `yaml:"default_color"`
}

// AgentConfig tunes the injected in-page agent.
type AgentConfig struct {
	// EnsureInterval is how often the healer verifies the agent and its
	// control surface are still mounted.
	EnsureInterval time.Duration `yaml:"ensure_interval"`
}

// StoreConfig locates the SQLite databases.
type StoreConfig struct {
	// Path is the container-definition database. Empty disables persistence.
	Path string `yaml:"path"`
	// RoutesPath is the connectivity routes database. Empty means routes
	// share the container database.
	RoutesPath string `yaml:"routes_path"`
	// WatchInterval is the data_version polling interval for hot-reload.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// BridgeConfig controls the HTTP command bridge.
type BridgeConfig struct {
	Listen string `yaml:"listen"`
	// AuthUser/AuthHash enable Basic Auth when both are set. AuthHash is a
	// bcrypt hash of the password, never the password itself.
	AuthUser string `yaml:"auth_user"`
	AuthHash string `yaml:"auth_hash"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Picker.DefaultTimeout <= 0 {
		c.Picker.DefaultTimeout = 15 * time.Second
	}
	if c.Highlight.MaxMatches <= 0 {
		c.Highlight.MaxMatches = 50
	}
	if c.Highlight.DefaultColor == "" {
		c.Highlight.DefaultColor = "#2f81f7"
	}
	if c.Agent.EnsureInterval <= 0 {
		c.Agent.EnsureInterval = 1500 * time.Millisecond
	}
	if c.Store.WatchInterval <= 0 {
		c.Store.WatchInterval = 200 * time.Millisecond
	}
	if c.Bridge.Listen == "" {
		c.Bridge.Listen = "127.0.0.1:8473"
	}
}
