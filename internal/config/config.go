// Package config loads and serves the operator configuration. Every consumer
// reads through a Manager so a reload swaps the whole config atomically.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6971
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"

	DefaultMinTokens       = 1024
	DefaultMaxTokens       = 32000
	DefaultToolOutputLimit = 50000

	DefaultBreakerFailureThreshold = 5
	DefaultBreakerSuccessThreshold = 2
	DefaultBreakerTimeoutSeconds   = 30
)

// Provider is one configured upstream backend.
type Provider struct {
	Name    string `json:"name" yaml:"name"`
	APIBase string `json:"api_base_url" yaml:"api_base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`

	// Cost per million tokens, used by the usage recorder. Zero means unknown.
	InputCostPerM  float64 `json:"input_cost_per_m,omitempty" yaml:"input_cost_per_m,omitempty"`
	OutputCostPerM float64 `json:"output_cost_per_m,omitempty" yaml:"output_cost_per_m,omitempty"`
}

// RouterConfig maps the legacy size classes onto backends. Values use the
// "provider,model" form.
type RouterConfig struct {
	Big     string `json:"big,omitempty" yaml:"big,omitempty"`
	Middle  string `json:"middle,omitempty" yaml:"middle,omitempty"`
	Small   string `json:"small,omitempty" yaml:"small,omitempty"`
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Limits bounds the outbound completion token cap.
type Limits struct {
	MinTokens int `json:"min_tokens,omitempty" yaml:"min_tokens,omitempty"`
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// ReasoningConfig applies when a request's model carries no suffix.
type ReasoningConfig struct {
	DefaultEffort string `json:"default_effort,omitempty" yaml:"default_effort,omitempty"`
	Exclude       bool   `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// ToolOutputConfig bounds forwarded tool-result bodies.
type ToolOutputConfig struct {
	MaxChars int  `json:"max_chars,omitempty" yaml:"max_chars,omitempty"`
	Disable  bool `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold int `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	TimeoutSeconds   int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

type Config struct {
	Host         string           `json:"host,omitempty" yaml:"host,omitempty"`
	Port         int              `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey       string           `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Providers    []Provider       `json:"providers" yaml:"providers"`
	Router       RouterConfig     `json:"router" yaml:"router"`
	Limits       Limits           `json:"limits,omitempty" yaml:"limits,omitempty"`
	Reasoning    ReasoningConfig  `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	ToolOutput   ToolOutputConfig `json:"tool_output,omitempty" yaml:"tool_output,omitempty"`
	StripOrphans bool             `json:"strip_orphans,omitempty" yaml:"strip_orphans,omitempty"`
	Breaker      BreakerConfig    `json:"breaker,omitempty" yaml:"breaker,omitempty"`
}

// FindProvider returns the provider entry with the given name.
func (c *Config) FindProvider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Limits.MinTokens == 0 {
		c.Limits.MinTokens = DefaultMinTokens
	}
	if c.Limits.MaxTokens == 0 {
		c.Limits.MaxTokens = DefaultMaxTokens
	}
	if c.ToolOutput.MaxChars == 0 {
		c.ToolOutput.MaxChars = DefaultToolOutputLimit
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = DefaultBreakerSuccessThreshold
	}
	if c.Breaker.TimeoutSeconds == 0 {
		c.Breaker.TimeoutSeconds = DefaultBreakerTimeoutSeconds
	}
}

type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// Load reads the active config file, preferring YAML over JSON when both
// exist, and applies defaults.
func (m *Manager) Load() (*Config, error) {
	path := m.GetPath()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if filepath.Ext(path) == ".yaml" {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	m.configValue.Store(&cfg)
	return &cfg, nil
}

// Get returns the loaded config, loading on first use. When no config file
// exists a default config is returned.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		cfg.applyDefaults()
	}
	return cfg
}

// Save writes the config as JSON and makes it the active config.
func (m *Manager) Save(cfg *Config) error {
	path := filepath.Join(m.baseDir, DefaultConfigFilename)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	cfg.applyDefaults()
	m.configValue.Store(cfg)
	return nil
}

// GetPath returns the active config file path: the YAML file when present,
// otherwise the JSON file.
func (m *Manager) GetPath() string {
	yamlPath := filepath.Join(m.baseDir, DefaultYAMLFilename)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return filepath.Join(m.baseDir, DefaultConfigFilename)
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetPath())
	return err == nil
}
