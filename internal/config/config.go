package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models auditline.yml.
type Config struct {
	Tenant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"tenant"`
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret             string `yaml:"jwt_secret"`
		AllowLegacyTenantHead bool   `yaml:"allow_legacy_tenant_header"`
	} `yaml:"auth"`
	Workflow struct {
		AutosaveIntervalSeconds int `yaml:"autosave_interval_seconds"`
		PhaseDebounceMillis     int `yaml:"phase_debounce_ms"`
	} `yaml:"workflow"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook is one outbound event subscription.
type Webhook struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with al init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	if c.Workflow.AutosaveIntervalSeconds < 0 {
		return fmt.Errorf("config.workflow.autosave_interval_seconds must not be negative")
	}
	if c.Workflow.PhaseDebounceMillis < 0 {
		return fmt.Errorf("config.workflow.phase_debounce_ms must not be negative")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// AutosaveInterval returns the configured autosave interval, or the default
// when unset.
func (c *Config) AutosaveInterval() time.Duration {
	if c == nil || c.Workflow.AutosaveIntervalSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Workflow.AutosaveIntervalSeconds) * time.Second
}

// PhaseDebounce returns the configured phase-change debounce window, or the
// default when unset.
func (c *Config) PhaseDebounce() time.Duration {
	if c == nil || c.Workflow.PhaseDebounceMillis == 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Workflow.PhaseDebounceMillis) * time.Millisecond
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "auditline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID, tenantID)
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	cfg.Tenant.ID = tenantID
	cfg.Tenant.Name = tenantID
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(tenantID))).Decode(&cfg)
	return &cfg
}

const defaultTemplate = `tenant:
  id: %s
  name: %s

server:
  listen: ":8080"
  base_path: /v1

auth:
  jwt_secret: ""
  allow_legacy_tenant_header: false

workflow:
  autosave_interval_seconds: 30
  phase_debounce_ms: 500

webhooks: []
`
