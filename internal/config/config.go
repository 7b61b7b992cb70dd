package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models agentops.yml.
type Config struct {
	Worker struct {
		ID               string `yaml:"id"`
		PollInterval     string `yaml:"poll_interval"`
		StaleAfter       string `yaml:"stale_after"`
		MaxContentLength int    `yaml:"max_content_length"`
	} `yaml:"worker"`
	Heartbeat struct {
		Interval      string `yaml:"interval"`
		ReactionBatch int    `yaml:"reaction_batch"`
	} `yaml:"heartbeat"`
	Roundtable struct {
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"roundtable"`
	LLM struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"llm"`
	Social struct {
		Service     string `yaml:"service"`
		Handle      string `yaml:"handle"`
		AppPassword string `yaml:"app_password"`
	} `yaml:"social"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Worker.ID == "" {
		return fmt.Errorf("config.worker.id is required")
	}
	for name, val := range map[string]string{
		"worker.poll_interval":     c.Worker.PollInterval,
		"worker.stale_after":       c.Worker.StaleAfter,
		"heartbeat.interval":       c.Heartbeat.Interval,
		"roundtable.poll_interval": c.Roundtable.PollInterval,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("config.%s: %w", name, err)
		}
	}
	if c.Heartbeat.ReactionBatch < 0 {
		return fmt.Errorf("config.heartbeat.reaction_batch must be >= 0")
	}
	if c.Worker.MaxContentLength < 0 {
		return fmt.Errorf("config.worker.max_content_length must be >= 0")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("config.llm.base_url is required")
	}
	return nil
}

// Duration parses a config duration string, falling back when unset.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agentops.yml")
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Values absent
// from the file keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `worker:
  id: worker-1
  poll_interval: 15s
  stale_after: 30m
  max_content_length: 100000

heartbeat:
  interval: 5m
  reaction_batch: 5

roundtable:
  poll_interval: 30s

llm:
  base_url: http://localhost:11434
  model: llama3.2

social:
  service: https://bsky.social

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
