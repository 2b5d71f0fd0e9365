package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"citescope/internal/domain"
	"citescope/internal/logger"
)

// Config models citescope.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr" validate:"required"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Search    SearchConfig    `yaml:"search"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Agent     AgentConfig     `yaml:"agent"`
	Report    ReportConfig    `yaml:"report"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   logger.Config   `yaml:"logging"`
	Webhooks  []WebhookConfig `yaml:"webhooks" validate:"dive"`
	Schedules []Schedule      `yaml:"schedules" validate:"dive"`
}

type StoreConfig struct {
	Backend        string `yaml:"backend" validate:"oneof=sqlite redis memory"`
	CacheSize      int    `yaml:"cache_size" validate:"gt=0"`
	WriteRetries   int    `yaml:"write_retries" validate:"gte=0"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms" validate:"gte=0"`
	QueueSize      int    `yaml:"queue_size" validate:"gt=0"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SearchConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	RatePerSecond  float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst          int     `yaml:"burst" validate:"gte=0"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gt=0"`
}

type FetchConfig struct {
	Mode           string `yaml:"mode" validate:"oneof=http chrome auto"`
	UserAgent      string `yaml:"user_agent"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gt=0"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes" validate:"gt=0"`
	Concurrency    int    `yaml:"concurrency" validate:"gt=0"`
	Headless       bool   `yaml:"headless"`
}

type AgentConfig struct {
	Provider       string  `yaml:"provider" validate:"oneof=anthropic gemini none"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"api_key"`
	MaxTokens      int     `yaml:"max_tokens" validate:"gt=0"`
	Temperature    float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gt=0"`
}

type ReportConfig struct {
	Dir                  string `yaml:"dir"`
	RemoteURL            string `yaml:"remote_url"`
	RemoteTimeoutSeconds int    `yaml:"remote_timeout_seconds" validate:"gt=0"`
	Compress             bool   `yaml:"compress"`
}

// Tier sizes the discovery and extraction fan-out for one depth.
type Tier struct {
	Variants int `yaml:"variants" validate:"gt=0"`
	Results  int `yaml:"results" validate:"gt=0"`
	Pages    int `yaml:"pages" validate:"gt=0"`
}

type PipelineConfig struct {
	DefaultDepth   string          `yaml:"default_depth" validate:"oneof=quick standard deep"`
	DefaultCountry string          `yaml:"default_country" validate:"len=2"`
	DefaultFormat  string          `yaml:"default_format" validate:"oneof=pdf html markdown"`
	MaxAssets      int             `yaml:"max_assets" validate:"gte=0"`
	Tiers          map[string]Tier `yaml:"tiers" validate:"required,dive"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds" validate:"gte=0"`
}

// Schedule re-runs an analysis on a cron expression.
type Schedule struct {
	Name   string           `yaml:"name" validate:"required"`
	Cron   string           `yaml:"cron" validate:"required"`
	Domain string           `yaml:"domain" validate:"required"`
	Topic  string           `yaml:"topic" validate:"required"`
	Config domain.JobConfig `yaml:"config"`
}

var validate = validator.New()

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with citescope config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config when the workspace has no config file.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, depth := range []string{domain.DepthQuick, domain.DepthStandard, domain.DepthDeep} {
		if _, ok := c.Pipeline.Tiers[depth]; !ok {
			return fmt.Errorf("config.pipeline.tiers.%s is required", depth)
		}
	}
	if c.Store.Backend == "redis" && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("config.redis.addr is required for the redis store backend")
	}
	names := map[string]bool{}
	for _, s := range c.Schedules {
		if names[s.Name] {
			return fmt.Errorf("schedule %s defined twice", s.Name)
		}
		names[s.Name] = true
	}
	return nil
}

// Tier returns the fan-out sizing for depth, falling back to the default depth.
func (c *Config) Tier(depth string) Tier {
	if t, ok := c.Pipeline.Tiers[depth]; ok {
		return t
	}
	return c.Pipeline.Tiers[c.Pipeline.DefaultDepth]
}

// ApplyOverrides replaces values with non-empty results of get, keyed by
// dotted config path. The CLI passes viper lookups backed by CITESCOPE_* env vars.
func (c *Config) ApplyOverrides(get func(key string) string) error {
	for _, o := range overrides {
		v := strings.TrimSpace(get(o.key))
		if v == "" {
			continue
		}
		if err := o.set(c, v); err != nil {
			return fmt.Errorf("override %s: %w", o.key, err)
		}
	}
	return c.Validate()
}

// OverrideKeys lists the dotted keys ApplyOverrides understands.
func OverrideKeys() []string {
	keys := make([]string, 0, len(overrides))
	for _, o := range overrides {
		keys = append(keys, o.key)
	}
	return keys
}

var overrides = []struct {
	key string
	set func(*Config, string) error
}{
	{"server.addr", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"store.backend", func(c *Config, v string) error { c.Store.Backend = v; return nil }},
	{"redis.addr", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"redis.password", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"search.endpoint", func(c *Config, v string) error { c.Search.Endpoint = v; return nil }},
	{"search.api_key", func(c *Config, v string) error { c.Search.APIKey = v; return nil }},
	{"fetch.mode", func(c *Config, v string) error { c.Fetch.Mode = v; return nil }},
	{"agent.provider", func(c *Config, v string) error { c.Agent.Provider = v; return nil }},
	{"agent.model", func(c *Config, v string) error { c.Agent.Model = v; return nil }},
	{"agent.api_key", func(c *Config, v string) error { c.Agent.APIKey = v; return nil }},
	{"report.dir", func(c *Config, v string) error { c.Report.Dir = v; return nil }},
	{"report.remote_url", func(c *Config, v string) error { c.Report.RemoteURL = v; return nil }},
	{"logging.level", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"pipeline.max_assets", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Pipeline.MaxAssets = n
		return nil
	}},
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "citescope.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Pipeline.Tiers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Pipeline.Tiers == nil {
		cfg.Pipeline.Tiers = Default().Pipeline.Tiers
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

store:
  backend: sqlite
  cache_size: 512
  write_retries: 3
  retry_backoff_ms: 200
  queue_size: 256

redis:
  addr: ""
  db: 0
  key_prefix: citescope

search:
  endpoint: https://api.search.brave.com/res/v1/web/search
  rate_per_second: 1
  burst: 1
  timeout_seconds: 15

fetch:
  mode: http
  user_agent: "citescope/0.1 (+https://citescope.dev/bot)"
  timeout_seconds: 30
  max_body_bytes: 5242880
  concurrency: 4
  headless: true

agent:
  provider: anthropic
  model: claude-sonnet-4-5
  max_tokens: 4096
  temperature: 0.3
  timeout_seconds: 120

report:
  dir: reports
  remote_timeout_seconds: 60
  compress: true

pipeline:
  default_depth: standard
  default_country: US
  default_format: pdf
  max_assets: 5
  tiers:
    quick:
      variants: 3
      results: 5
      pages: 5
    standard:
      variants: 5
      results: 10
      pages: 10
    deep:
      variants: 8
      results: 10
      pages: 15

logging:
  level: info
`
