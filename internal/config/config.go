package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fileName = "scenecraft.yml"

// Config models scenecraft.yml.
type Config struct {
	Pipeline PipelineConfig           `yaml:"pipeline"`
	Backends map[string]BackendConfig `yaml:"backends"`
	Notify   NotifyConfig             `yaml:"notify"`
	Jobs     JobsConfig               `yaml:"jobs"`
	Server   ServerConfig             `yaml:"server"`
}

type PipelineConfig struct {
	LeaseTTL             time.Duration          `yaml:"lease_ttl"`
	RunTimeout           time.Duration          `yaml:"run_timeout"`
	PromptOverheadTokens int                    `yaml:"prompt_overhead_tokens"`
	HolderPrefix         string                 `yaml:"holder_prefix"`
	Retry                RetryConfig            `yaml:"retry"`
	Stages               map[string]StageConfig `yaml:"stages"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// StageConfig overrides a role's defaults. Zero values keep the role default.
type StageConfig struct {
	Backend     string   `yaml:"backend"`
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

type BackendConfig struct {
	Kind                 string        `yaml:"kind"`
	BaseURL              string        `yaml:"base_url"`
	APIKeyEnv            string        `yaml:"api_key_env"`
	Model                string        `yaml:"model"`
	Timeout              time.Duration `yaml:"timeout"`
	InputCostPerMillion  float64       `yaml:"input_cost_per_million"`
	OutputCostPerMillion float64       `yaml:"output_cost_per_million"`
}

type NotifyConfig struct {
	NATSURL       string          `yaml:"nats_url"`
	SubjectPrefix string          `yaml:"subject_prefix"`
	Webhooks      []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type JobsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

type ServerConfig struct {
	Addr             string `yaml:"addr"`
	BasePath         string `yaml:"base_path"`
	JWTSecretEnv     string `yaml:"jwt_secret_env"`
	AllowActorHeader bool   `yaml:"allow_actor_header"`
}

var knownRoles = map[string]struct{}{
	"writer": {}, "director": {}, "cinematographer": {}, "editor": {}, "producer": {}, "showrunner": {},
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Pipeline.LeaseTTL <= 0 {
		return fmt.Errorf("config.pipeline.lease_ttl must be positive")
	}
	if c.Pipeline.RunTimeout < 0 {
		return fmt.Errorf("config.pipeline.run_timeout must not be negative")
	}
	if c.Pipeline.RunTimeout > c.Pipeline.LeaseTTL {
		return fmt.Errorf("config.pipeline.run_timeout %s exceeds lease_ttl %s", c.Pipeline.RunTimeout, c.Pipeline.LeaseTTL)
	}
	if c.Pipeline.PromptOverheadTokens < 0 {
		return fmt.Errorf("config.pipeline.prompt_overhead_tokens must not be negative")
	}
	if c.Pipeline.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.pipeline.retry.max_attempts must be at least 1")
	}
	if c.Pipeline.Retry.InitialDelay < 0 {
		return fmt.Errorf("config.pipeline.retry.initial_delay must not be negative")
	}
	if c.Pipeline.Retry.Multiplier < 1 {
		return fmt.Errorf("config.pipeline.retry.multiplier must be >= 1")
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("config.backends is required")
	}
	for name, b := range c.Backends {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.backends contains empty name")
		}
		switch b.Kind {
		case "stub":
		case "openai":
			if strings.TrimSpace(b.BaseURL) == "" {
				return fmt.Errorf("backend %s: base_url is required for kind openai", name)
			}
			if strings.TrimSpace(b.Model) == "" {
				return fmt.Errorf("backend %s: model is required for kind openai", name)
			}
		default:
			return fmt.Errorf("backend %s: unknown kind %q", name, b.Kind)
		}
		if b.InputCostPerMillion < 0 || b.OutputCostPerMillion < 0 {
			return fmt.Errorf("backend %s: costs must not be negative", name)
		}
	}
	for role, stage := range c.Pipeline.Stages {
		if _, ok := knownRoles[role]; !ok {
			return fmt.Errorf("config.pipeline.stages: unknown role %s", role)
		}
		if stage.Backend != "" {
			if _, ok := c.Backends[stage.Backend]; !ok {
				return fmt.Errorf("stage %s references unknown backend %s", role, stage.Backend)
			}
		}
		if stage.MaxTokens < 0 {
			return fmt.Errorf("stage %s: max_tokens must not be negative", role)
		}
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
	}
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("config.jobs.poll_interval must be positive")
	}
	if c.Jobs.LeaseTTL <= 0 {
		return fmt.Errorf("config.jobs.lease_ttl must be positive")
	}
	if c.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("config.jobs.max_attempts must be at least 1")
	}
	return nil
}

// StageBackend names the backend a role runs on; the first backend in the
// default template is "stub".
func (c *Config) StageBackend(role string) string {
	if s, ok := c.Pipeline.Stages[role]; ok && s.Backend != "" {
		return s.Backend
	}
	if _, ok := c.Backends["default"]; ok {
		return "default"
	}
	return "stub"
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sc init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config on top of the defaults and validates it.
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

const defaultTemplate = `pipeline:
  lease_ttl: 5m
  run_timeout: 0s
  prompt_overhead_tokens: 500
  holder_prefix: pipeline
  retry:
    max_attempts: 3
    initial_delay: 1s
    multiplier: 2
  stages:
    writer:
      backend: stub
    director:
      backend: stub
    cinematographer:
      backend: stub
    editor:
      backend: stub
    producer:
      backend: stub
    showrunner:
      backend: stub

backends:
  stub:
    kind: stub
    model: stub-1
    input_cost_per_million: 2
    output_cost_per_million: 10

notify:
  subject_prefix: scenecraft

jobs:
  poll_interval: 2s
  lease_ttl: 6m
  max_attempts: 5
  retry_delay: 30s

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret_env: SCENECRAFT_JWT_SECRET
  allow_actor_header: true
`
