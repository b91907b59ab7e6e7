// Package config loads genforge settings from genforge.yaml, GENFORGE_*
// environment variables and command-line flags.
//
// Configuration is read once at startup through a viper instance and
// unmarshalled into a Config value. Callers pass the Config (or the pieces
// they need) explicitly; there is no package-level config singleton. Only
// decrypted secrets are held in process memory, see secrets.go.
//
// Resolution order for every key, highest wins:
//
//	flag > GENFORGE_<SECTION>_<KEY> env var > genforge.yaml > built-in default
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"genforge/pkg/logx"
)

// Provider identifiers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvPassword        = "GENFORGE_PASSWORD"
)

// Continuation policies for a failed implementation step.
const (
	PolicyBestEffort = "best_effort"
	PolicyFailFast   = "fail_fast"
)

// Relay event modes.
const (
	EventModeQueue    = "queue"
	EventModeSnapshot = "snapshot"
)

// Defaults.
const (
	EnvPrefix              = "GENFORGE"
	ConfigName             = "genforge"
	DefaultConfigFile      = "genforge.yaml"
	DefaultModel           = "claude-sonnet-4-5"
	DefaultMaxTokens       = 8192
	DefaultTemperature     = 0.3
	DefaultOuterStepBudget = 150
	DefaultInnerStepBudget = 15
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultDrainGrace      = 500 * time.Millisecond
	DefaultSettleDelay     = 500 * time.Millisecond
	DefaultServerAddr      = ":8000"
	DefaultDBPath          = ".genforge/genforge.db"
	DefaultSecretsPath     = ".genforge/secrets.json.enc"
	DefaultSandboxRoot     = "generated_project"
	DefaultCommandTimeout  = 30 * time.Second
	DefaultOllamaHost      = "http://localhost:11434"
)

// SandboxConfig locates the directory generated files are confined to.
type SandboxConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// ModelConfig selects the LLM used for every stage.
type ModelConfig struct {
	Name        string  `mapstructure:"name" yaml:"name"`
	Provider    string  `mapstructure:"provider" yaml:"provider"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// EffectiveName strips the explicit "ollama:" routing prefix.
func (m *ModelConfig) EffectiveName() string {
	return strings.TrimPrefix(m.Name, "ollama:")
}

// OrchestratorConfig bounds the pipeline.
type OrchestratorConfig struct {
	OuterStepBudget    int    `mapstructure:"outer_step_budget" yaml:"outer_step_budget"`
	InnerStepBudget    int    `mapstructure:"inner_step_budget" yaml:"inner_step_budget"`
	ContinuationPolicy string `mapstructure:"continuation_policy" yaml:"continuation_policy"`
}

// RelayConfig controls how file events reach observers.
type RelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DrainGrace   time.Duration `mapstructure:"drain_grace" yaml:"drain_grace"`
	EventMode    string        `mapstructure:"event_mode" yaml:"event_mode"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// ServerConfig configures the observer endpoint.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// PersistenceConfig locates the run history database.
type PersistenceConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// ToolsConfig configures agent tools.
type ToolsConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// SecretsConfig locates the encrypted secrets file.
type SecretsConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig mirrors the DEBUG/DEBUG_DOMAINS switches.
type LoggingConfig struct {
	Debug   bool     `mapstructure:"debug" yaml:"debug"`
	Domains []string `mapstructure:"domains" yaml:"domains"`
}

// Config is the full genforge configuration.
type Config struct {
	Sandbox      SandboxConfig      `mapstructure:"sandbox" yaml:"sandbox"`
	Model        ModelConfig        `mapstructure:"model" yaml:"model"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Relay        RelayConfig        `mapstructure:"relay" yaml:"relay"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Persistence  PersistenceConfig  `mapstructure:"persistence" yaml:"persistence"`
	Tools        ToolsConfig        `mapstructure:"tools" yaml:"tools"`
	Secrets      SecretsConfig      `mapstructure:"secrets" yaml:"secrets"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{Root: DefaultSandboxRoot},
		Model: ModelConfig{
			Name:        DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Orchestrator: OrchestratorConfig{
			OuterStepBudget:    DefaultOuterStepBudget,
			InnerStepBudget:    DefaultInnerStepBudget,
			ContinuationPolicy: PolicyBestEffort,
		},
		Relay: RelayConfig{
			PollInterval: DefaultPollInterval,
			DrainGrace:   DefaultDrainGrace,
			EventMode:    EventModeQueue,
			SettleDelay:  DefaultSettleDelay,
		},
		Server: ServerConfig{
			Addr:           DefaultServerAddr,
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Persistence: PersistenceConfig{DBPath: DefaultDBPath},
		Tools:       ToolsConfig{CommandTimeout: DefaultCommandTimeout},
		Secrets:     SecretsConfig{Path: DefaultSecretsPath},
	}
}

// SetDefaults registers every key on v so env vars resolve even without a config file.
// Durations are registered in their string form so AllSettings round-trips through YAML.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("sandbox.root", d.Sandbox.Root)

	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.base_url", d.Model.BaseURL)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.temperature", d.Model.Temperature)

	v.SetDefault("orchestrator.outer_step_budget", d.Orchestrator.OuterStepBudget)
	v.SetDefault("orchestrator.inner_step_budget", d.Orchestrator.InnerStepBudget)
	v.SetDefault("orchestrator.continuation_policy", d.Orchestrator.ContinuationPolicy)

	v.SetDefault("relay.poll_interval", d.Relay.PollInterval.String())
	v.SetDefault("relay.drain_grace", d.Relay.DrainGrace.String())
	v.SetDefault("relay.event_mode", d.Relay.EventMode)
	v.SetDefault("relay.settle_delay", d.Relay.SettleDelay.String())

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("persistence.db_path", d.Persistence.DBPath)
	v.SetDefault("tools.command_timeout", d.Tools.CommandTimeout.String())
	v.SetDefault("secrets.path", d.Secrets.Path)

	v.SetDefault("logging.debug", d.Logging.Debug)
	v.SetDefault("logging.domains", []string{})
}

// NewViper builds a viper instance with defaults, env binding and the config
// file read in. An explicit configFile must exist; otherwise genforge.yaml is
// searched in the working directory and a missing file is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	// GENFORGE_MODEL_NAME for model.name
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config, infers the provider and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Model.Provider == "" && cfg.Model.Name != "" {
		provider, err := InferProvider(cfg.Model.Name)
		if err != nil {
			return nil, err
		}
		cfg.Model.Provider = provider
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	if file := v.ConfigFileUsed(); file != "" {
		logx.NewLogger("config").Debug("loaded %s (model=%s provider=%s)", file, cfg.Model.Name, cfg.Model.Provider)
	}
	return &cfg, nil
}

// ValidationError describes one invalid key.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid key.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks every key and returns all problems found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.Sandbox.Root) == "" {
		add("sandbox.root", "must not be empty")
	}
	if c.Model.Name == "" {
		add("model.name", "must not be empty")
	}
	switch c.Model.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
	default:
		add("model.provider", "unknown provider %q", c.Model.Provider)
	}
	if c.Model.MaxTokens <= 0 {
		add("model.max_tokens", "must be positive, got %d", c.Model.MaxTokens)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		add("model.temperature", "must be between 0.0 and 2.0, got %g", c.Model.Temperature)
	}
	if c.Orchestrator.OuterStepBudget <= 0 {
		add("orchestrator.outer_step_budget", "must be positive, got %d", c.Orchestrator.OuterStepBudget)
	}
	if c.Orchestrator.InnerStepBudget <= 0 {
		add("orchestrator.inner_step_budget", "must be positive, got %d", c.Orchestrator.InnerStepBudget)
	}
	switch c.Orchestrator.ContinuationPolicy {
	case PolicyBestEffort, PolicyFailFast:
	default:
		add("orchestrator.continuation_policy", "must be %s or %s, got %q", PolicyBestEffort, PolicyFailFast, c.Orchestrator.ContinuationPolicy)
	}
	if c.Relay.PollInterval <= 0 {
		add("relay.poll_interval", "must be positive")
	}
	if c.Relay.DrainGrace < 0 {
		add("relay.drain_grace", "must not be negative")
	}
	switch c.Relay.EventMode {
	case EventModeQueue, EventModeSnapshot:
	default:
		add("relay.event_mode", "must be %s or %s, got %q", EventModeQueue, EventModeSnapshot, c.Relay.EventMode)
	}
	if c.Relay.EventMode == EventModeSnapshot && c.Relay.SettleDelay <= 0 {
		add("relay.settle_delay", "must be positive in snapshot mode")
	}
	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Tools.CommandTimeout <= 0 {
		add("tools.command_timeout", "must be positive")
	}
	return errs
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns maps model name prefixes to providers so new models work without code changes.
//
//nolint:gochecknoglobals // inference rules
var ProviderPatterns = []ProviderPattern{
	{"ollama:", ProviderOllama}, // explicit prefix like "ollama:phi4"
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"gpt-oss", ProviderOllama},
}

// InferProvider returns the provider for modelName using the longest matching prefix.
func InferProvider(modelName string) (string, error) {
	best := -1
	for i := range ProviderPatterns {
		p := &ProviderPatterns[i]
		if strings.HasPrefix(modelName, p.Prefix) && (best < 0 || len(p.Prefix) > len(ProviderPatterns[best].Prefix)) {
			best = i
		}
	}
	if best < 0 {
		return "", fmt.Errorf("unknown model '%s': no provider pattern matches, set model.provider explicitly", modelName)
	}
	return ProviderPatterns[best].Provider, nil
}

// GetAPIKey returns the credential for provider from the secrets file or the
// environment. For Ollama it returns the host URL instead.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = DefaultOllamaHost
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}

// WriteDefault writes the defaults in v to path as YAML. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(v *viper.Viper, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	header := []byte("# genforge configuration\n# Every key can be overridden with GENFORGE_<SECTION>_<KEY>.\n")
	if err := os.WriteFile(path, append(header, data...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
