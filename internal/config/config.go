package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration when --config is empty.
const DefaultPath = ".autotool/autotool.yaml"

// Config holds all autotool configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// DataDir is the root for registry documents, databases and logs.
	DataDir string `yaml:"data_dir"`

	// Generative model configuration
	LLM LLMConfig `yaml:"llm"`

	// Capability registry configuration
	Registry RegistryConfig `yaml:"registry"`

	// Script executor configuration
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Retry and repair policies
	Resilience ResilienceConfig `yaml:"resilience"`

	// Orchestrator thresholds
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Memory index configuration
	Memory MemoryConfig `yaml:"memory"`

	// Run history store
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "autotool",
		Version: "0.3.0",
		DataDir: ".autotool",

		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Timeout:     "120s",
			Temperature: 0.2,
		},

		Registry:     DefaultRegistryConfig(),
		Sandbox:      DefaultSandboxConfig(),
		Resilience:   DefaultResilienceConfig(),
		Orchestrator: DefaultOrchestratorConfig(),

		Memory: MemoryConfig{
			Backend:          "sqlite",
			QdrantAddr:       "localhost:6334",
			QdrantCollection: "autotool_memory",
			Embedding: EmbeddingConfig{
				Provider: "none",
				Model:    "gemini-embedding-001",
				TaskType: "SEMANTIC_SIMILARITY",
			},
		},

		Store: StoreConfig{
			Driver: "sqlite3",
			Path:   "autotool.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "autotool",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("AUTOTOOL_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if dir := os.Getenv("AUTOTOOL_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if addr := os.Getenv("AUTOTOOL_QDRANT_ADDR"); addr != "" {
		c.Memory.QdrantAddr = addr
	}
	if level := os.Getenv("AUTOTOOL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ResolvePath joins a data-relative path onto DataDir; absolute paths pass through.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// ValidProviders lists all supported generative model providers.
var ValidProviders = []string{"gemini"}

// ValidMemoryBackends lists the similarity backends.
var ValidMemoryBackends = []string{"sqlite", "qdrant"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid llm provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !contains(ValidMemoryBackends, c.Memory.Backend) {
		return fmt.Errorf("invalid memory backend: %s (valid: %v)", c.Memory.Backend, ValidMemoryBackends)
	}
	if c.Memory.Backend == "qdrant" && c.Memory.Embedding.Provider == "none" {
		return fmt.Errorf("memory backend qdrant requires an embedding provider")
	}
	if err := c.Resilience.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	return nil
}

// RequireAPIKey reports a missing model credential.
// Commands that never call the model skip this check.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or llm.api_key)")
	}
	return nil
}

// GetLLMTimeout returns the model call timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
