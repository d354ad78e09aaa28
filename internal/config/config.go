// Package config loads dietplan settings from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haricheung/dietplan/internal/match"
)

// FileName is the config file looked up in the working directory.
const FileName = "dietplan.yaml"

// Backends accepted in llm.backend / DIETPLAN_BACKEND.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

const defaultTier = "DIETPLAN"

const defaultConfigYAML = `# dietplan configuration
llm:
  # openai (any OpenAI-compatible /chat/completions endpoint) or ollama
  backend: openai
  # env prefix for the openai backend: {tier}_API_KEY, {tier}_BASE_URL, {tier}_MODEL
  tier: DIETPLAN

ollama:
  base_url: http://127.0.0.1:11434
  model: llama3

# matching bands; zero keeps the default
tolerance:
  min_age: 15
  age_below: 2
  weight: 5
  height: 5
  caloric: 50

# audit and generation logs; defaults to ~/.cache/dietplan
cache_dir: ""
`

// LLMConfig selects the chat backend.
type LLMConfig struct {
	Backend string `yaml:"backend"`
	Tier    string `yaml:"tier"`
}

// OllamaConfig configures the native Ollama backend.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Config models dietplan.yaml.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Tolerance match.Tolerance `yaml:"tolerance"`
	CacheDir  string          `yaml:"cache_dir"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		LLM:       LLMConfig{Backend: BackendOpenAI, Tier: defaultTier},
		Tolerance: match.DefaultTolerance(),
		CacheDir:  filepath.Join(home, ".cache", "dietplan"),
	}
}

// Load reads path (when it exists), fills defaults and applies environment
// overrides. An empty path means FileName in the working directory.
//
// Expectations:
//   - A missing file is not an error; defaults are returned
//   - Zero or empty file values fall back to defaults
//   - DIETPLAN_BACKEND and DIETPLAN_CACHE_DIR override file values
//   - A leading "~/" in cache_dir is expanded to the home directory
//   - An unknown backend or unparsable YAML is an error naming the file
func Load(path string) (Config, error) {
	if path == "" {
		path = FileName
	}
	cfg := Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("config: no config file, using defaults", "path", path)
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes a commented default config to path unless it exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("DIETPLAN_BACKEND")); v != "" {
		c.LLM.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("DIETPLAN_CACHE_DIR")); v != "" {
		c.CacheDir = v
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	c.LLM.Backend = strings.ToLower(strings.TrimSpace(c.LLM.Backend))
	if c.LLM.Backend == "" {
		c.LLM.Backend = d.LLM.Backend
	}
	if strings.TrimSpace(c.LLM.Tier) == "" {
		c.LLM.Tier = d.LLM.Tier
	}
	c.Tolerance = c.Tolerance.WithDefaults()
	switch {
	case c.CacheDir == "":
		c.CacheDir = d.CacheDir
	case strings.HasPrefix(c.CacheDir, "~/"):
		home, _ := os.UserHomeDir()
		c.CacheDir = filepath.Join(home, c.CacheDir[2:])
	}
}

func (c *Config) validate() error {
	switch c.LLM.Backend {
	case BackendOpenAI, BackendOllama:
	default:
		return fmt.Errorf("unknown llm backend %q (want %s or %s)", c.LLM.Backend, BackendOpenAI, BackendOllama)
	}
	if c.Tolerance.MinAge < 0 || c.Tolerance.AgeBelow < 0 ||
		c.Tolerance.Weight < 0 || c.Tolerance.Height < 0 || c.Tolerance.Caloric < 0 {
		return fmt.Errorf("tolerance values must not be negative")
	}
	return nil
}

// AuditLogPath is where the auditor writes its JSONL records.
func (c Config) AuditLogPath() string { return filepath.Join(c.CacheDir, "audit.jsonl") }

// GenerationLogDir is where per-session generation logs are written.
func (c Config) GenerationLogDir() string { return filepath.Join(c.CacheDir, "generations") }

// DebugLogPath receives log output when not running verbose.
func (c Config) DebugLogPath() string { return filepath.Join(c.CacheDir, "debug.log") }
