// Package config loads daemon configuration from YAML, merged over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LogConfig controls logger output.
type LogConfig struct {
	File   string `yaml:"file,omitempty"`   // Log file path; empty logs to stdout
	Pretty bool   `yaml:"pretty,omitempty"` // Console output; only valid without a file
}

// IndexConfig selects the similarity index backend.
type IndexConfig struct {
	Backend string `yaml:"backend,omitempty"` // "flat", "matrix", or "auto"
}

// EmbeddingConfig orders the embedding providers. The hash fallback is
// always appended last and needs no configuration.
type EmbeddingConfig struct {
	Providers     []string `yaml:"providers,omitempty"` // e.g. ["openai", "ollama"]
	OpenAIAPIKey  string   `yaml:"openai_api_key,omitempty"`
	OpenAIBaseURL string   `yaml:"openai_base_url,omitempty"`
	OpenAIModel   string   `yaml:"openai_model,omitempty"`
	OllamaModel   string   `yaml:"ollama_model,omitempty"`
}

// PlannerConfig selects the planner collaborator.
type PlannerConfig struct {
	Provider        string `yaml:"provider,omitempty"` // "openai", "anthropic", "ollama", or "none"
	OpenAIAPIKey    string `yaml:"openai_api_key,omitempty"`
	OpenAIBaseURL   string `yaml:"openai_base_url,omitempty"`
	OpenAIModel     string `yaml:"openai_model,omitempty"`
	AnthropicAPIKey string `yaml:"anthropic_api_key,omitempty"`
	AnthropicModel  string `yaml:"anthropic_model,omitempty"`
	OllamaModel     string `yaml:"ollama_model,omitempty"`
}

// SweepConfig controls the periodic re-scoring sweep.
type SweepConfig struct {
	Schedule string `yaml:"schedule,omitempty"` // Cron expression or Go duration
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Config is the complete daemon configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir,omitempty"`
	DBPath    string          `yaml:"db_path,omitempty"` // Relative paths resolve under DataDir
	Log       LogConfig       `yaml:"log,omitempty"`
	Index     IndexConfig     `yaml:"index,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding,omitempty"`
	Planner   PlannerConfig   `yaml:"planner,omitempty"`
	Sweep     SweepConfig     `yaml:"sweep,omitempty"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		DataDir: "./data",
		DBPath:  "rag.sqlite",
		Index: IndexConfig{
			Backend: "auto",
		},
		Embedding: EmbeddingConfig{
			Providers:   []string{"openai", "ollama"},
			OpenAIModel: "text-embedding-3-small",
			OllamaModel: "mxbai-embed-large",
		},
		Planner: PlannerConfig{
			Provider:       "openai",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-3-5-haiku-latest",
			OllamaModel:    "llama3.1:8b",
		},
		Sweep: SweepConfig{
			Schedule: "@hourly",
		},
	}
}

// Load reads the YAML file at path (if it exists) and merges it over
// Defaults; file values take precedence. API keys fall back to the usual
// environment variables when the file leaves them empty.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		expanded := expandPath(path)
		data, err := os.ReadFile(expanded) //nolint:gosec // G304: operator-specified config path
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge config: %w", err)
			}
		}
	}

	if cfg.Embedding.OpenAIAPIKey == "" {
		cfg.Embedding.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Planner.OpenAIAPIKey == "" {
		cfg.Planner.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Planner.AnthropicAPIKey == "" {
		cfg.Planner.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	if !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(cfg.DataDir, cfg.DBPath)
	}

	return &cfg, nil
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
