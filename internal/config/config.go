// Package config loads runtime configuration from agentworld.toml with
// environment overrides.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Storage   StorageConfig   `toml:"storage"`
	Workspace WorkspaceConfig `toml:"workspace"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	Deployment string `toml:"deployment"`  // azure
	APIVersion string `toml:"api_version"` // azure
}

type StorageConfig struct {
	// Backend selects the storage implementation:
	// file (default), memory, sqlite, postgres.
	Backend     string `toml:"backend"`
	DataPath    string `toml:"data_path"`    // file backend root
	SQLitePath  string `toml:"sqlite_path"`  // sqlite database file
	PostgresURL string `toml:"postgres_url"` // pgx connection string
}

type WorkspaceConfig struct {
	Path            string `toml:"path"`
	ShellTimeoutSec int    `toml:"shell_timeout_sec"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		LLM: LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Storage: StorageConfig{
			Backend:    "file",
			DataPath:   filepath.Join("data", "worlds"),
			SQLitePath: filepath.Join(home, ".agentworld", "agentworld.db"),
		},
		Workspace: WorkspaceConfig{
			Path:            filepath.Join(home, "agentworld-workspace"),
			ShellTimeoutSec: 60,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// An empty path falls back to AGENT_WORLD_CONFIG, then agentworld.toml.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = os.Getenv("AGENT_WORLD_CONFIG")
	}
	if path == "" {
		path = "agentworld.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("AGENT_WORLD_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("AGENT_WORLD_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENT_WORLD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("AGENT_WORLD_STORE"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("AGENT_WORLD_DATA_PATH"); v != "" {
		cfg.Storage.DataPath = v
	}
	if v := os.Getenv("AGENT_WORLD_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("AGENT_WORLD_POSTGRES_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("AGENT_WORLD_WORKSPACE"); v != "" {
		cfg.Workspace.Path = v
	}
	if os.Getenv("AGENT_WORLD_OBSERVER_ENABLED") == "true" || os.Getenv("AGENT_WORLD_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}

	return cfg
}
