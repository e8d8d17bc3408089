// Package config loads service configuration from a YAML file with
// environment overrides. All fields have safe defaults so the binary runs
// locally against an Ollama instance without any setup. Secrets are never
// part of the file: the JWT secret comes from the environment and backend
// credentials are resolved by name through the credential resolver.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        Server      `yaml:"server"`
	Auth          Auth        `yaml:"auth"`
	Database      Database    `yaml:"database"`
	Dispatcher    Dispatcher  `yaml:"dispatcher"`
	Connectors    []Connector `yaml:"connectors"`
	Models        []Model     `yaml:"models"`
	Selectors     []Selector  `yaml:"selectors"`
	DefaultModels []string    `yaml:"default_models"`
}

type Server struct {
	Addr string `yaml:"addr"` // ASURA_ADDR overrides
}

type Auth struct {
	// JWTSecret is environment-only (ASURA_JWT_SECRET); never in the file.
	JWTSecret string `yaml:"-"`
	// APIKeyHash is the bcrypt hash clients must match at /auth/token.
	APIKeyHash      string `yaml:"api_key_hash"` // ASURA_API_KEY_HASH overrides
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

type Database struct {
	Path string `yaml:"path"` // ASURA_DB_PATH overrides
}

type Dispatcher struct {
	TimeoutMS int    `yaml:"timeout_ms"`
	Fallback  string `yaml:"fallback"` // error | alternative | retry
}

type Connector struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"` // openai | anthropic | ollama
	Enabled    bool   `yaml:"enabled"`
	Priority   int    `yaml:"priority"`
	Endpoint   string `yaml:"endpoint"`
	APIVersion string `yaml:"api_version"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	RPMLimit   int    `yaml:"rpm_limit"`
	TPMLimit   int    `yaml:"tpm_limit"`
	// Credential is the namespaced resolver key, e.g. "asura/openai/api_key".
	Credential string `yaml:"credential"`
}

type Model struct {
	Name          string   `yaml:"name"`
	Connector     string   `yaml:"connector"`
	BackendID     string   `yaml:"backend_id"`
	Enabled       bool     `yaml:"enabled"`
	Priority      int      `yaml:"priority"`
	ContextWindow int      `yaml:"context_window"`
	Capabilities  []string `yaml:"capabilities"`
}

type Selector struct {
	Name      string   `yaml:"name"`
	TaskTypes []string `yaml:"task_types"`
	Models    []string `yaml:"models"`
}

// Load reads path (skipped when empty or absent), applies environment
// overrides and validates cross-references.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Server.Addr = envOr("ASURA_ADDR", cfg.Server.Addr)
	cfg.Database.Path = envOr("ASURA_DB_PATH", cfg.Database.Path)
	cfg.Auth.JWTSecret = envOr("ASURA_JWT_SECRET", "")
	cfg.Auth.APIKeyHash = envOr("ASURA_API_KEY_HASH", cfg.Auth.APIKeyHash)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server:   Server{Addr: ":8080"},
		Auth:     Auth{TokenTTLMinutes: 60},
		Database: Database{Path: "asura.sqlite"},
		Dispatcher: Dispatcher{
			TimeoutMS: 30000,
			Fallback:  "alternative",
		},
		Connectors: []Connector{
			{ID: "ollama", Kind: "ollama", Enabled: true, Endpoint: "http://localhost:11434", RPMLimit: 0, TPMLimit: 0},
		},
		Models: []Model{
			{Name: "qwen-coder", Connector: "ollama", BackendID: "qwen2.5-coder:7b", Enabled: true,
				Priority: 10, ContextWindow: 32768, Capabilities: []string{"chat", "completion", "embedding"}},
		},
		DefaultModels: []string{"qwen-coder"},
	}
}

// Validate checks cross-references: every model names a declared connector,
// every selector and default candidate names a declared model, and the
// enumerated fields carry known values.
func (c Config) Validate() error {
	connectors := make(map[string]struct{}, len(c.Connectors))
	for _, conn := range c.Connectors {
		switch conn.Kind {
		case "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("config: connector %q has unknown kind %q", conn.ID, conn.Kind)
		}
		connectors[conn.ID] = struct{}{}
	}

	models := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if _, ok := connectors[m.Connector]; !ok {
			return fmt.Errorf("config: model %q references unknown connector %q", m.Name, m.Connector)
		}
		models[m.Name] = struct{}{}
	}

	for _, s := range c.Selectors {
		for _, name := range s.Models {
			if _, ok := models[name]; !ok {
				return fmt.Errorf("config: selector %q references unknown model %q", s.Name, name)
			}
		}
	}
	for _, name := range c.DefaultModels {
		if _, ok := models[name]; !ok {
			return fmt.Errorf("config: default model %q is not declared", name)
		}
	}

	switch c.Dispatcher.Fallback {
	case "", "error", "alternative", "retry":
	default:
		return fmt.Errorf("config: unknown fallback behavior %q", c.Dispatcher.Fallback)
	}
	return nil
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
