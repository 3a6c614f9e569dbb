// Package config loads the application configuration: a TOML file for
// runtime settings (defaults -> file -> env, env wins) and YAML files for
// the intent catalog and policy rules.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mirako/switchboard"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	LLM       LLMConfig       `toml:"llm"`
	Session   SessionConfig   `toml:"session"`
	Data      DataConfig      `toml:"data"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Observer  ObserverConfig  `toml:"observer"`
}

type ServerConfig struct {
	IntentsPath string `toml:"intents_path"`
	PolicyPath  string `toml:"policy_path"`
	MaxHistory  int    `toml:"max_history"`
	MaxAsks     int    `toml:"max_asks"`
}

type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
}

// SessionConfig selects the session backend: memory, sqlite, or redis.
type SessionConfig struct {
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
	RedisAddr  string `toml:"redis_addr"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// DataConfig selects the domain data source: jsonfile, postgres, or remote.
type DataConfig struct {
	Backend     string `toml:"backend"`
	OrdersPath  string `toml:"orders_path"`
	PostgresURL string `toml:"postgres_url"`
	RemoteURL   string `toml:"remote_url"`
}

type TelemetryConfig struct {
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			IntentsPath: "intents.yaml",
			PolicyPath:  "policy.yaml",
			MaxHistory:  20,
			MaxAsks:     3,
		},
		LLM:       LLMConfig{Model: "gpt-4o-mini"},
		Session:   SessionConfig{Backend: "memory", SQLitePath: "switchboard.db", TTLSeconds: 1800},
		Data:      DataConfig{Backend: "jsonfile", OrdersPath: "orders.json"},
		Telemetry: TelemetryConfig{KafkaTopic: "switchboard.telemetry"},
		Observer:  ObserverConfig{Endpoint: "localhost:4318"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "switchboard.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("SWITCHBOARD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SWITCHBOARD_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("SWITCHBOARD_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SWITCHBOARD_SESSION_BACKEND"); v != "" {
		cfg.Session.Backend = v
	}
	if v := os.Getenv("SWITCHBOARD_REDIS_ADDR"); v != "" {
		cfg.Session.RedisAddr = v
	}
	if v := os.Getenv("SWITCHBOARD_POSTGRES_URL"); v != "" {
		cfg.Data.PostgresURL = v
	}
	if v := os.Getenv("SWITCHBOARD_MAX_ASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxAsks = n
		}
	}
	return cfg
}

// catalogFile is the YAML shape of the intent catalog.
type catalogFile struct {
	Intents []switchboard.Intent `yaml:"intents"`
}

// LoadIntents reads and validates the YAML intent catalog. A malformed
// catalog is a startup error, not something to limp past: intent ids must be
// unique, tools must be named when parameters are declared, and every param
// pattern must compile.
func LoadIntents(path string) ([]switchboard.Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse intent catalog: %w", err)
	}
	if len(file.Intents) == 0 {
		return nil, fmt.Errorf("intent catalog %s declares no intents", path)
	}

	seen := make(map[string]bool, len(file.Intents))
	for _, it := range file.Intents {
		if it.ID == "" {
			return nil, fmt.Errorf("intent catalog: intent with empty id")
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("intent catalog: duplicate intent id %q", it.ID)
		}
		seen[it.ID] = true
		if len(it.RequiredParams) > 0 && it.Tool == "" {
			return nil, fmt.Errorf("intent %q declares parameters but no tool", it.ID)
		}
		for param, pattern := range it.ParamPatterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return nil, fmt.Errorf("intent %q: pattern for %q: %w", it.ID, param, err)
			}
		}
		if p := it.Constraints.RolloutPercent; p < 0 || p > 100 {
			return nil, fmt.Errorf("intent %q: rollout_percent %d out of range", it.ID, p)
		}
	}
	return file.Intents, nil
}

// policyFile is the YAML shape of the policy rule set.
type policyFile struct {
	Rules []switchboard.PolicyRule `yaml:"rules"`
}

// LoadPolicy reads the YAML policy rules. A missing file means no rules:
// the caller decides whether that maps to AllowAll.
func LoadPolicy(path string) ([]switchboard.PolicyRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy rules: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy rules: %w", err)
	}
	for _, r := range file.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("policy rules: rule with empty name")
		}
	}
	return file.Rules, nil
}
