package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Sandbox  SandboxConfig  `json:"sandbox"`
	Pipeline PipelineConfig `json:"pipeline"`
	Store    StoreConfig    `json:"store"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type RuntimeConfig struct {
	MaxConcurrentAgents int    `json:"max_concurrent_agents"`
	MaxExecutionTimeSec int    `json:"max_execution_time_sec"`
	MaxMemoryMB         int    `json:"max_memory_mb"`
	WorkspaceDir        string `json:"workspace_dir"`
}

// MaxExecutionTime returns the configured agent deadline.
func (c RuntimeConfig) MaxExecutionTime() time.Duration {
	return time.Duration(c.MaxExecutionTimeSec) * time.Second
}

type SandboxConfig struct {
	AllowedPaths    []string `json:"allowed_paths"`
	AllowedDomains  []string `json:"allowed_domains"`
	MemoryLimitMB   int      `json:"memory_limit_mb"`
	CPUTimeLimitSec int      `json:"cpu_time_limit_sec"`
}

type PipelineConfig struct {
	Strategy string `json:"strategy"`
}

type StoreConfig struct {
	Backend  string         `json:"backend"`
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Runtime.MaxConcurrentAgents == 0 {
		c.Runtime.MaxConcurrentAgents = 10
	}
	if c.Runtime.MaxExecutionTimeSec == 0 {
		c.Runtime.MaxExecutionTimeSec = 300
	}
	if c.Pipeline.Strategy == "" {
		c.Pipeline.Strategy = "sequential"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
}
