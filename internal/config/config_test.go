package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overseer.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9090, "log_level": "debug"},
		"runtime": {"max_concurrent_agents": 3, "max_execution_time_sec": 60},
		"sandbox": {"allowed_paths": ["/tmp/work"], "allowed_domains": ["example.com"]},
		"pipeline": {"strategy": "parallel"},
		"store": {"backend": "redis", "redis": {"url": "redis://localhost:6379/0"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.LogLevel != "debug" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Runtime.MaxExecutionTime() != time.Minute {
		t.Fatalf("MaxExecutionTime = %s", cfg.Runtime.MaxExecutionTime())
	}
	if len(cfg.Sandbox.AllowedPaths) != 1 || cfg.Sandbox.AllowedPaths[0] != "/tmp/work" {
		t.Fatalf("sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Pipeline.Strategy != "parallel" {
		t.Fatalf("strategy = %q", cfg.Pipeline.Strategy)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.Redis.URL == "" {
		t.Fatalf("store = %+v", cfg.Store)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("OVERSEER_TEST_DSN", "postgres://app@db/overseer")
	os.Unsetenv("OVERSEER_TEST_PORT")

	path := writeConfig(t, `{
		"server": {"port": ${OVERSEER_TEST_PORT:7070}},
		"store": {"backend": "postgres", "postgres": {"dsn": "${OVERSEER_TEST_DSN}"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("port = %d, want default 7070", cfg.Server.Port)
	}
	if cfg.Store.Postgres.DSN != "postgres://app@db/overseer" {
		t.Fatalf("dsn = %q", cfg.Store.Postgres.DSN)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.LogLevel != "info" {
		t.Fatalf("server defaults = %+v", cfg.Server)
	}
	if cfg.Runtime.MaxConcurrentAgents != 10 || cfg.Runtime.MaxExecutionTimeSec != 300 {
		t.Fatalf("runtime defaults = %+v", cfg.Runtime)
	}
	if cfg.Pipeline.Strategy != "sequential" || cfg.Store.Backend != "memory" {
		t.Fatalf("defaults = %+v %+v", cfg.Pipeline, cfg.Store)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, `{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
