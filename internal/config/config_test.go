package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load with missing file: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("default backend: %s", cfg.Store.Backend)
	}
	if cfg.ListenAddr() != "0.0.0.0:8080" {
		t.Fatalf("default listen addr: %s", cfg.ListenAddr())
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progression.yaml")
	content := `
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 5s
store:
  backend: postgres
  dsn: postgres://localhost/progression
yield:
  daily_rate: "0.0007"
  schedule: "30 0 * * *"
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Fatalf("listen addr: %s", cfg.ListenAddr())
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Store.Backend != "postgres" || cfg.Store.DSN == "" {
		t.Fatalf("store config: %+v", cfg.Store)
	}
	if cfg.Yield.DailyRate != "0.0007" || cfg.Yield.Schedule != "30 0 * * *" {
		t.Fatalf("yield config: %+v", cfg.Yield)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level: %s", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("YIELD_DAILY_RATE", "0.001")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("port override: %d", cfg.Server.Port)
	}
	if cfg.Yield.DailyRate != "0.001" {
		t.Fatalf("rate override: %s", cfg.Yield.DailyRate)
	}
}

func TestLoad_RejectsIncompleteBackends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progression.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: postgres\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("postgres without dsn should fail validation")
	}

	if err := os.WriteFile(path, []byte("store:\n  backend: cloud\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("unknown backend should fail validation")
	}
}
