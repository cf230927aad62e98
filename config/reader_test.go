package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("Failed to write config: %s", err)
	}
	return path
}

func TestReadConfigDefaults(t *testing.T) {
	cfg, err := ReadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Expected defaults without a file, got %s", err)
	}
	if cfg.Port != 9001 || cfg.Store.Backend != "memory" {
		t.Errorf("Expected default port and backend, got %d %s", cfg.Port, cfg.Store.Backend)
	}
	if cfg.Persistence.FlushBudget != 28*time.Second || cfg.Persistence.LoadAttempts != 3 {
		t.Errorf("Unexpected persistence defaults %+v", cfg.Persistence)
	}
	if len(cfg.Session.Entities) != 2 {
		t.Errorf("Expected default entities, got %v", cfg.Session.Entities)
	}
}

func TestReadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
port = 9100
api_secret = "from-file"

[store]
backend = "SQLite"
path = "/tmp/keeper-test.db"

[persistence]
base_capacity = 20
regen_interval = "2s"
flush_budget = "10s"

[[session.entities]]
name = "Vault"
defaults = { coins = 5 }
`)
	t.Setenv("KEEPER_API_SECRET", "from-env")
	t.Setenv("KEEPER_PORT", "9200")

	cfg, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig failed: %s", err)
	}
	if cfg.Port != 9200 || cfg.ApiSecret != "from-env" {
		t.Errorf("Expected env to override file, got %d %s", cfg.Port, cfg.ApiSecret)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "/tmp/keeper-test.db" {
		t.Errorf("Unexpected store %+v", cfg.Store)
	}
	if cfg.Persistence.BaseCapacity != 20 || cfg.Persistence.RegenInterval != 2*time.Second {
		t.Errorf("Unexpected persistence %+v", cfg.Persistence)
	}
	if cfg.Persistence.PerSessionCapacity != 8 {
		t.Errorf("Expected unset values to keep defaults, got %d", cfg.Persistence.PerSessionCapacity)
	}
	if len(cfg.Session.Entities) != 1 || cfg.Session.Entities[0].Name != "Vault" || cfg.Session.Entities[0].Defaults["coins"] != 5 {
		t.Errorf("Unexpected entities %+v", cfg.Session.Entities)
	}
	if Config.ApiSecret != "from-env" {
		t.Error("Expected ReadConfig to install the global config")
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig
	cfg.Session.Entities = []Entity{{Name: "Bad_Name"}, {Name: "Shrine"}, {Name: "Shrine"}}
	cfg.Store.Backend = "mysql"
	cfg.Persistence.BaseCapacity = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation errors")
	}
	for _, want := range []string{"store.address", "base_capacity", "Bad_Name", "declared twice"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got %s", want, err)
		}
	}

	cfg = defaultConfig
	cfg.Session.Entities = defaultEntities
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %s", err)
	}
}
