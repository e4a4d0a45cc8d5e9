package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalYAML = `service:
  name: "TestApp"
  version: "1.0"
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Service.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Service.Name)
	}
	if cfg.Pipeline.PersistInterval != 5*time.Second {
		t.Errorf("unexpected default persist interval: %s", cfg.Pipeline.PersistInterval)
	}
	if cfg.Pipeline.BucketLength != 15*time.Minute {
		t.Errorf("unexpected default bucket length: %s", cfg.Pipeline.BucketLength)
	}
	if cfg.Registry.CryptoCap >= cfg.Registry.EquityCap {
		t.Errorf("crypto cap %d should be below equity cap %d", cfg.Registry.CryptoCap, cfg.Registry.EquityCap)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeTempConfig(t, minimalYAML+`pipeline:
  persist_interval: 2s
registry:
  crypto_cap: 3
  equity_cap: 7
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.PersistInterval != 2*time.Second {
		t.Errorf("unexpected persist interval: %s", cfg.Pipeline.PersistInterval)
	}
	if cfg.Registry.CryptoCap != 3 || cfg.Registry.EquityCap != 7 {
		t.Errorf("unexpected caps: %d/%d", cfg.Registry.CryptoCap, cfg.Registry.EquityCap)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeTempConfig(t, `service:
  version: "1.0"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for missing service.name")
	}
}

func TestLoadConfigInvalidCaps(t *testing.T) {
	path := writeTempConfig(t, minimalYAML+`registry:
  crypto_cap: 50
  equity_cap: 10
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for crypto cap above equity cap")
	}
}

func TestLoadConfigTokenFromEnv(t *testing.T) {
	t.Setenv(equityTokenEnvVar, "secret-token")

	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Feeds.Equity.Token != "secret-token" {
		t.Errorf("token not picked up from environment: %q", cfg.Feeds.Equity.Token)
	}
}
