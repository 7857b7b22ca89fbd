package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MNEMO_DEV_MODE", "true")
	t.Setenv("MNEMO_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8321 {
		t.Errorf("default port = %d, want 8321", cfg.Server.Port)
	}
	if cfg.Dedup.HardThreshold != 0.12 || cfg.Dedup.SoftThreshold != 0.20 || cfg.Dedup.FixThreshold != 0.05 {
		t.Errorf("unexpected dedup thresholds: %+v", cfg.Dedup)
	}
	if cfg.Search.RRFConstant != 60 {
		t.Errorf("default RRF constant = %d, want 60", cfg.Search.RRFConstant)
	}
	if cfg.Compaction.MaxObservations != 5000 || cfg.Compaction.EvictionBuffer != 500 {
		t.Errorf("unexpected compaction caps: %+v", cfg.Compaction)
	}
	if time.Duration(cfg.Gateway.ReadDeadline) != 5*time.Second {
		t.Errorf("gateway read deadline = %v, want 5s", time.Duration(cfg.Gateway.ReadDeadline))
	}
}

func TestLoadFromFile_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("MNEMO_DEV_MODE", "true")

	yaml := `
server:
  port: 9999
dedup:
  hard_threshold: 0.10
  soft_threshold: 0.25
compaction:
  interval: 30m
`
	path := filepath.Join(t.TempDir(), "mnemo.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Dedup.HardThreshold != 0.10 {
		t.Errorf("hard threshold = %v, want 0.10", cfg.Dedup.HardThreshold)
	}
	if time.Duration(cfg.Compaction.Interval) != 30*time.Minute {
		t.Errorf("compaction interval = %v, want 30m", time.Duration(cfg.Compaction.Interval))
	}
	// Untouched values keep their defaults
	if cfg.Search.MaxTopK != 500 {
		t.Errorf("max top_k = %d, want default 500", cfg.Search.MaxTopK)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("MNEMO_DEV_MODE", "true")
	t.Setenv("MNEMO_PORT", "7777")
	t.Setenv("MNEMO_SOCKET_PATH", "/tmp/other.sock")
	t.Setenv("MNEMO_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Gateway.SocketPath != "/tmp/other.sock" {
		t.Errorf("socket path = %q, want env override", cfg.Gateway.SocketPath)
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	t.Setenv("MNEMO_DEV_MODE", "true")

	yaml := `
dedup:
  hard_threshold: 0.5
  soft_threshold: 0.2
`
	path := filepath.Join(t.TempDir(), "mnemo.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for hard threshold above soft threshold")
	}
}

func TestValidate_RequiresAPIKeyOutsideDevMode(t *testing.T) {
	t.Setenv("MNEMO_DEV_MODE", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MNEMO_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error when OPENAI_API_KEY is unset outside dev mode")
	}
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	t.Setenv("MNEMO_DEV_MODE", "true")

	yaml := `
gateway:
  read_deadline: 1500ms
`
	path := filepath.Join(t.TempDir(), "mnemo.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if time.Duration(cfg.Gateway.ReadDeadline) != 1500*time.Millisecond {
		t.Errorf("read deadline = %v, want 1.5s", time.Duration(cfg.Gateway.ReadDeadline))
	}
}
