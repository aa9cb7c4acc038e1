package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8390 {
		t.Errorf("Port = %d, want 8390", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Engine.DebounceSensitivity != 30*time.Second {
		t.Errorf("DebounceSensitivity = %s, want 30s", cfg.Engine.DebounceSensitivity)
	}
	if cfg.Engine.IntakeBuffer != 256 {
		t.Errorf("IntakeBuffer = %d, want 256", cfg.Engine.IntakeBuffer)
	}
	if cfg.Sysmon.SampleInterval != 15*time.Second {
		t.Errorf("SampleInterval = %s, want 15s", cfg.Sysmon.SampleInterval)
	}
}

func TestLoadPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9999
  auth_token: sekrit
engine:
  debounce_sensitivity: 10s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "sekrit" {
		t.Errorf("AuthToken = %q", cfg.Server.AuthToken)
	}
	if cfg.Engine.DebounceSensitivity != 10*time.Second {
		t.Errorf("DebounceSensitivity = %s, want 10s", cfg.Engine.DebounceSensitivity)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default", cfg.Server.Host)
	}
	if cfg.Engine.IntakeBuffer != 256 {
		t.Errorf("IntakeBuffer = %d, want default 256", cfg.Engine.IntakeBuffer)
	}
}

func TestLoadAllowedOrigins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  allowed_origins:
    - https://dashboard.example.com
    - http://localhost:5173
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}
