package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voletro/cordon/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cordon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Endpoints) != 2 {
		t.Errorf("endpoints: got %d, want 2", len(cfg.Endpoints))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("error should mention the open failure, got: %v", err)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := config.Load(writeConfig(t, "endpoints: [\n"))
	if err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
}

func TestApplyDefaults_LeavesExplicitValues(t *testing.T) {
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":9000", LogLevel: config.LogDebug},
		Endpoints: []config.Endpoint{{ID: "ep", Provider: "mock", Model: "m", MaxConcurrent: 2}},
	}
	config.ApplyDefaults(cfg)

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr overwritten: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Endpoints[0].MaxConcurrent != 2 {
		t.Errorf("max_concurrent overwritten: got %d", cfg.Endpoints[0].MaxConcurrent)
	}
	if cfg.Endpoints[0].MaxSessions != config.DefaultMaxSessions {
		t.Errorf("max_sessions not defaulted: got %d", cfg.Endpoints[0].MaxSessions)
	}
}

func TestApplyDefaults_NegativeSweepIntervalPreserved(t *testing.T) {
	// A negative sweep interval is the documented off switch and must
	// survive defaulting.
	cfg := &config.Config{Caches: config.CachesConfig{SweepInterval: -1}}
	config.ApplyDefaults(cfg)
	if cfg.Caches.SweepInterval != -1 {
		t.Errorf("sweep_interval overwritten: got %v", cfg.Caches.SweepInterval)
	}
}
