package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Engine.DefaultSensitivity != "medium" {
			t.Errorf("expected medium sensitivity, got %s", cfg.Engine.DefaultSensitivity)
		}
		if cfg.Engine.Thresholds.High != 0.9 || cfg.Engine.Thresholds.Medium != 0.7 || cfg.Engine.Thresholds.Low != 0.5 {
			t.Errorf("unexpected thresholds: %+v", cfg.Engine.Thresholds)
		}
		if cfg.Engine.ConfidenceCap != 0.99 {
			t.Errorf("expected cap 0.99, got %f", cfg.Engine.ConfidenceCap)
		}
		if cfg.Policy.DefaultFramework != "HIPAA" {
			t.Errorf("expected HIPAA, got %s", cfg.Policy.DefaultFramework)
		}
		if cfg.Cache.Enabled || cfg.Audit.Enabled {
			t.Error("cache and audit should be disabled by default")
		}
	})

	t.Run("file overrides", func(t *testing.T) {
		body := strings.Join([]string{
			"server:",
			"  port: 9090",
			"engine:",
			"  default_sensitivity: high",
			"  batch_workers: 8",
			"cache:",
			"  ttl: 10m",
			"ingestion:",
			"  limits:",
			"    csv: 1048576",
		}, "\n")

		cfg, err := Load(writeConfig(t, body))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Engine.DefaultSensitivity != "high" || cfg.Engine.BatchWorkers != 8 {
			t.Errorf("unexpected engine config: %+v", cfg.Engine)
		}
		if cfg.Cache.TTL != 10*time.Minute {
			t.Errorf("expected 10m ttl, got %s", cfg.Cache.TTL)
		}
		if cfg.Ingestion.Limits["csv"] != 1<<20 {
			t.Errorf("expected csv limit, got %v", cfg.Ingestion.Limits)
		}
		if cfg.Engine.ClueBoost != 0.1 {
			t.Errorf("unset keys should keep defaults, got clue boost %f", cfg.Engine.ClueBoost)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("ANONYMIZER_SERVER_PORT", "7070")
		cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected port 7070 from env, got %d", cfg.Server.Port)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"port", "server:\n  port: 70000\n"},
			{"sensitivity", "engine:\n  default_sensitivity: extreme\n"},
			{"thresholds", "engine:\n  thresholds:\n    low: 0.95\n"},
			{"strategy", "policy:\n  default_strategy: SHRED\n"},
			{"log level", "logging:\n  level: verbose\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := Load(writeConfig(t, tt.body)); err == nil {
					t.Errorf("expected error for %s", tt.name)
				}
			})
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "server: [unterminated\n")); err == nil {
			t.Error("expected read error")
		}
	})
}

func TestValidateDefaults(t *testing.T) {
	if err := validateConfig(GetDefaults()); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
}
