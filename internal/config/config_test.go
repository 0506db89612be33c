package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg := Load()
	if cfg.Presence.ReaperInterval != time.Minute {
		t.Errorf("ReaperInterval = %v, want 1m", cfg.Presence.ReaperInterval)
	}
	if cfg.Presence.IdleThreshold != 5*time.Minute {
		t.Errorf("IdleThreshold = %v, want 5m", cfg.Presence.IdleThreshold)
	}
	if cfg.Redis.URL != "" {
		t.Errorf("Redis.URL = %q, want empty", cfg.Redis.URL)
	}
	if cfg.DBMaxConnections() != 20 {
		t.Errorf("DBMaxConnections = %d, want 20", cfg.DBMaxConnections())
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	yamlPath := filepath.Join(dir, "api.yaml")
	body := "server_addr: \":9000\"\nreaper_interval: 30\nidle_threshold: 120\nredis_url: redis://cache:6379\n"
	if err := os.WriteFile(yamlPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_ISSUER=from-dotenv\nIDLE_THRESHOLD=90\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", yamlPath)
	t.Setenv("SERVER_ADDR", ":7000")
	t.Setenv("IDLE_THRESHOLD", "45")
	t.Setenv("JWT_ISSUER", "")
	os.Unsetenv("JWT_ISSUER")

	cfg := Load()
	if cfg.ServerAddr != ":7000" {
		t.Errorf("ServerAddr = %q, env must win over yaml", cfg.ServerAddr)
	}
	if cfg.Presence.ReaperInterval != 30*time.Second {
		t.Errorf("ReaperInterval = %v, want 30s from yaml", cfg.Presence.ReaperInterval)
	}
	if cfg.Presence.IdleThreshold != 45*time.Second {
		t.Errorf("IdleThreshold = %v, env must win over .env", cfg.Presence.IdleThreshold)
	}
	if cfg.Redis.URL != "redis://cache:6379" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Auth.Issuer != "from-dotenv" {
		t.Errorf("Issuer = %q, want value from .env", cfg.Auth.Issuer)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
