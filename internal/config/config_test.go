package config

import (
	"os"
	"testing"
	"time"
)

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (stand-in for testing.T.Chdir, Go 1.24+).
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

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	for _, k := range []string{"APP_ENV", "PORT", "DB_PATH", "OPENAI_SPEND_CAP", "RETENTION_DAYS", "PURGE_INTERVAL", "OPENAI_BASE_URL", "LOG_MODE"} {
		t.Setenv(k, "")
	}
	t.Setenv("OPENAI_SPEND_CAP", "12.5")
	t.Setenv("PURGE_INTERVAL", "15m")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:9999/")

	cfg := Load()

	if cfg.Port != "8080" || cfg.DBPath != "./dev.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.IsDev() || cfg.LogMode != "dev" {
		t.Fatalf("expected dev mode, got env=%q log=%q", cfg.Env, cfg.LogMode)
	}
	if cfg.OpenAISpendCap != 12.5 {
		t.Fatalf("spend cap = %v, want 12.5", cfg.OpenAISpendCap)
	}
	if cfg.PurgeInterval != 15*time.Minute {
		t.Fatalf("purge interval = %s, want 15m", cfg.PurgeInterval)
	}
	if cfg.Retention() != 90*24*time.Hour {
		t.Fatalf("retention = %s, want 90 days", cfg.Retention())
	}
	if cfg.OpenAIBaseURL != "http://localhost:9999" {
		t.Fatalf("base url = %q", cfg.OpenAIBaseURL)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RETENTION_DAYS", "soon")
	t.Setenv("OPENAI_SPEND_CAP", "-1")
	t.Setenv("APP_ENV", "prod")

	cfg := Load()

	if cfg.RetentionDays != 90 || cfg.OpenAISpendCap != 50 {
		t.Fatalf("expected fallbacks, got %+v", cfg)
	}
	if cfg.IsDev() {
		t.Fatalf("prod must not be dev")
	}
}
