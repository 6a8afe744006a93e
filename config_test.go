package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	content := "# local overrides\nJWT_SECRET=from-file\nTOKEN_TTL_HOURS=2\nACCEPTED_ORIGINS=http://a.test, http://b.test\n"
	if err := os.WriteFile(env, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("JWT_SECRET", "")
	t.Setenv("TOKEN_TTL_HOURS", "")
	t.Setenv("ACCEPTED_ORIGINS", "")
	t.Setenv("PORT", "8080")
	t.Setenv("READ_TIMEOUT_SECONDS", "not-a-number")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("TOKEN_TTL_HOURS")
	os.Unsetenv("ACCEPTED_ORIGINS")

	cfg, err := LoadConfig(env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "from-file" || cfg.TokenTTL != 2*time.Hour || cfg.Port != "8080" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ReadTimeout != 15*time.Second {
		t.Fatalf("bad number should fall back to the default, got %v", cfg.ReadTimeout)
	}
	if !cfg.AllowOrigin("http://b.test") || cfg.AllowOrigin("http://c.test") {
		t.Fatalf("unexpected origin check for %v", cfg.AcceptedOrigins)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("ACCEPTED_ORIGINS", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("a missing env file is not an error: %v", err)
	}
	if cfg.Port != "3001" || cfg.DBPath != "./devtrack.db" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.AllowOrigin("http://anything.test") {
		t.Fatalf("default origins should allow everything")
	}
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected an error without JWT_SECRET")
	}
}
