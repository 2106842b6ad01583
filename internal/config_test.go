package internal

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.App.HTTP.Address() != ":8080" {
		t.Fatalf("address = %q", cfg.App.HTTP.Address())
	}
	if cfg.Auth.AuthEnabled() {
		t.Fatal("auth enabled by default")
	}
}

func TestPortValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.HTTP.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("port 0 accepted")
	}
	cfg.App.HTTP.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("port 70000 accepted")
	}
}

func TestTokenModeRequiresToken(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = AuthModeToken
	if err := cfg.Validate(); err == nil {
		t.Fatal("token mode accepted without a token")
	}
	cfg.Auth.Token = "sekrit"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token: %v", err)
	}
	if !cfg.Auth.AuthEnabled() {
		t.Fatal("auth not enabled in token mode")
	}
}

func TestUnknownAuthMode(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "basic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown auth mode accepted")
	}
}

func TestEmptyAuthModeNormalizes(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode: %v", err)
	}
	if cfg.Auth.Mode != AuthModeDisabled {
		t.Fatalf("mode = %q", cfg.Auth.Mode)
	}
}

func TestSQLitePathDefaultsIntoCaseDir(t *testing.T) {
	cfg := NewDefaultConfig()
	if got := cfg.SQLite.ResolvedPath("/cases/case-001"); got != filepath.Join("/cases/case-001", ".caseward-index.db") {
		t.Fatalf("resolved = %q", got)
	}
	cfg.SQLite.Path = "/var/tmp/index.db"
	if got := cfg.SQLite.ResolvedPath("/cases/case-001"); got != "/var/tmp/index.db" {
		t.Fatalf("resolved = %q", got)
	}
}
