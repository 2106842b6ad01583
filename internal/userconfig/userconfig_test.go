package userconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Examiner != "" || len(cfg.Pins) != 0 {
		t.Fatalf("cfg = %+v, want empty", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	want := &Config{
		Examiner: "alice",
		Pins: map[string]PinEntry{
			"alice": {Verifier: "abc", Salt: "def", KeyVersion: 2, FailedAttempts: 1},
		},
	}
	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, PIN verifiers want owner-only permissions", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Examiner != "alice" {
		t.Fatalf("examiner = %q", got.Examiner)
	}
	entry := got.Pins["alice"]
	if entry.Verifier != "abc" || entry.KeyVersion != 2 || entry.FailedAttempts != 1 {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestDefaultPathEnvOverride(t *testing.T) {
	t.Setenv("CASEWARD_CONFIG", "/tmp/custom.yaml")
	if got := DefaultPath(); got != "/tmp/custom.yaml" {
		t.Fatalf("path = %q", got)
	}
}
