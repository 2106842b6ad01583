// Package userconfig reads and writes the per-user configuration file that
// holds the examiner identity and the PIN verifier entries. The file lives
// outside any case directory (default ~/.caseward/config.yaml) and is written
// with owner-only permissions.
package userconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PinEntry is what gets persisted per examiner: a verifier derived from the
// signing key plus lockout state. Neither the PIN nor the key itself is
// stored.
type PinEntry struct {
	Verifier       string `yaml:"verifier"`
	Salt           string `yaml:"salt"`
	KeyVersion     int    `yaml:"key_version"`
	FailedAttempts int    `yaml:"failed_attempts,omitempty"`
	Locked         bool   `yaml:"locked,omitempty"`
}

// Config is the ~/.caseward/config.yaml document.
type Config struct {
	Examiner string              `yaml:"examiner,omitempty"`
	Analyst  string              `yaml:"analyst,omitempty"` // deprecated alias
	Pins     map[string]PinEntry `yaml:"pins,omitempty"`
}

// DefaultPath resolves the config file location. CASEWARD_CONFIG overrides
// the home-directory default.
func DefaultPath() string {
	if p := os.Getenv("CASEWARD_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".caseward", "config.yaml")
	}
	return filepath.Join(home, ".caseward", "config.yaml")
}

// Load reads the config file. A missing file yields an empty config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("userconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("userconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("userconfig: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("userconfig: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".caseward-cfg-*")
	if err != nil {
		return fmt.Errorf("userconfig: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("userconfig: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("userconfig: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("userconfig: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("userconfig: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("userconfig: rename: %w", err)
	}
	success = true
	return nil
}
