// Package identity resolves the acting examiner.
//
// Priority: explicit flag > CASEWARD_EXAMINER > CASEWARD_ANALYST (deprecated)
// > user config file > OS account name. The OS user is always captured
// alongside the resolved identity, regardless of source, so even a spoofed
// identity leaves a forensic residue. Resolution never fails.
package identity

import (
	"log/slog"
	"os"
	"os/user"
	"regexp"
	"strings"

	"github.com/halvard/caseward/internal/userconfig"
)

// Source values for Identity.Source.
const (
	SourceFlag   = "flag"
	SourceEnv    = "env"
	SourceConfig = "config"
	SourceOSUser = "os_user"
)

// Identity is the resolved acting human.
type Identity struct {
	Examiner string
	OSUser   string
	Source   string
}

var slugStrip = regexp.MustCompile(`[^a-z0-9-]`)

// normalize lowercases, strips characters outside [a-z0-9-], and truncates to
// 20 characters.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "")
	s = strings.Trim(s, "-")
	if len(s) > 20 {
		s = s[:20]
	}
	return s
}

func osUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	if v := os.Getenv("USERNAME"); v != "" {
		return v
	}
	return "unknown"
}

// Resolve determines the acting examiner. flagOverride, when non-empty, wins
// over every other source.
func Resolve(flagOverride string) Identity {
	return resolve(flagOverride, userconfig.DefaultPath())
}

func resolve(flagOverride, configPath string) Identity {
	ou := osUser()

	result := func(raw, source string) Identity {
		examiner := normalize(raw)
		if examiner == "" {
			slog.Warn("empty examiner identity, falling back to OS user",
				slog.String("source", source), slog.String("os_user", ou))
			examiner = normalize(ou)
			source = SourceOSUser
		}
		return Identity{Examiner: examiner, OSUser: ou, Source: source}
	}

	if flagOverride != "" {
		return result(flagOverride, SourceFlag)
	}
	if v := os.Getenv("CASEWARD_EXAMINER"); v != "" {
		return result(v, SourceEnv)
	}
	if v := os.Getenv("CASEWARD_ANALYST"); v != "" {
		return result(v, SourceEnv)
	}
	if cfg, err := userconfig.Load(configPath); err == nil {
		if cfg.Examiner != "" {
			return result(cfg.Examiner, SourceConfig)
		}
		if cfg.Analyst != "" {
			return result(cfg.Analyst, SourceConfig)
		}
	} else {
		slog.Warn("could not read identity config", slog.String("path", configPath), slog.String("error", err.Error()))
	}
	return result(ou, SourceOSUser)
}

// WarnIfUnconfigured emits a warning when the OS-user fallback is in effect,
// since an unconfigured identity weakens the audit trail.
func (id Identity) WarnIfUnconfigured() {
	if id.Source == SourceOSUser {
		slog.Warn("no examiner identity configured, using OS user; run 'caseward config --examiner <name>'",
			slog.String("os_user", id.OSUser))
	}
}
