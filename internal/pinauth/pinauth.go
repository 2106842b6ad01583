// Package pinauth implements PIN key derivation and lockout.
//
// A PIN is stretched with PBKDF2-SHA256 into the examiner's signing key. Only
// a verifier derived from that key is persisted, never the PIN or the key:
// the key exists in memory for the duration of one operation and is passed
// straight to the ledger for signing.
//
// Three consecutive failed attempts lock the examiner out. The lock persists
// in the user config until an explicit unlock, which itself requires the
// previously successful PIN or an administrative override. A correct PIN
// entered while locked still fails.
package pinauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/userconfig"
)

// Iterations is the PBKDF2 iteration count. High on purpose: PINs are short.
const Iterations = 600_000

const (
	keyLen      = 32
	saltLen     = 32
	maxAttempts = 3
)

// DeriveKey stretches a PIN into a 32-byte HMAC signing key.
func DeriveKey(pin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pin), salt, Iterations, keyLen, sha256.New)
}

// verifierFor hashes the derived key once more. Persisting sha256(key)
// rather than the key keeps the signing key recoverable only from the PIN.
func verifierFor(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// Auth manages PIN entries in the user config file at path.
type Auth struct {
	path string
}

// New returns an Auth backed by the config file at path.
func New(path string) *Auth { return &Auth{path: path} }

// HasPIN reports whether the examiner has a PIN configured.
func (a *Auth) HasPIN(examiner string) (bool, error) {
	cfg, err := userconfig.Load(a.path)
	if err != nil {
		return false, err
	}
	entry, ok := cfg.Pins[examiner]
	return ok && entry.Verifier != "" && entry.Salt != "", nil
}

// Locked reports whether the examiner is locked out.
func (a *Auth) Locked(examiner string) (bool, error) {
	cfg, err := userconfig.Load(a.path)
	if err != nil {
		return false, err
	}
	return cfg.Pins[examiner].Locked, nil
}

// KeyVersion returns the examiner's current key version (0 when no PIN).
func (a *Auth) KeyVersion(examiner string) (int, error) {
	cfg, err := userconfig.Load(a.path)
	if err != nil {
		return 0, err
	}
	return cfg.Pins[examiner].KeyVersion, nil
}

// Setup configures a new PIN, bumping the key version and clearing any
// lockout. It returns the new key version.
func (a *Auth) Setup(examiner, pin string) (int, error) {
	if strings.TrimSpace(pin) == "" {
		return 0, fmt.Errorf("%w: PIN cannot be empty", apperr.ErrValidation)
	}
	cfg, err := userconfig.Load(a.path)
	if err != nil {
		return 0, err
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return 0, fmt.Errorf("pinauth: salt: %w", err)
	}
	key := DeriveKey(pin, salt)
	if cfg.Pins == nil {
		cfg.Pins = make(map[string]userconfig.PinEntry)
	}
	entry := cfg.Pins[examiner]
	entry.Verifier = verifierFor(key)
	entry.Salt = hex.EncodeToString(salt)
	entry.KeyVersion++
	entry.FailedAttempts = 0
	entry.Locked = false
	cfg.Pins[examiner] = entry
	if err := userconfig.Save(a.path, cfg); err != nil {
		return 0, err
	}
	return entry.KeyVersion, nil
}

// Verify checks a PIN and, on success, returns the derived signing key and
// its version. Failures count toward the lockout; the third consecutive
// failure locks the examiner, and while locked even the correct PIN fails.
func (a *Auth) Verify(examiner, pin string) ([]byte, int, error) {
	cfg, err := userconfig.Load(a.path)
	if err != nil {
		return nil, 0, err
	}
	entry, ok := cfg.Pins[examiner]
	if !ok || entry.Verifier == "" {
		return nil, 0, fmt.Errorf("%w: no PIN configured for %q", apperr.ErrAuth, examiner)
	}
	if entry.Locked {
		return nil, 0, fmt.Errorf("%w: PIN locked for %q after %d failed attempts; run 'caseward config --unlock-pin'", apperr.ErrAuth, examiner, maxAttempts)
	}
	key, match, err := a.check(entry, pin)
	if err != nil {
		return nil, 0, err
	}
	if !match {
		entry.FailedAttempts++
		if entry.FailedAttempts >= maxAttempts {
			entry.Locked = true
		}
		cfg.Pins[examiner] = entry
		if saveErr := userconfig.Save(a.path, cfg); saveErr != nil {
			return nil, 0, saveErr
		}
		if entry.Locked {
			return nil, 0, fmt.Errorf("%w: incorrect PIN; examiner %q is now locked", apperr.ErrAuth, examiner)
		}
		return nil, 0, fmt.Errorf("%w: incorrect PIN, %d attempt(s) remaining", apperr.ErrAuth, maxAttempts-entry.FailedAttempts)
	}
	if entry.FailedAttempts != 0 {
		entry.FailedAttempts = 0
		cfg.Pins[examiner] = entry
		if saveErr := userconfig.Save(a.path, cfg); saveErr != nil {
			return nil, 0, saveErr
		}
	}
	return key, entry.KeyVersion, nil
}

// Unlock clears a lockout. It requires the previously successful PIN, or an
// administrative override.
func (a *Auth) Unlock(examiner, pin string, adminOverride bool) error {
	cfg, err := userconfig.Load(a.path)
	if err != nil {
		return err
	}
	entry, ok := cfg.Pins[examiner]
	if !ok {
		return fmt.Errorf("%w: no PIN configured for %q", apperr.ErrAuth, examiner)
	}
	if !adminOverride {
		_, match, err := a.check(entry, pin)
		if err != nil {
			return err
		}
		if !match {
			return fmt.Errorf("%w: incorrect PIN, lockout stands", apperr.ErrAuth)
		}
	}
	entry.FailedAttempts = 0
	entry.Locked = false
	cfg.Pins[examiner] = entry
	return userconfig.Save(a.path, cfg)
}

// Rotate replaces the PIN. The caller must supply the current PIN (verified
// with the usual lockout rules); the old and new keys and the new version are
// returned so the ledger can re-sign the examiner's entries.
func (a *Auth) Rotate(examiner, currentPin, newPin string) (oldKey, newKey []byte, oldVersion, newVersion int, err error) {
	oldKey, oldVersion, err = a.Verify(examiner, currentPin)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	newVersion, err = a.Setup(examiner, newPin)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	cfg, err := userconfig.Load(a.path)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	salt, err := hex.DecodeString(cfg.Pins[examiner].Salt)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("pinauth: decode salt: %w", err)
	}
	newKey = DeriveKey(newPin, salt)
	return oldKey, newKey, oldVersion, newVersion, nil
}

// check derives the key for pin against entry's salt and compares verifiers
// in constant time.
func (a *Auth) check(entry userconfig.PinEntry, pin string) ([]byte, bool, error) {
	salt, err := hex.DecodeString(entry.Salt)
	if err != nil {
		return nil, false, fmt.Errorf("pinauth: decode salt: %w", err)
	}
	key := DeriveKey(pin, salt)
	got := verifierFor(key)
	match := subtle.ConstantTimeCompare([]byte(got), []byte(entry.Verifier)) == 1
	if !match {
		return nil, false, nil
	}
	return key, true, nil
}
