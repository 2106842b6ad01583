package pinauth_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/pinauth"
)

func newAuth(t *testing.T) *pinauth.Auth {
	t.Helper()
	return pinauth.New(filepath.Join(t.TempDir(), "config.yaml"))
}

func TestSetupAndVerify(t *testing.T) {
	auth := newAuth(t)

	has, err := auth.HasPIN("alice")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("HasPIN before setup")
	}

	version, err := auth.Setup("alice", "1234")
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}

	key, gotVersion, err := auth.Verify("alice", "1234")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(key) != 32 || gotVersion != 1 {
		t.Fatalf("key len = %d, version = %d", len(key), gotVersion)
	}
}

func TestSetupRejectsEmptyPIN(t *testing.T) {
	auth := newAuth(t)
	_, err := auth.Setup("alice", "   ")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestVerifyWithoutPIN(t *testing.T) {
	auth := newAuth(t)
	_, _, err := auth.Verify("alice", "1234")
	if !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	auth := newAuth(t)
	if _, err := auth.Setup("alice", "1234"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := auth.Verify("alice", "wrong"); !errors.Is(err, apperr.ErrAuth) {
			t.Fatalf("attempt %d: err = %v, want ErrAuth", i+1, err)
		}
	}
	locked, err := auth.Locked("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !locked {
		t.Fatal("not locked after three failures")
	}

	// The correct PIN still fails while locked.
	if _, _, err := auth.Verify("alice", "1234"); !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("correct PIN while locked: err = %v, want ErrAuth", err)
	}

	// Unlock with the wrong PIN keeps the lockout.
	if err := auth.Unlock("alice", "wrong", false); !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("unlock with wrong PIN: err = %v, want ErrAuth", err)
	}

	if err := auth.Unlock("alice", "1234", false); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, _, err := auth.Verify("alice", "1234"); err != nil {
		t.Fatalf("Verify after unlock: %v", err)
	}
}

func TestAdminOverrideUnlock(t *testing.T) {
	auth := newAuth(t)
	if _, err := auth.Setup("alice", "1234"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		auth.Verify("alice", "wrong")
	}
	if err := auth.Unlock("alice", "", true); err != nil {
		t.Fatalf("admin unlock: %v", err)
	}
	locked, _ := auth.Locked("alice")
	if locked {
		t.Fatal("still locked after admin override")
	}
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	auth := newAuth(t)
	if _, err := auth.Setup("alice", "1234"); err != nil {
		t.Fatal(err)
	}
	auth.Verify("alice", "wrong")
	auth.Verify("alice", "wrong")
	if _, _, err := auth.Verify("alice", "1234"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// Two more failures must not lock: the counter restarted.
	auth.Verify("alice", "wrong")
	auth.Verify("alice", "wrong")
	locked, _ := auth.Locked("alice")
	if locked {
		t.Fatal("locked despite an intervening success")
	}
}

func TestRotateChangesKeyAndVersion(t *testing.T) {
	auth := newAuth(t)
	if _, err := auth.Setup("alice", "1234"); err != nil {
		t.Fatal(err)
	}
	oldKey, newKey, oldVersion, newVersion, err := auth.Rotate("alice", "1234", "5678")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if oldVersion != 1 || newVersion != 2 {
		t.Fatalf("versions = %d -> %d, want 1 -> 2", oldVersion, newVersion)
	}
	if bytes.Equal(oldKey, newKey) {
		t.Fatal("rotation produced the same key")
	}

	if _, _, err := auth.Verify("alice", "1234"); !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("old PIN after rotation: err = %v, want ErrAuth", err)
	}
	key, version, err := auth.Verify("alice", "5678")
	if err != nil {
		t.Fatalf("new PIN: %v", err)
	}
	if version != 2 || !bytes.Equal(key, newKey) {
		t.Fatalf("verify returned version %d, key match %v", version, bytes.Equal(key, newKey))
	}
}

func TestRotateRequiresCurrentPIN(t *testing.T) {
	auth := newAuth(t)
	if _, err := auth.Setup("alice", "1234"); err != nil {
		t.Fatal(err)
	}
	_, _, _, _, err := auth.Rotate("alice", "wrong", "5678")
	if !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}
