// Package ledger implements the append-only verification ledger.
//
// One JSON-Lines file per case id, stored outside the case tree so a process
// confined to the case directory cannot read or forge it. Entries record an
// HMAC-SHA256 over the item's content hash, keyed by the examiner's
// PIN-derived key. Entries are never rewritten: PIN rotation appends fresh
// entries under a higher key version.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/models"
)

// DefaultDir resolves the ledger root: CASEWARD_LEDGER_DIR when set, else a
// system location outside any user's home or case tree.
func DefaultDir() string {
	if d := os.Getenv("CASEWARD_LEDGER_DIR"); d != "" {
		return d
	}
	return "/var/lib/caseward/verification"
}

// Sign computes the hex HMAC-SHA256 of contentHash under key.
func Sign(key []byte, contentHash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(contentHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks sig against Sign(key, contentHash) in constant time.
func VerifySignature(key []byte, contentHash, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(contentHash))
	return hmac.Equal(mac.Sum(nil), want)
}

// Ledger is a handle on the ledger root directory. All mutation goes through
// Append, which enforces the atomic single-line append discipline.
type Ledger struct {
	dir string
}

// Open ensures the ledger root exists (owner-only) and returns a handle.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ledger: create dir %s: %w", dir, err)
	}
	return &Ledger{dir: dir}, nil
}

// Dir returns the ledger root.
func (l *Ledger) Dir() string { return l.dir }

func (l *Ledger) casePath(caseID string) (string, error) {
	if err := casestore.ValidateCaseID(caseID); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, caseID+".jsonl"), nil
}

// Append writes one entry under an exclusive advisory lock.
func (l *Ledger) Append(e models.LedgerEntry) error {
	path, err := l.casePath(e.CaseID)
	if err != nil {
		return err
	}
	if err := casestore.AppendLine(path, e); err != nil {
		return err
	}
	// Keep the ledger file owner-only regardless of umask.
	return os.Chmod(path, 0o600)
}

// Read returns every entry for a case, oldest first. A missing file yields
// an empty slice.
func (l *Ledger) Read(caseID string) ([]models.LedgerEntry, error) {
	path, err := l.casePath(caseID)
	if err != nil {
		return nil, err
	}
	entries, _, err := casestore.ReadLines[models.LedgerEntry](path)
	return entries, err
}

// Latest reduces the ledger to the most recent entry per item id, preferring
// higher key versions. This is the view reconciliation compares against.
func (l *Ledger) Latest(caseID string) (map[string]models.LedgerEntry, error) {
	entries, err := l.Read(caseID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.LedgerEntry, len(entries))
	for _, e := range entries {
		prev, ok := out[e.ItemID]
		if !ok || e.KeyVersion >= prev.KeyVersion {
			out[e.ItemID] = e
		}
	}
	return out, nil
}

// Resign appends fresh entries for every item of examiner currently signed
// under oldVersion, verifying the old signature first so a forged entry is
// never laundered into the new key version. Returns the number of items
// re-signed.
func (l *Ledger) Resign(caseID, examiner string, oldKey, newKey []byte, oldVersion, newVersion int) (int, error) {
	latest, err := l.Latest(caseID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	count := 0
	for _, e := range latest {
		if e.Examiner != examiner || e.KeyVersion != oldVersion {
			continue
		}
		if !VerifySignature(oldKey, e.ContentHash, e.HMACSignature) {
			// Does not verify under the old key: leave it alone rather
			// than corrupt the trail.
			continue
		}
		fresh := models.LedgerEntry{
			CaseID:        e.CaseID,
			ItemID:        e.ItemID,
			Examiner:      e.Examiner,
			ContentHash:   e.ContentHash,
			HMACSignature: Sign(newKey, e.ContentHash),
			SignedAt:      now,
			KeyVersion:    newVersion,
		}
		if err := l.Append(fresh); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Cases lists the case ids with a ledger file.
func (l *Ledger) Cases() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		out = append(out, base[:len(base)-len(".jsonl")])
	}
	return out, nil
}
