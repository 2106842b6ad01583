// Package evidence manages the per-examiner evidence registry.
//
// Registering a file records its streamed SHA-256 and write-protects it.
// Once registered, a file may only change through an explicit unlock and
// re-register cycle, and every touch lands in the case's evidence access log.
package evidence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/approval"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/checksum"
	"github.com/halvard/caseward/internal/identity"
	"github.com/halvard/caseward/internal/models"
)

// Service wires the store, the acting identity, and the terminal
// confirmation channel used by unlock.
type Service struct {
	Store   *casestore.Store
	ID      identity.Identity
	Confirm approval.Confirmer
}

// normalizePath stores case-relative paths for files under the case root and
// absolute paths otherwise, so registries survive a case directory move.
func (s *Service) normalizePath(path string) (stored, abs string, err error) {
	abs, err = filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("evidence: resolve %s: %w", path, err)
	}
	if rel, err := filepath.Rel(s.Store.Root(), abs); err == nil && !strings.HasPrefix(rel, "..") {
		return rel, abs, nil
	}
	return abs, abs, nil
}

func (s *Service) resolve(stored string) string {
	if filepath.IsAbs(stored) {
		return stored
	}
	return filepath.Join(s.Store.Root(), stored)
}

func (s *Service) logAccess(action, path, detail string) error {
	return s.Store.AppendAccess(models.AccessRecord{
		Timestamp: time.Now().UTC(),
		Path:      path,
		Action:    action,
		Examiner:  s.ID.Examiner,
		OSUser:    s.ID.OSUser,
		Detail:    detail,
	})
}

// Register hashes the file (streamed, so large disk images do not load into
// memory), records it in the examiner's registry, and write-protects it.
// Re-registering a path requires a prior Unlock.
func (s *Service) Register(path, description string) (*models.EvidenceRecord, error) {
	stored, abs, err := s.normalizePath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: evidence file %s", apperr.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("evidence: open %s: %w", path, err)
	}
	sum, err := checksum.Reader(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("evidence: hash %s: %w", path, err)
	}

	doc, err := s.Store.Evidence(s.ID.Examiner)
	if err != nil {
		return nil, err
	}
	rec := models.EvidenceRecord{
		Path:         stored,
		SHA256:       sum,
		Description:  description,
		RegisteredAt: time.Now().UTC(),
		RegisteredBy: s.ID.Examiner,
	}
	replaced := false
	for i := range doc.Items {
		if doc.Items[i].Path != stored {
			continue
		}
		if !doc.Items[i].Unlocked {
			return nil, fmt.Errorf("%w: %s is already registered; unlock it first", apperr.ErrInvalidState, stored)
		}
		doc.Items[i] = rec
		replaced = true
		break
	}
	if !replaced {
		doc.Items = append(doc.Items, rec)
	}
	if err := s.Store.SaveEvidence(doc); err != nil {
		return nil, err
	}
	if err := os.Chmod(abs, 0o444); err != nil {
		return nil, fmt.Errorf("evidence: write-protect %s: %w", path, err)
	}
	if err := s.logAccess("register", stored, "sha256="+sum); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns the examiner's registry, or every namespace's when examiner
// is empty.
func (s *Service) List(examiner string) ([]models.EvidenceRecord, error) {
	examiners := []string{examiner}
	if examiner == "" {
		var err error
		examiners, err = s.Store.Examiners()
		if err != nil {
			return nil, err
		}
	}
	var out []models.EvidenceRecord
	for _, ex := range examiners {
		doc, err := s.Store.Evidence(ex)
		if err != nil {
			return nil, err
		}
		out = append(out, doc.Items...)
	}
	return out, nil
}

// Mismatch describes one file whose current hash differs from its registry
// entry, or which is missing.
type Mismatch struct {
	Path   string
	Want   string
	Got    string
	Detail string
}

// VerifyAll re-hashes every registered file and reports divergence. The
// registry is never modified. A non-empty result wraps ErrIntegrity.
func (s *Service) VerifyAll(examiner string) ([]Mismatch, error) {
	records, err := s.List(examiner)
	if err != nil {
		return nil, err
	}
	var bad []Mismatch
	for _, rec := range records {
		abs := s.resolve(rec.Path)
		f, err := os.Open(abs)
		if errors.Is(err, fs.ErrNotExist) {
			bad = append(bad, Mismatch{Path: rec.Path, Want: rec.SHA256, Detail: "file missing"})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("evidence: open %s: %w", rec.Path, err)
		}
		sum, err := checksum.Reader(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("evidence: hash %s: %w", rec.Path, err)
		}
		if sum != rec.SHA256 {
			bad = append(bad, Mismatch{Path: rec.Path, Want: rec.SHA256, Got: sum, Detail: "hash mismatch"})
		}
	}
	detail := "ok"
	if len(bad) > 0 {
		detail = fmt.Sprintf("%d mismatch(es)", len(bad))
	}
	if err := s.logAccess("verify", "*", detail); err != nil {
		return nil, err
	}
	if len(bad) > 0 {
		return bad, fmt.Errorf("%w: %d evidence file(s) diverged from the registry", apperr.ErrIntegrity, len(bad))
	}
	return nil, nil
}

// Unlock lifts the write protection on one registered file after an explicit
// terminal confirmation, marking the record so Register accepts a new hash.
func (s *Service) Unlock(path string) error {
	stored, abs, err := s.normalizePath(path)
	if err != nil {
		return err
	}
	doc, err := s.Store.Evidence(s.ID.Examiner)
	if err != nil {
		return err
	}
	idx := -1
	for i := range doc.Items {
		if doc.Items[i].Path == stored {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s is not registered", apperr.ErrNotFound, stored)
	}
	ok, err := s.Confirm.Confirm(fmt.Sprintf("Unlock evidence %s for modification? [y/N]: ", stored))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: unlock not confirmed", apperr.ErrAuth)
	}
	if err := os.Chmod(abs, 0o644); err != nil {
		return fmt.Errorf("evidence: unlock %s: %w", path, err)
	}
	doc.Items[idx].Unlocked = true
	if err := s.Store.SaveEvidence(doc); err != nil {
		return err
	}
	return s.logAccess("unlock", stored, "")
}

// Lock restores the write protection on one registered file.
func (s *Service) Lock(path string) error {
	stored, abs, err := s.normalizePath(path)
	if err != nil {
		return err
	}
	doc, err := s.Store.Evidence(s.ID.Examiner)
	if err != nil {
		return err
	}
	idx := -1
	for i := range doc.Items {
		if doc.Items[i].Path == stored {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s is not registered", apperr.ErrNotFound, stored)
	}
	if err := os.Chmod(abs, 0o444); err != nil {
		return fmt.Errorf("evidence: lock %s: %w", path, err)
	}
	doc.Items[idx].Unlocked = false
	if err := s.Store.SaveEvidence(doc); err != nil {
		return err
	}
	return s.logAccess("relock", stored, "")
}

// AccessLog returns the case-wide evidence access log.
func (s *Service) AccessLog() ([]models.AccessRecord, error) {
	records, _, err := s.Store.AccessLog()
	return records, err
}
