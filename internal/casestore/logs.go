package casestore

import (
	"path/filepath"

	"github.com/halvard/caseward/internal/models"
)

// AppendApproval appends one decision record to approvals.jsonl.
func (s *Store) AppendApproval(rec models.ApprovalRecord) error {
	return AppendLine(filepath.Join(s.root, approvalsFile), rec)
}

// Approvals reads all approval records. Corrupt lines are skipped; the count
// of skipped lines is returned so callers can warn.
func (s *Store) Approvals() ([]models.ApprovalRecord, int, error) {
	return ReadLines[models.ApprovalRecord](filepath.Join(s.root, approvalsFile))
}

// AppendAccess appends one record to the evidence access log.
func (s *Store) AppendAccess(rec models.AccessRecord) error {
	return AppendLine(filepath.Join(s.root, accessFile), rec)
}

// AccessLog reads the evidence access log.
func (s *Store) AccessLog() ([]models.AccessRecord, int, error) {
	return ReadLines[models.AccessRecord](filepath.Join(s.root, accessFile))
}

// AppendAudit appends one entry to audit/<backend>.jsonl.
func (s *Store) AppendAudit(backend string, entry any) error {
	return AppendLine(filepath.Join(s.root, auditDir, backend+".jsonl"), entry)
}

// AuditEntries reads every audit/*.jsonl file. Each entry gains a "backend"
// key derived from the filename when the entry lacks one.
func (s *Store) AuditEntries() ([]map[string]any, error) {
	files, err := filepath.Glob(filepath.Join(s.root, auditDir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, file := range files {
		entries, _, err := ReadLines[map[string]any](file)
		if err != nil {
			return nil, err
		}
		backend := filepath.Base(file)
		backend = backend[:len(backend)-len(".jsonl")]
		for _, e := range entries {
			if _, ok := e["backend"]; !ok {
				e["backend"] = backend
			}
			out = append(out, e)
		}
	}
	return out, nil
}
