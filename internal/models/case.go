package models

import "time"

// CaseMeta is the CASE.yaml document at the case root.
type CaseMeta struct {
	CaseID    string    `yaml:"case_id" json:"case_id"`
	Name      string    `yaml:"name" json:"name"`
	Status    string    `yaml:"status" json:"status"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	Examiners []string  `yaml:"examiners,omitempty" json:"examiners,omitempty"`
}

// ApprovalRecord is one append-only line in approvals.jsonl, written per
// decision. The OS user is always captured alongside the resolved examiner so
// a spoofed identity still leaves a forensic residue.
type ApprovalRecord struct {
	Timestamp      time.Time     `json:"ts"`
	ItemID         string        `json:"item_id"`
	Decision       Status        `json:"decision"`
	Examiner       string        `json:"examiner"`
	ExaminerSource string        `json:"examiner_source,omitempty"`
	OSUser         string        `json:"os_user"`
	Mode           string        `json:"mode,omitempty"` // "pin" or "interactive"
	Reason         string        `json:"reason,omitempty"`
	Note           string        `json:"note,omitempty"`
	ContentHash    string        `json:"content_hash,omitempty"`
}

// LedgerEntry is one append-only line in the out-of-band verification ledger.
// The HMAC is computed over the item's content hash with the examiner's
// PIN-derived key; entries are never rewritten, rotation appends new ones
// under a higher key version.
type LedgerEntry struct {
	CaseID        string    `json:"case_id"`
	ItemID        string    `json:"item_id"`
	Examiner      string    `json:"examiner"`
	ContentHash   string    `json:"content_hash"`
	HMACSignature string    `json:"hmac_signature"`
	SignedAt      time.Time `json:"signed_at"`
	KeyVersion    int       `json:"key_version"`
}

// EvidenceRecord registers a file in the evidence registry. Immutable once
// registered except through an explicit unlock/re-register cycle.
type EvidenceRecord struct {
	Path         string    `json:"path"`
	SHA256       string    `json:"sha256"`
	Description  string    `json:"description,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	RegisteredBy string    `json:"registered_by"`
	Unlocked     bool      `json:"unlocked,omitempty"`
}

// AccessRecord is one line in evidence_access.jsonl.
type AccessRecord struct {
	Timestamp time.Time `json:"ts"`
	Path      string    `json:"path"`
	Action    string    `json:"action"` // register, verify, unlock, relock
	Examiner  string    `json:"examiner"`
	OSUser    string    `json:"os_user"`
	Detail    string    `json:"detail,omitempty"`
}
