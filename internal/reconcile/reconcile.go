// Package reconcile compares the case store against the verification ledger.
//
// Reconciliation is strictly read-only: it reports divergence, it never
// repairs it. The cheap mode compares the stored content hash against a fresh
// hash of the substantive fields and against the ledger's recorded hash. The
// deep mode additionally recomputes the HMAC signature, which requires the
// examiner's PIN-derived key and therefore only covers that examiner's
// entries.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/checksum"
	"github.com/halvard/caseward/internal/ledger"
	"github.com/halvard/caseward/internal/models"
)

// Classification of one approved item (or orphaned ledger entry).
type Classification string

const (
	// OK: approved, ledger entry present, hashes agree.
	OK Classification = "OK"
	// ApprovedNoVerification: approved but no ledger entry exists. Expected
	// when the approving examiner had no PIN configured; suspicious otherwise.
	ApprovedNoVerification Classification = "APPROVED_NO_VERIFICATION"
	// DescriptionMismatch: the substantive content no longer matches the hash
	// that was signed. The item changed after approval, outside the recorded
	// modification flow.
	DescriptionMismatch Classification = "DESCRIPTION_MISMATCH"
	// VerificationNoFinding: a ledger entry exists for an item that is absent
	// or no longer approved in the store.
	VerificationNoFinding Classification = "VERIFICATION_NO_FINDING"
)

// Finding is one reconciliation result line.
type Finding struct {
	ItemID   string         `json:"item_id"`
	Examiner string         `json:"examiner"`
	Kind     models.Kind    `json:"kind,omitempty"`
	Class    Classification `json:"class"`
	Detail   string         `json:"detail,omitempty"`
	// SignatureChecked is true when the deep mode recomputed the HMAC for
	// this entry.
	SignatureChecked bool `json:"signature_checked,omitempty"`
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	CaseID   string    `json:"case_id"`
	Findings []Finding `json:"findings"`
	Checked  int       `json:"checked"`
	Deep     bool      `json:"deep"`
}

// Clean reports whether every checked item classified OK.
func (r *Report) Clean() bool {
	for _, f := range r.Findings {
		if f.Class != OK {
			return false
		}
	}
	return true
}

// Options narrows and deepens a pass.
type Options struct {
	// Examiner limits the pass to one namespace. Required for deep mode.
	Examiner string
	// Key is the PIN-derived signing key for deep signature verification.
	// Nil means cheap mode.
	Key []byte
	// KeyVersion is the version Key corresponds to; ledger entries under
	// other versions are not signature-checked.
	KeyVersion int
}

// Verify runs one reconciliation pass over the case.
func Verify(store *casestore.Store, ldg *ledger.Ledger, caseID string, opts Options) (*Report, error) {
	if opts.Key != nil && opts.Examiner == "" {
		return nil, fmt.Errorf("reconcile: deep verification requires an examiner scope")
	}
	latest, err := ldg.Latest(caseID)
	if err != nil {
		return nil, err
	}

	report := &Report{CaseID: caseID, Deep: opts.Key != nil}
	seen := make(map[string]bool, len(latest))

	examiners, err := store.Examiners()
	if err != nil {
		return nil, err
	}
	for _, ex := range examiners {
		if opts.Examiner != "" && ex != opts.Examiner {
			continue
		}
		findings, err := store.Findings(ex)
		if err != nil {
			return nil, err
		}
		for i := range findings.Items {
			report.check(&findings.Items[i], latest, seen, opts)
		}
		timeline, err := store.Timeline(ex)
		if err != nil {
			return nil, err
		}
		for i := range timeline.Items {
			report.check(&timeline.Items[i], latest, seen, opts)
		}
	}

	// Ledger entries with no surviving approved item.
	for id, entry := range latest {
		if seen[id] {
			continue
		}
		if opts.Examiner != "" && entry.Examiner != opts.Examiner {
			continue
		}
		report.Findings = append(report.Findings, Finding{
			ItemID:   id,
			Examiner: entry.Examiner,
			Class:    VerificationNoFinding,
			Detail:   "ledger entry has no matching approved item",
		})
	}

	sort.Slice(report.Findings, func(i, j int) bool {
		return report.Findings[i].ItemID < report.Findings[j].ItemID
	})
	return report, nil
}

func (r *Report) check(item models.Item, latest map[string]models.LedgerEntry, seen map[string]bool, opts Options) {
	m := item.Meta()
	if m.Status != models.StatusApproved {
		return
	}
	r.Checked++
	seen[m.ID] = true

	f := Finding{ItemID: m.ID, Examiner: m.Examiner, Kind: item.Kind()}
	entry, hasEntry := latest[m.ID]
	current := checksum.Text(item.SubstantiveText())

	switch {
	case !hasEntry:
		f.Class = ApprovedNoVerification
		f.Detail = "approved item has no verification entry"
	case current != m.ContentHash || current != entry.ContentHash:
		f.Class = DescriptionMismatch
		f.Detail = "substantive content no longer matches the signed hash"
	default:
		f.Class = OK
	}

	if f.Class == OK && opts.Key != nil && entry.Examiner == opts.Examiner && entry.KeyVersion == opts.KeyVersion {
		f.SignatureChecked = true
		if !ledger.VerifySignature(opts.Key, entry.ContentHash, entry.HMACSignature) {
			f.Class = DescriptionMismatch
			f.Detail = "HMAC signature does not verify under the current key"
		}
	}
	r.Findings = append(r.Findings, f)
}
