// Package syncbundle moves one examiner's namespace between air-gapped
// machines as a single JSON bundle file.
//
// Export snapshots the exporting examiner's documents, decision records, and
// evidence manifest; import merges them into the same examiner's namespace on
// the receiving machine. Merge is
// last-write-wins on modified_at with one hard exception: an item that is
// APPROVED locally is never overwritten by an import. Approval happens on the
// machine where the human decided, and a bundle cannot undo it.
package syncbundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/models"
)

// Bundle is the interchange file.
type Bundle struct {
	BundleID   string     `json:"bundle_id"`
	CaseID     string     `json:"case_id"`
	Examiner   string     `json:"examiner"`
	Machine    string     `json:"machine,omitempty"`
	ExportedAt time.Time  `json:"exported_at"`
	Since      *time.Time `json:"since,omitempty"`

	Findings  []models.Finding        `json:"findings"`
	Timeline  []models.TimelineEvent  `json:"timeline"`
	Todos     []models.TodoItem       `json:"todos"`
	Approvals []models.ApprovalRecord `json:"approvals"`
	Evidence  []models.EvidenceRecord `json:"evidence"`
}

// Export writes the examiner's namespace to path. A non-zero since keeps only
// items created or modified after it.
func Export(store *casestore.Store, caseID, examiner, path string, since time.Time) (*Bundle, error) {
	findings, err := store.Findings(examiner)
	if err != nil {
		return nil, err
	}
	timeline, err := store.Timeline(examiner)
	if err != nil {
		return nil, err
	}
	todos, err := store.Todos(examiner)
	if err != nil {
		return nil, err
	}
	evidence, err := store.Evidence(examiner)
	if err != nil {
		return nil, err
	}
	approvals, _, err := store.Approvals()
	if err != nil {
		return nil, err
	}

	host, _ := os.Hostname()
	b := &Bundle{
		BundleID:   uuid.NewString(),
		CaseID:     caseID,
		Examiner:   examiner,
		Machine:    host,
		ExportedAt: time.Now().UTC(),
	}
	if !since.IsZero() {
		b.Since = &since
	}
	for _, f := range findings.Items {
		if since.IsZero() || lastTouched(&f.Lifecycle).After(since) {
			b.Findings = append(b.Findings, f)
		}
	}
	for _, e := range timeline.Items {
		if since.IsZero() || lastTouched(&e.Lifecycle).After(since) {
			b.Timeline = append(b.Timeline, e)
		}
	}
	for _, t := range todos.Items {
		if since.IsZero() || t.CreatedAt.After(since) {
			b.Todos = append(b.Todos, t)
		}
	}
	for _, rec := range evidence.Items {
		if since.IsZero() || rec.RegisteredAt.After(since) {
			b.Evidence = append(b.Evidence, rec)
		}
	}
	// Approvals are case-global on disk; the bundle carries only the
	// exporting examiner's decisions.
	for _, rec := range approvals {
		if rec.Examiner != examiner {
			continue
		}
		if since.IsZero() || rec.Timestamp.After(since) {
			b.Approvals = append(b.Approvals, rec)
		}
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("syncbundle: marshal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("syncbundle: write %s: %w", path, err)
	}
	return b, nil
}

// Result summarizes an import.
type Result struct {
	Examiner          string
	Added             int
	Updated           int
	SkippedApproved   int
	Unchanged         int
	EvidenceAdded     int
	ApprovalsReplayed int
}

// Import merges the bundle at path into the case. localExaminer is the
// identity running the import. A bundle authored under that same identity is
// always rejected with ErrSelfImport, whatever machine it claims to come
// from: the bundle file is attacker-writable, so a machine stamp cannot be
// trusted to distinguish a teammate's export from a relabeled copy of one's
// own unapproved edits.
func Import(store *casestore.Store, caseID, localExaminer, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: bundle file %s", apperr.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("syncbundle: read %s: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: not a valid bundle: %v", apperr.ErrValidation, err)
	}
	if err := casestore.ValidateExaminer(b.Examiner); err != nil {
		return nil, err
	}
	if b.CaseID != caseID {
		return nil, fmt.Errorf("%w: bundle is for case %q, active case is %q", apperr.ErrValidation, b.CaseID, caseID)
	}
	if b.Examiner == localExaminer {
		return nil, fmt.Errorf("%w: bundle %s was exported under the importing identity %s", apperr.ErrSelfImport, b.BundleID, b.Examiner)
	}

	res := &Result{Examiner: b.Examiner}

	findings, err := store.Findings(b.Examiner)
	if err != nil {
		return nil, err
	}
	findings.Items = mergeItems(findings.Items, b.Findings,
		func(f *models.Finding) *models.Lifecycle { return &f.Lifecycle }, res)
	if err := store.SaveFindings(findings); err != nil {
		return nil, err
	}

	timeline, err := store.Timeline(b.Examiner)
	if err != nil {
		return nil, err
	}
	timeline.Items = mergeItems(timeline.Items, b.Timeline,
		func(e *models.TimelineEvent) *models.Lifecycle { return &e.Lifecycle }, res)
	if err := store.SaveTimeline(timeline); err != nil {
		return nil, err
	}

	todos, err := store.Todos(b.Examiner)
	if err != nil {
		return nil, err
	}
	todos.Items = mergeTodos(todos.Items, b.Todos, res)
	if err := store.SaveTodos(todos); err != nil {
		return nil, err
	}

	evidence, err := store.Evidence(b.Examiner)
	if err != nil {
		return nil, err
	}
	evidence.Items = mergeEvidence(evidence.Items, b.Evidence, res)
	if err := store.SaveEvidence(evidence); err != nil {
		return nil, err
	}

	if err := replayApprovals(store, b.Approvals, res); err != nil {
		return nil, err
	}
	return res, nil
}

// lastTouched is the comparison timestamp for last-write-wins.
func lastTouched(m *models.Lifecycle) time.Time {
	if !m.ModifiedAt.IsZero() {
		return m.ModifiedAt
	}
	return m.CreatedAt
}

func mergeItems[T any](local, incoming []T, meta func(*T) *models.Lifecycle, res *Result) []T {
	index := make(map[string]int, len(local))
	for i := range local {
		index[meta(&local[i]).ID] = i
	}
	for i := range incoming {
		in := meta(&incoming[i])
		pos, ok := index[in.ID]
		if !ok {
			local = append(local, incoming[i])
			index[in.ID] = len(local) - 1
			res.Added++
			continue
		}
		cur := meta(&local[pos])
		if cur.Status == models.StatusApproved {
			res.SkippedApproved++
			continue
		}
		if lastTouched(in).After(lastTouched(cur)) {
			local[pos] = incoming[i]
			res.Updated++
		} else {
			res.Unchanged++
		}
	}
	return local
}

// mergeEvidence is append-only: the registry is immutable once written, so a
// record already present locally is never replaced by an incoming copy.
func mergeEvidence(local, incoming []models.EvidenceRecord, res *Result) []models.EvidenceRecord {
	known := make(map[string]struct{}, len(local))
	for _, rec := range local {
		known[rec.Path] = struct{}{}
	}
	for _, rec := range incoming {
		if _, ok := known[rec.Path]; ok {
			res.Unchanged++
			continue
		}
		local = append(local, rec)
		known[rec.Path] = struct{}{}
		res.EvidenceAdded++
	}
	return local
}

// replayApprovals appends the bundle's decision records the local log has
// not seen yet. The log stays append-only; records are identified by item,
// examiner, decision, and timestamp.
func replayApprovals(store *casestore.Store, incoming []models.ApprovalRecord, res *Result) error {
	existing, _, err := store.Approvals()
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[approvalKey(rec)] = struct{}{}
	}
	for _, rec := range incoming {
		key := approvalKey(rec)
		if _, ok := seen[key]; ok {
			continue
		}
		if err := store.AppendApproval(rec); err != nil {
			return err
		}
		seen[key] = struct{}{}
		res.ApprovalsReplayed++
	}
	return nil
}

func approvalKey(rec models.ApprovalRecord) string {
	return rec.ItemID + "|" + rec.Examiner + "|" + string(rec.Decision) + "|" + rec.Timestamp.UTC().Format(time.RFC3339Nano)
}

func mergeTodos(local, incoming []models.TodoItem, res *Result) []models.TodoItem {
	index := make(map[string]int, len(local))
	for i := range local {
		index[local[i].ID] = i
	}
	for _, in := range incoming {
		pos, ok := index[in.ID]
		if !ok {
			local = append(local, in)
			index[in.ID] = len(local) - 1
			res.Added++
			continue
		}
		cur := local[pos]
		// Completion is terminal for TODOs: a completed copy wins over an
		// open one regardless of timestamps.
		switch {
		case cur.Status != models.TodoCompleted && in.Status == models.TodoCompleted:
			local[pos] = in
			res.Updated++
		case cur.Status == models.TodoCompleted:
			res.Unchanged++
		case in.CreatedAt.After(cur.CreatedAt):
			local[pos] = in
			res.Updated++
		default:
			res.Unchanged++
		}
	}
	return local
}
