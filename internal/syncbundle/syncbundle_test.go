package syncbundle_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/syncbundle"
	"github.com/halvard/caseward/internal/testutil"
)

func bundlePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "bundle.json")
}

func TestExportImportRoundTrip(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, src, "alice", "first")
	testutil.StageFinding(t, src, "alice", "second")

	path := bundlePath(t)
	b, err := syncbundle.Export(src, "case-001", "alice", path, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Findings) != 2 {
		t.Fatalf("exported %d findings, want 2", len(b.Findings))
	}
	if b.BundleID == "" || b.Machine == "" {
		t.Fatalf("bundle metadata incomplete: %+v", b)
	}

	dst := testutil.TestCase(t, "case-001")
	res, err := syncbundle.Import(dst, "case-001", "bob", path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 2 || res.Updated != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Examiner != "alice" {
		t.Fatalf("merged into %q, bundles always land in the exporter's namespace", res.Examiner)
	}

	doc, err := dst.Findings("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Items) != 2 {
		t.Fatalf("destination has %d findings", len(doc.Items))
	}
}

func TestBundleCarriesApprovalsAndEvidence(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	staged := testutil.StageFinding(t, src, "alice", "decided at the lab")

	now := time.Now().UTC()
	if err := src.AppendApproval(models.ApprovalRecord{
		Timestamp: now,
		ItemID:    staged.ID,
		Decision:  models.StatusApproved,
		Examiner:  "alice",
		OSUser:    "tester",
		Mode:      "pin",
	}); err != nil {
		t.Fatal(err)
	}
	// Another examiner's decision stays out of alice's bundle.
	if err := src.AppendApproval(models.ApprovalRecord{
		Timestamp: now,
		ItemID:    "F-carol-001",
		Decision:  models.StatusRejected,
		Examiner:  "carol",
		OSUser:    "tester",
		Reason:    "not part of this export",
	}); err != nil {
		t.Fatal(err)
	}
	ev, err := src.Evidence("alice")
	if err != nil {
		t.Fatal(err)
	}
	ev.Items = append(ev.Items, models.EvidenceRecord{
		Path:         "evidence/disk.img",
		SHA256:       "0c7e4ab8",
		RegisteredAt: now,
		RegisteredBy: "alice",
	})
	if err := src.SaveEvidence(ev); err != nil {
		t.Fatal(err)
	}

	path := bundlePath(t)
	b, err := syncbundle.Export(src, "case-001", "alice", path, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Approvals) != 1 || b.Approvals[0].ItemID != staged.ID {
		t.Fatalf("bundle approvals = %+v", b.Approvals)
	}
	if len(b.Evidence) != 1 || b.Evidence[0].Path != "evidence/disk.img" {
		t.Fatalf("bundle evidence = %+v", b.Evidence)
	}

	dst := testutil.TestCase(t, "case-001")
	res, err := syncbundle.Import(dst, "case-001", "bob", path)
	if err != nil {
		t.Fatal(err)
	}
	if res.ApprovalsReplayed != 1 || res.EvidenceAdded != 1 {
		t.Fatalf("result = %+v", res)
	}
	records, _, err := dst.Approvals()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ItemID != staged.ID || records[0].Examiner != "alice" {
		t.Fatalf("replayed approvals = %+v", records)
	}
	evDoc, err := dst.Evidence("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(evDoc.Items) != 1 || evDoc.Items[0].SHA256 != "0c7e4ab8" {
		t.Fatalf("merged evidence = %+v", evDoc.Items)
	}

	// A second import replays nothing: the log stays append-only and
	// duplicate-free.
	res, err = syncbundle.Import(dst, "case-001", "bob", path)
	if err != nil {
		t.Fatal(err)
	}
	if res.ApprovalsReplayed != 0 || res.EvidenceAdded != 0 {
		t.Fatalf("second import = %+v", res)
	}
}

func TestSinceFiltersOldItems(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, src, "alice", "recent")

	path := bundlePath(t)
	b, err := syncbundle.Export(src, "case-001", "alice", path, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Findings) != 0 {
		t.Fatalf("exported %d findings, want none newer than the cutoff", len(b.Findings))
	}
}

func TestLocalApprovedNeverOverwritten(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	staged := testutil.StageFinding(t, src, "alice", "contested")

	path := bundlePath(t)
	if _, err := syncbundle.Export(src, "case-001", "alice", path, time.Time{}); err != nil {
		t.Fatal(err)
	}

	dst := testutil.TestCase(t, "case-001")
	doc, err := dst.Findings("alice")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	doc.Items = append(doc.Items, models.Finding{
		Lifecycle: models.Lifecycle{
			ID:         staged.ID,
			Examiner:   "alice",
			Status:     models.StatusApproved,
			CreatedAt:  now.Add(-2 * time.Hour),
			ApprovedAt: &now,
			ApprovedBy: "alice",
		},
		Title: "locally approved",
	})
	if err := dst.SaveFindings(doc); err != nil {
		t.Fatal(err)
	}

	res, err := syncbundle.Import(dst, "case-001", "bob", path)
	if err != nil {
		t.Fatal(err)
	}
	if res.SkippedApproved != 1 {
		t.Fatalf("result = %+v, want the approved item skipped", res)
	}
	doc, _ = dst.Findings("alice")
	if doc.Items[0].Status != models.StatusApproved || doc.Items[0].Title != "locally approved" {
		t.Fatalf("approved item was overwritten: %+v", doc.Items[0])
	}
}

func TestLastWriteWins(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	staged := testutil.StageFinding(t, src, "alice", "newer copy")

	// Mark the source copy as freshly modified.
	doc, _ := src.Findings("alice")
	doc.Items[0].ModifiedAt = time.Now().UTC()
	if err := src.SaveFindings(doc); err != nil {
		t.Fatal(err)
	}

	path := bundlePath(t)
	if _, err := syncbundle.Export(src, "case-001", "alice", path, time.Time{}); err != nil {
		t.Fatal(err)
	}

	dst := testutil.TestCase(t, "case-001")
	dstDoc, _ := dst.Findings("alice")
	dstDoc.Items = append(dstDoc.Items, models.Finding{
		Lifecycle: models.Lifecycle{
			ID:        staged.ID,
			Examiner:  "alice",
			Status:    models.StatusDraft,
			CreatedAt: time.Now().Add(-24 * time.Hour),
		},
		Title: "stale copy",
	})
	if err := dst.SaveFindings(dstDoc); err != nil {
		t.Fatal(err)
	}

	res, err := syncbundle.Import(dst, "case-001", "bob", path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 {
		t.Fatalf("result = %+v, want the newer copy to win", res)
	}
	dstDoc, _ = dst.Findings("alice")
	if dstDoc.Items[0].Title != "newer copy" {
		t.Fatalf("title = %q", dstDoc.Items[0].Title)
	}

	// Importing the same bundle again changes nothing.
	res, err = syncbundle.Import(dst, "case-001", "bob", path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 0 || res.Added != 0 || res.Unchanged != 1 {
		t.Fatalf("second import = %+v, want unchanged", res)
	}
}

func TestSelfImportRejected(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, src, "alice", "own work")

	path := bundlePath(t)
	if _, err := syncbundle.Export(src, "case-001", "alice", path, time.Time{}); err != nil {
		t.Fatal(err)
	}

	_, err := syncbundle.Import(src, "case-001", "alice", path)
	if !errors.Is(err, apperr.ErrSelfImport) {
		t.Fatalf("err = %v, want ErrSelfImport", err)
	}
}

func TestSelfImportRejectedWhateverTheMachineStamp(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, src, "alice", "own work relabeled")

	path := bundlePath(t)
	if _, err := syncbundle.Export(src, "case-001", "alice", path, time.Time{}); err != nil {
		t.Fatal(err)
	}

	// Relabel the bundle as an export from another machine. The stamp is
	// just a field in an editable file, so it must not defeat the check.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	raw["machine"] = "other-box"
	data, err = json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	dst := testutil.TestCase(t, "case-001")
	_, err = syncbundle.Import(dst, "case-001", "alice", path)
	if !errors.Is(err, apperr.ErrSelfImport) {
		t.Fatalf("err = %v, want ErrSelfImport", err)
	}
}

func TestCaseMismatchRejected(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, src, "alice", "wrong case")

	path := bundlePath(t)
	if _, err := syncbundle.Export(src, "case-001", "alice", path, time.Time{}); err != nil {
		t.Fatal(err)
	}

	dst := testutil.TestCase(t, "case-002")
	_, err := syncbundle.Import(dst, "case-002", "bob", path)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestMissingBundleFile(t *testing.T) {
	dst := testutil.TestCase(t, "case-001")
	_, err := syncbundle.Import(dst, "case-001", "bob", bundlePath(t))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTodoCompletionIsTerminal(t *testing.T) {
	src := testutil.TestCase(t, "case-001")
	now := time.Now().UTC()
	todos, _ := src.Todos("alice")
	todos.Items = append(todos.Items, models.TodoItem{
		ID:          "TODO-alice-001",
		Description: "check proxy logs",
		Status:      models.TodoCompleted,
		CreatedAt:   now.Add(-2 * time.Hour),
		CompletedAt: &now,
	})
	if err := src.SaveTodos(todos); err != nil {
		t.Fatal(err)
	}

	path := bundlePath(t)
	if _, err := syncbundle.Export(src, "case-001", "alice", path, time.Time{}); err != nil {
		t.Fatal(err)
	}

	dst := testutil.TestCase(t, "case-001")
	dstTodos, _ := dst.Todos("alice")
	dstTodos.Items = append(dstTodos.Items, models.TodoItem{
		ID:          "TODO-alice-001",
		Description: "check proxy logs",
		Status:      models.TodoOpen,
		// Newer than the incoming copy, but completion still wins.
		CreatedAt: now,
	})
	if err := dst.SaveTodos(dstTodos); err != nil {
		t.Fatal(err)
	}

	if _, err := syncbundle.Import(dst, "case-001", "bob", path); err != nil {
		t.Fatal(err)
	}
	dstTodos, _ = dst.Todos("alice")
	if dstTodos.Items[0].Status != models.TodoCompleted {
		t.Fatalf("status = %q, completion must survive the merge", dstTodos.Items[0].Status)
	}
}
