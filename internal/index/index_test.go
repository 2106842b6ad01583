package index_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/index"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/testutil"
)

func testDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syncStore(t *testing.T, db *index.DB, store *casestore.Store) {
	t.Helper()
	if err := index.Sync(db, store, discard()); err != nil {
		t.Fatal(err)
	}
}

func TestSyncIndexesDocuments(t *testing.T) {
	db := testDB(t)
	store := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, store, "alice", "first")
	testutil.StageFinding(t, store, "alice", "second")
	testutil.StageFinding(t, store, "bob", "third")

	syncStore(t, db, store)

	rows, total, err := db.ListItems(index.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(rows) != 3 {
		t.Fatalf("total = %d, rows = %d", total, len(rows))
	}

	rows, total, err = db.ListItems(index.ListFilter{Examiner: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("alice total = %d", total)
	}
	for _, r := range rows {
		if r.Examiner != "alice" {
			t.Fatalf("row = %+v", r)
		}
	}

	row, err := db.GetItem("F-bob-001")
	if err != nil {
		t.Fatal(err)
	}
	if row == nil || row.Title != "third" || row.Kind != string(models.KindFinding) {
		t.Fatalf("row = %+v", row)
	}

	missing, err := db.GetItem("F-bob-099")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("row = %+v, want nil for an unknown id", missing)
	}
}

func TestSyncIsIncremental(t *testing.T) {
	db := testDB(t)
	store := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, store, "alice", "only")

	syncStore(t, db, store)
	before, err := db.DocChecksums()
	if err != nil {
		t.Fatal(err)
	}

	// Nothing changed: checksums match, rows stay put.
	syncStore(t, db, store)
	after, err := db.DocChecksums()
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Fatalf("checksums changed: %v vs %v", before, after)
	}
	for p, cs := range before {
		if after[p] != cs {
			t.Fatalf("checksum for %s changed without an edit", p)
		}
	}
}

func TestSyncTracksStatusChanges(t *testing.T) {
	db := testDB(t)
	store := testutil.TestCase(t, "case-001")
	staged := testutil.StageFinding(t, store, "alice", "to approve")
	syncStore(t, db, store)

	doc, err := store.Findings("alice")
	if err != nil {
		t.Fatal(err)
	}
	doc.Items[0].Status = models.StatusApproved
	if err := store.SaveFindings(doc); err != nil {
		t.Fatal(err)
	}
	syncStore(t, db, store)

	row, err := db.GetItem(staged.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != string(models.StatusApproved) {
		t.Fatalf("status = %q", row.Status)
	}

	counts, err := db.CountByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[string(models.StatusApproved)] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestSyncRemovesStaleDocs(t *testing.T) {
	db := testDB(t)
	store := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, store, "alice", "doomed")
	syncStore(t, db, store)

	if err := os.RemoveAll(filepath.Join(store.Root(), "examiners", "alice")); err != nil {
		t.Fatal(err)
	}
	syncStore(t, db, store)

	_, total, err := db.ListItems(index.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0 after namespace removal", total)
	}
}

func TestListPagination(t *testing.T) {
	db := testDB(t)
	store := testutil.TestCase(t, "case-001")
	for i := 0; i < 5; i++ {
		testutil.StageFinding(t, store, "alice", "finding")
	}
	syncStore(t, db, store)

	rows, total, err := db.ListItems(index.ListFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(rows) != 2 {
		t.Fatalf("total = %d, rows = %d", total, len(rows))
	}
}

// The index is derived state: dropping the file and re-syncing rebuilds it.
func TestIndexIsRebuildable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	store := testutil.TestCase(t, "case-001")
	testutil.StageFinding(t, store, "alice", "survives rebuild")

	db, err := index.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	syncStore(t, db, store)
	db.Close()
	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		os.Remove(f)
	}

	db, err = index.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	syncStore(t, db, store)

	_, total, err := db.ListItems(index.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("total = %d after rebuild", total)
	}
}
