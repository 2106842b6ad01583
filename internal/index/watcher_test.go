package index_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/halvard/caseward/internal/index"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/testutil"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(kind, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, kind+" "+path)
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcherIndexesNewDocuments(t *testing.T) {
	db := testDB(t)
	store := testutil.TestCase(t, "case-001")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := &eventLog{}
	done := make(chan error, 1)
	go func() {
		done <- index.Watch(ctx, db, store, discard(), log.record)
	}()

	// Give the watcher a moment to install its watches.
	time.Sleep(200 * time.Millisecond)

	staged := testutil.StageFinding(t, store, "alice", "watched finding")

	waitFor(t, "item in index", func() bool {
		row, err := db.GetItem(staged.ID)
		return err == nil && row != nil
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func TestWatcherTracksUpdates(t *testing.T) {
	db := testDB(t)
	store := testutil.TestCase(t, "case-001")
	staged := testutil.StageFinding(t, store, "alice", "to be approved")
	syncStore(t, db, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- index.Watch(ctx, db, store, discard(), nil)
	}()
	time.Sleep(200 * time.Millisecond)

	doc, err := store.Findings("alice")
	if err != nil {
		t.Fatal(err)
	}
	doc.Items[0].Status = models.StatusApproved
	if err := store.SaveFindings(doc); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "status change in index", func() bool {
		row, err := db.GetItem(staged.ID)
		return err == nil && row != nil && row.Status == string(models.StatusApproved)
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func TestWatcherPicksUpNewExaminerDirs(t *testing.T) {
	db := testDB(t)
	store := testutil.TestCase(t, "case-001")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- index.Watch(ctx, db, store, discard(), nil)
	}()
	time.Sleep(200 * time.Millisecond)

	// The first item for a brand-new examiner creates the directory too;
	// the debounced reconcile pass settles the index.
	staged := testutil.StageFinding(t, store, "newcomer", "fresh namespace")

	waitFor(t, "new namespace in index", func() bool {
		row, err := db.GetItem(staged.ID)
		return err == nil && row != nil
	})

	cancel()
	<-done
}
