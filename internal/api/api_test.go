package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/halvard/caseward/internal/api"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/index"
	"github.com/halvard/caseward/internal/ledger"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/testutil"
)

type fixture struct {
	store  *casestore.Store
	db     *index.DB
	ldg    *ledger.Ledger
	server *httptest.Server
}

func setup(t *testing.T, authEnabled bool, token string) *fixture {
	t.Helper()
	store := testutil.TestCase(t, "case-001")
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	ldg := testutil.TestLedger(t)

	r := api.NewRouter(store, db, ldg, "case-001", authEnabled, token, nil)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{store: store, db: db, ldg: ldg, server: srv}
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	if err := index.Sync(f.db, f.store, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestGetCase(t *testing.T) {
	f := setup(t, false, "")
	testutil.StageFinding(t, f.store, "alice", "one")
	f.sync(t)

	var body api.CaseResponse
	if code := f.get(t, "/case", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Meta.CaseID != "case-001" {
		t.Fatalf("case id = %q", body.Meta.CaseID)
	}
	if body.Meta.Name != "test case" {
		t.Fatalf("case name = %q", body.Meta.Name)
	}
	if body.Counts[string(models.StatusDraft)] != 1 {
		t.Fatalf("counts = %v", body.Counts)
	}
	if len(body.Examiners) != 1 || body.Examiners[0] != "alice" {
		t.Fatalf("examiners = %v", body.Examiners)
	}
}

func TestListItemsFiltering(t *testing.T) {
	f := setup(t, false, "")
	testutil.StageFinding(t, f.store, "alice", "one")
	testutil.StageFinding(t, f.store, "bob", "two")
	f.sync(t)

	var body api.ItemListResponse
	if code := f.get(t, "/items", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Total != 2 {
		t.Fatalf("total = %d", body.Total)
	}

	if code := f.get(t, "/items?examiner=bob", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Total != 1 || body.Items[0].Examiner != "bob" {
		t.Fatalf("body = %+v", body)
	}

	if code := f.get(t, "/items?status=APPROVED", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Total != 0 {
		t.Fatalf("total = %d, nothing is approved yet", body.Total)
	}
}

func TestGetItemReadsAuthoritativeStore(t *testing.T) {
	f := setup(t, false, "")
	staged := testutil.StageFinding(t, f.store, "alice", "full detail")
	f.sync(t)

	var item models.Finding
	if code := f.get(t, "/items/"+staged.ID, &item); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if item.ID != staged.ID || item.Observation == "" {
		t.Fatalf("item = %+v, want the full document", item)
	}

	if code := f.get(t, "/items/F-alice-099", nil); code != http.StatusNotFound {
		t.Fatalf("unknown id: status = %d", code)
	}
	if code := f.get(t, "/items/garbage", nil); code != http.StatusBadRequest {
		t.Fatalf("malformed id: status = %d", code)
	}
}

func TestListApprovals(t *testing.T) {
	f := setup(t, false, "")
	if err := f.store.AppendApproval(models.ApprovalRecord{
		ItemID:   "F-alice-001",
		Decision: models.StatusApproved,
		Examiner: "alice",
		OSUser:   "tester",
		Mode:     "pin",
	}); err != nil {
		t.Fatal(err)
	}

	var body api.ApprovalListResponse
	if code := f.get(t, "/approvals", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Approvals) != 1 || body.Approvals[0].ItemID != "F-alice-001" {
		t.Fatalf("body = %+v", body)
	}
}

func TestReconcileEndpointIsCheap(t *testing.T) {
	f := setup(t, false, "")
	testutil.StageFinding(t, f.store, "alice", "draft only")

	var report struct {
		CaseID string `json:"case_id"`
		Deep   bool   `json:"deep"`
	}
	if code := f.get(t, "/reconcile", &report); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if report.Deep {
		t.Fatal("dashboard reconciliation must never run the deep pass")
	}
	if report.CaseID != "case-001" {
		t.Fatalf("case id = %q", report.CaseID)
	}
}

func TestBearerAuth(t *testing.T) {
	f := setup(t, true, "sekrit")

	if code := f.get(t, "/case", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", code)
	}

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/case", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with token: status = %d", resp.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", resp.StatusCode)
	}
}

func TestListTodosAndEvidence(t *testing.T) {
	f := setup(t, false, "")
	todos, err := f.store.Todos("alice")
	if err != nil {
		t.Fatal(err)
	}
	todos.Items = append(todos.Items, models.TodoItem{
		ID: "TODO-alice-001", Description: "check logs", Status: models.TodoOpen,
	})
	if err := f.store.SaveTodos(todos); err != nil {
		t.Fatal(err)
	}

	var body api.TodoListResponse
	if code := f.get(t, "/todos", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Total != 1 || body.Todos[0].ID != "TODO-alice-001" {
		t.Fatalf("body = %+v", body)
	}

	var ev api.EvidenceListResponse
	if code := f.get(t, "/evidence", &ev); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if ev.Total != 0 {
		t.Fatalf("evidence total = %d", ev.Total)
	}
}
