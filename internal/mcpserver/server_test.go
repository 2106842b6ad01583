package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/staging"
	"github.com/halvard/caseward/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	store := testutil.TestCase(t, "case-001")
	stage := &staging.Service{Store: store, Examiner: "alice", CreatedBy: "agent-x"}
	return New(store, stage)
}

// callTool exercises the tool handlers directly; mcp-go has no in-process
// call helper.
func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error
	switch name {
	case "stage_finding":
		result, err = srv.stageFinding(ctx, req)
	case "stage_timeline_event":
		result, err = srv.stageTimelineEvent(ctx, req)
	case "add_todo":
		result, err = srv.addTodo(ctx, req)
	case "list_pending":
		result, err = srv.listPending(ctx, req)
	case "get_staging_contract":
		result, err = srv.getStagingContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestStageFindingTool(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "stage_finding", map[string]interface{}{
		"title":          "beacon to known C2",
		"observation":    "hourly TLS sessions to 198.51.100.7",
		"interpretation": "matches the campaign's beacon cadence",
		"confidence":     "medium",
		"iocs":           "198.51.100.7, evil.example",
		"mitre_refs":     "T1071.001",
	})
	if r.IsError {
		t.Fatalf("stage_finding error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, `"id": "F-alice-001"`) {
		t.Fatalf("result = %s", text)
	}
	if !strings.Contains(text, `"status": "DRAFT"`) {
		t.Fatalf("staged item not a draft: %s", text)
	}

	doc, err := srv.stage.Store.Findings("alice")
	if err != nil {
		t.Fatal(err)
	}
	f := doc.Items[0]
	if f.CreatedBy != "agent-x" {
		t.Fatalf("created_by = %q", f.CreatedBy)
	}
	// Agent-staged content is always the self-reported tier.
	if f.ProvenanceTier != models.ProvenanceSelfReported {
		t.Fatalf("provenance = %q", f.ProvenanceTier)
	}
	if len(f.IOCs) != 2 {
		t.Fatalf("iocs = %v", f.IOCs)
	}
}

func TestStageFindingMissingFields(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "stage_finding", map[string]interface{}{
		"title": "no substance",
	})
	if !r.IsError {
		t.Fatal("expected error without observation and interpretation")
	}
}

func TestStageTimelineEventTool(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "stage_timeline_event", map[string]interface{}{
		"timestamp":   "2026-08-12T14:03:00Z",
		"description": "first suspicious login",
		"type":        "authentication",
	})
	if r.IsError {
		t.Fatalf("error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"id": "T-alice-001"`) {
		t.Fatalf("result = %s", resultText(r))
	}

	r = callTool(t, srv, "stage_timeline_event", map[string]interface{}{
		"timestamp":   "yesterday around noon",
		"description": "vague",
	})
	if !r.IsError {
		t.Fatal("expected error for a non RFC 3339 timestamp")
	}
}

func TestAddTodoTool(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "add_todo", map[string]interface{}{
		"description":      "pull the proxy logs",
		"priority":         "high",
		"related_findings": "F-alice-001",
	})
	if r.IsError {
		t.Fatalf("error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"todo_id": "TODO-alice-001"`) {
		t.Fatalf("result = %s", resultText(r))
	}
}

func TestListPendingTool(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "list_pending", map[string]interface{}{})
	if resultText(r) != "no pending items" {
		t.Fatalf("empty case: %s", resultText(r))
	}

	callTool(t, srv, "stage_finding", map[string]interface{}{
		"title":          "pending one",
		"observation":    "obs",
		"interpretation": "interp",
	})

	r = callTool(t, srv, "list_pending", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "F-alice-001") || !strings.Contains(text, "pending one") {
		t.Fatalf("pending = %s", text)
	}

	r = callTool(t, srv, "list_pending", map[string]interface{}{"examiner": "bob"})
	if resultText(r) != "no pending items" {
		t.Fatalf("filtered list = %s", resultText(r))
	}
}

func TestStagingContract(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_staging_contract", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "DRAFT") || !strings.Contains(text, "approve") {
		t.Fatalf("contract = %.120s...", text)
	}
}
