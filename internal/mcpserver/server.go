// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the caseward staging surface to tool-executing agents via stdio.
//
// Agents can stage DRAFT findings and timeline events and record TODOs.
// Nothing here approves, rejects, or signs: the decision surface stays on the
// terminal where a human holds the PIN.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/halvard/caseward/internal/approval"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/staging"
)

// Server wraps the MCP server with the caseward staging tools.
type Server struct {
	mcp   *server.MCPServer
	store *casestore.Store
	stage *staging.Service
}

// New creates a new MCP server with all staging tools registered.
func New(store *casestore.Store, stage *staging.Service) *Server {
	s := &Server{store: store, stage: stage}

	s.mcp = server.NewMCPServer(
		"caseward",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("stage_finding",
		mcp.WithDescription("Stage a forensic finding for human review. The finding starts "+
			"as DRAFT and carries no weight until an examiner approves it. Read the "+
			"staging contract first via get_staging_contract or the caseward://staging-contract resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short finding title (max 200 chars)")),
		mcp.WithString("observation", mcp.Required(), mcp.Description("What was observed, factually")),
		mcp.WithString("interpretation", mcp.Required(), mcp.Description("What the observation means")),
		mcp.WithString("confidence", mcp.Description("low, medium, or high")),
		mcp.WithString("iocs", mcp.Description("Comma-separated indicators of compromise")),
		mcp.WithString("mitre_refs", mcp.Description("Comma-separated MITRE ATT&CK technique ids")),
		mcp.WithString("evidence_ids", mcp.Description("Comma-separated evidence ids supporting the finding")),
	), s.stageFinding)

	s.mcp.AddTool(mcp.NewTool("stage_timeline_event",
		mcp.WithDescription("Stage a timeline event for human review. Starts as DRAFT."),
		mcp.WithString("timestamp", mcp.Required(), mcp.Description("Event time, RFC 3339")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What happened at that time")),
		mcp.WithString("type", mcp.Description("Event type (e.g. execution, persistence, exfil)")),
		mcp.WithString("source", mcp.Description("Artifact the event was derived from")),
		mcp.WithString("evidence_ids", mcp.Description("Comma-separated evidence ids")),
	), s.stageTimelineEvent)

	s.mcp.AddTool(mcp.NewTool("add_todo",
		mcp.WithDescription("Record a follow-up TODO in the examiner's namespace."),
		mcp.WithString("description", mcp.Required(), mcp.Description("What needs doing")),
		mcp.WithString("priority", mcp.Description("low, medium, or high")),
		mcp.WithString("related_findings", mcp.Description("Comma-separated finding ids this relates to")),
	), s.addTodo)

	s.mcp.AddTool(mcp.NewTool("list_pending",
		mcp.WithDescription("List items still awaiting human review, oldest first."),
		mcp.WithString("examiner", mcp.Description("Limit to one examiner namespace")),
		mcp.WithString("kind", mcp.Description("finding or timeline (empty for both)")),
	), s.listPending)

	s.mcp.AddTool(mcp.NewTool("get_staging_contract",
		mcp.WithDescription("Returns the staging contract. Call this before staging items "+
			"to understand the lifecycle and field requirements."),
	), s.getStagingContract)

	// Resource: staging contract.
	s.mcp.AddResource(
		mcp.NewResource("caseward://staging-contract", "Staging Contract",
			mcp.WithResourceDescription("Lifecycle and field rules every staged item must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readStagingContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// splitList turns a comma-separated argument into a slice, dropping blanks.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) stageFinding(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	observation, err := req.RequireString("observation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	interpretation, err := req.RequireString("interpretation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	f, err := s.stage.StageFinding(staging.FindingInput{
		Title:          title,
		Observation:    observation,
		Interpretation: interpretation,
		Confidence:     req.GetString("confidence", ""),
		IOCs:           splitList(req.GetString("iocs", "")),
		MitreRefs:      splitList(req.GetString("mitre_refs", "")),
		EvidenceIDs:    splitList(req.GetString("evidence_ids", "")),
		ProvenanceTier: models.ProvenanceSelfReported,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(f, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) stageTimelineEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawTS, err := req.RequireString("timestamp")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ts, err := time.Parse(time.RFC3339, rawTS)
	if err != nil {
		return mcp.NewToolResultError("timestamp must be RFC 3339: " + err.Error()), nil
	}
	description, err := req.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	e, err := s.stage.StageTimelineEvent(staging.TimelineInput{
		Timestamp:   ts,
		Description: description,
		Type:        req.GetString("type", ""),
		Source:      req.GetString("source", ""),
		EvidenceIDs: splitList(req.GetString("evidence_ids", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(e, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) addTodo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	description, err := req.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.stage.AddTodo(staging.TodoInput{
		Description:     description,
		Priority:        req.GetString("priority", ""),
		RelatedFindings: splitList(req.GetString("related_findings", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(t, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listPending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eng := &approval.Engine{Store: s.store}
	seq, err := eng.ListPending(approval.PendingFilter{
		Examiner: req.GetString("examiner", ""),
		Kind:     models.Kind(req.GetString("kind", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type header struct {
		ID        string    `json:"id"`
		Kind      string    `json:"kind"`
		Examiner  string    `json:"examiner"`
		Summary   string    `json:"summary"`
		CreatedBy string    `json:"created_by,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	var headers []header
	for item := range seq {
		m := item.Meta()
		headers = append(headers, header{
			ID:        m.ID,
			Kind:      string(item.Kind()),
			Examiner:  m.Examiner,
			Summary:   item.Summary(),
			CreatedBy: m.CreatedBy,
			CreatedAt: m.CreatedAt,
		})
	}
	if len(headers) == 0 {
		return mcp.NewToolResultText("no pending items"), nil
	}
	out, _ := json.MarshalIndent(headers, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getStagingContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(StagingContract), nil
}

func (s *Server) readStagingContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "caseward://staging-contract",
			MIMEType: "text/markdown",
			Text:     StagingContract,
		},
	}, nil
}
