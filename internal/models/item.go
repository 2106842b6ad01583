// Package models defines the domain types for caseward.
package models

import "time"

// Status is the lifecycle state of a staged conclusion.
// Transitions are monotonic and terminal: DRAFT -> APPROVED or DRAFT -> REJECTED.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Kind distinguishes the two reviewable item types.
type Kind string

const (
	KindFinding  Kind = "finding"
	KindTimeline Kind = "timeline"
)

// Confidence levels for findings.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Provenance tiers: how a supporting action was recorded.
const (
	ProvenanceSystemWitnessed    = "system-witnessed"
	ProvenanceFrameworkWitnessed = "framework-witnessed"
	ProvenanceSelfReported       = "self-reported"
	ProvenanceNone               = "none"
)

// ExaminerNote is a free-form note attached during review.
type ExaminerNote struct {
	Note string    `json:"note"`
	By   string    `json:"by"`
	At   time.Time `json:"at"`
}

// Modification records a field change made by an examiner during review.
// The original value is preserved so the audit trail survives the edit.
type Modification struct {
	Original   any       `json:"original"`
	Modified   any       `json:"modified"`
	ModifiedBy string    `json:"modified_by"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Lifecycle carries the fields shared by every reviewable item. Findings and
// timeline events embed it; the approval engine mutates items through Meta().
type Lifecycle struct {
	ID       string `json:"id"`
	Examiner string `json:"examiner"`
	Status   Status `json:"status"`

	// ContentHash is computed once at staging time over the substantive
	// fields and only changes through a recorded examiner modification.
	ContentHash string `json:"content_hash,omitempty"`

	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`

	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	ExaminerNotes         []ExaminerNote          `json:"examiner_notes,omitempty"`
	ExaminerModifications map[string]Modification `json:"examiner_modifications,omitempty"`
}

// Meta returns the shared lifecycle fields for mutation.
func (l *Lifecycle) Meta() *Lifecycle { return l }

// Item is the interface the approval and reconciliation engines operate on.
type Item interface {
	Meta() *Lifecycle
	Kind() Kind
	// SubstantiveText is the content the hash and the HMAC signature cover.
	SubstantiveText() string
	// Summary is a one-line human-readable description for listings.
	Summary() string
}

// Finding is an AI-produced forensic conclusion staged for human review.
type Finding struct {
	Lifecycle

	Title              string   `json:"title"`
	Observation        string   `json:"observation"`
	Interpretation     string   `json:"interpretation"`
	Confidence         string   `json:"confidence,omitempty"`
	IOCs               []string `json:"iocs,omitempty"`
	MitreRefs          []string `json:"mitre_refs,omitempty"`
	ProvenanceTier     string   `json:"provenance_tier,omitempty"`
	SupportingCommands []string `json:"supporting_commands,omitempty"`
	EvidenceIDs        []string `json:"evidence_ids,omitempty"`
}

// Kind implements Item.
func (f *Finding) Kind() Kind { return KindFinding }

// SubstantiveText is the forensic claim: observation plus interpretation.
func (f *Finding) SubstantiveText() string {
	return f.Observation + "\n" + f.Interpretation
}

// Summary implements Item.
func (f *Finding) Summary() string { return f.Title }

// TimelineEvent is a staged timeline entry with the same lifecycle as a finding.
type TimelineEvent struct {
	Lifecycle

	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description"`
	Source      string    `json:"source,omitempty"`
	EvidenceIDs []string  `json:"evidence_ids,omitempty"`
}

// Kind implements Item.
func (e *TimelineEvent) Kind() Kind { return KindTimeline }

// SubstantiveText is the factual event record.
func (e *TimelineEvent) SubstantiveText() string { return e.Description }

// Summary implements Item.
func (e *TimelineEvent) Summary() string { return e.Description }

// TodoItem has an independent open -> completed lifecycle and is not subject
// to approval.
type TodoItem struct {
	ID              string     `json:"todo_id"`
	Description     string     `json:"description"`
	Status          string     `json:"status"` // "open" or "completed"
	Priority        string     `json:"priority,omitempty"`
	Assignee        string     `json:"assignee,omitempty"`
	RelatedFindings []string   `json:"related_findings,omitempty"`
	CreatedBy       string     `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Notes           []string   `json:"notes,omitempty"`
}

const (
	TodoOpen      = "open"
	TodoCompleted = "completed"
)
