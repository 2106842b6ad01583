// Package staging writes DRAFT items into an examiner's namespace.
//
// This is the only write path for AI-produced conclusions: everything staged
// here starts as DRAFT with a content hash over its substantive fields, and
// nothing leaves DRAFT without the approval engine. The MCP server and the
// CLI staging commands both go through this service.
package staging

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/checksum"
	"github.com/halvard/caseward/internal/models"
)

// Service stages items into one examiner namespace. CreatedBy records the
// staging actor (an agent name, or the examiner for manual staging) and is
// kept distinct from the namespace owner.
type Service struct {
	Store     *casestore.Store
	Examiner  string
	CreatedBy string
}

// FindingInput is the staging payload for a finding.
type FindingInput struct {
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

// Validate implements the input contract.
func (in FindingInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Observation, validation.Required),
		validation.Field(&in.Interpretation, validation.Required),
		validation.Field(&in.Confidence, validation.In(
			models.ConfidenceLow, models.ConfidenceMedium, models.ConfidenceHigh)),
		validation.Field(&in.ProvenanceTier, validation.In(
			models.ProvenanceSystemWitnessed, models.ProvenanceFrameworkWitnessed,
			models.ProvenanceSelfReported, models.ProvenanceNone)),
	)
}

// TimelineInput is the staging payload for a timeline event.
type TimelineInput struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description"`
	Source      string    `json:"source,omitempty"`
	EvidenceIDs []string  `json:"evidence_ids,omitempty"`
}

// Validate implements the input contract.
func (in TimelineInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Description, validation.Required),
		validation.Field(&in.Timestamp, validation.Required),
	)
}

// TodoInput is the payload for a new TODO.
type TodoInput struct {
	Description     string   `json:"description"`
	Priority        string   `json:"priority,omitempty"`
	Assignee        string   `json:"assignee,omitempty"`
	RelatedFindings []string `json:"related_findings,omitempty"`
}

// Validate implements the input contract.
func (in TodoInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Description, validation.Required),
		validation.Field(&in.Priority, validation.In("low", "medium", "high")),
	)
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
}

// StageFinding validates and writes one DRAFT finding, allocating the next
// id in the namespace and hashing the substantive fields at staging time.
func (s *Service) StageFinding(in FindingInput) (*models.Finding, error) {
	if err := wrapValidation(in.Validate()); err != nil {
		return nil, err
	}
	id, err := s.Store.NextItemID(models.KindFinding, s.Examiner)
	if err != nil {
		return nil, err
	}
	doc, err := s.Store.Findings(s.Examiner)
	if err != nil {
		return nil, err
	}
	f := models.Finding{
		Lifecycle: models.Lifecycle{
			ID:        id,
			Examiner:  s.Examiner,
			Status:    models.StatusDraft,
			CreatedBy: s.CreatedBy,
			CreatedAt: time.Now().UTC(),
		},
		Title:              in.Title,
		Observation:        in.Observation,
		Interpretation:     in.Interpretation,
		Confidence:         in.Confidence,
		IOCs:               in.IOCs,
		MitreRefs:          in.MitreRefs,
		ProvenanceTier:     in.ProvenanceTier,
		SupportingCommands: in.SupportingCommands,
		EvidenceIDs:        in.EvidenceIDs,
	}
	f.ContentHash = checksum.Text(f.SubstantiveText())
	doc.Items = append(doc.Items, f)
	if err := s.Store.SaveFindings(doc); err != nil {
		return nil, err
	}
	return &f, nil
}

// StageTimelineEvent validates and writes one DRAFT timeline event.
func (s *Service) StageTimelineEvent(in TimelineInput) (*models.TimelineEvent, error) {
	if err := wrapValidation(in.Validate()); err != nil {
		return nil, err
	}
	id, err := s.Store.NextItemID(models.KindTimeline, s.Examiner)
	if err != nil {
		return nil, err
	}
	doc, err := s.Store.Timeline(s.Examiner)
	if err != nil {
		return nil, err
	}
	e := models.TimelineEvent{
		Lifecycle: models.Lifecycle{
			ID:        id,
			Examiner:  s.Examiner,
			Status:    models.StatusDraft,
			CreatedBy: s.CreatedBy,
			CreatedAt: time.Now().UTC(),
		},
		Timestamp:   in.Timestamp,
		Type:        in.Type,
		Description: in.Description,
		Source:      in.Source,
		EvidenceIDs: in.EvidenceIDs,
	}
	e.ContentHash = checksum.Text(e.SubstantiveText())
	doc.Items = append(doc.Items, e)
	if err := s.Store.SaveTimeline(doc); err != nil {
		return nil, err
	}
	return &e, nil
}

// AddTodo writes one open TODO.
func (s *Service) AddTodo(in TodoInput) (*models.TodoItem, error) {
	if err := wrapValidation(in.Validate()); err != nil {
		return nil, err
	}
	id, err := s.Store.NextTodoID(s.Examiner)
	if err != nil {
		return nil, err
	}
	doc, err := s.Store.Todos(s.Examiner)
	if err != nil {
		return nil, err
	}
	t := models.TodoItem{
		ID:              id,
		Description:     in.Description,
		Status:          models.TodoOpen,
		Priority:        in.Priority,
		Assignee:        in.Assignee,
		RelatedFindings: in.RelatedFindings,
		CreatedBy:       s.CreatedBy,
		CreatedAt:       time.Now().UTC(),
	}
	doc.Items = append(doc.Items, t)
	if err := s.Store.SaveTodos(doc); err != nil {
		return nil, err
	}
	return &t, nil
}

// CompleteTodo marks a TODO completed. Completing a completed TODO is an
// invalid state transition.
func (s *Service) CompleteTodo(id string) (*models.TodoItem, error) {
	doc, err := s.Store.Todos(s.Examiner)
	if err != nil {
		return nil, err
	}
	for i := range doc.Items {
		if doc.Items[i].ID != id {
			continue
		}
		if doc.Items[i].Status == models.TodoCompleted {
			return nil, fmt.Errorf("%w: %s is already completed", apperr.ErrInvalidState, id)
		}
		now := time.Now().UTC()
		doc.Items[i].Status = models.TodoCompleted
		doc.Items[i].CompletedAt = &now
		if err := s.Store.SaveTodos(doc); err != nil {
			return nil, err
		}
		return &doc.Items[i], nil
	}
	return nil, fmt.Errorf("%w: todo %s", apperr.ErrNotFound, id)
}

// UpdateTodo appends a note and optionally changes priority or assignee.
func (s *Service) UpdateTodo(id, note, priority, assignee string) (*models.TodoItem, error) {
	if priority != "" {
		if err := wrapValidation(validation.Validate(priority, validation.In("low", "medium", "high"))); err != nil {
			return nil, err
		}
	}
	doc, err := s.Store.Todos(s.Examiner)
	if err != nil {
		return nil, err
	}
	for i := range doc.Items {
		if doc.Items[i].ID != id {
			continue
		}
		if note != "" {
			doc.Items[i].Notes = append(doc.Items[i].Notes, note)
		}
		if priority != "" {
			doc.Items[i].Priority = priority
		}
		if assignee != "" {
			doc.Items[i].Assignee = assignee
		}
		if err := s.Store.SaveTodos(doc); err != nil {
			return nil, err
		}
		return &doc.Items[i], nil
	}
	return nil, fmt.Errorf("%w: todo %s", apperr.ErrNotFound, id)
}
