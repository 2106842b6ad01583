package approval

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/models"
)

// editableFields returns the substantive fields an examiner may change on an
// item, in display order, with their current values.
func editableFields(item models.Item) ([]string, map[string]string) {
	switch it := item.(type) {
	case *models.Finding:
		return []string{"title", "observation", "interpretation", "confidence"}, map[string]string{
			"title":          it.Title,
			"observation":    it.Observation,
			"interpretation": it.Interpretation,
			"confidence":     it.Confidence,
		}
	case *models.TimelineEvent:
		return []string{"description", "type", "source"}, map[string]string{
			"description": it.Description,
			"type":        it.Type,
			"source":      it.Source,
		}
	}
	return nil, nil
}

func setField(item models.Item, field, value string) error {
	switch it := item.(type) {
	case *models.Finding:
		switch field {
		case "title":
			it.Title = value
		case "observation":
			it.Observation = value
		case "interpretation":
			it.Interpretation = value
		case "confidence":
			switch value {
			case models.ConfidenceLow, models.ConfidenceMedium, models.ConfidenceHigh:
				it.Confidence = value
			default:
				return fmt.Errorf("%w: confidence must be low, medium, or high", apperr.ErrValidation)
			}
		default:
			return fmt.Errorf("%w: finding has no editable field %q", apperr.ErrValidation, field)
		}
	case *models.TimelineEvent:
		switch field {
		case "description":
			it.Description = value
		case "type":
			it.Type = value
		case "source":
			it.Source = value
		default:
			return fmt.Errorf("%w: timeline event has no editable field %q", apperr.ErrValidation, field)
		}
	default:
		return fmt.Errorf("%w: item kind %q is not editable", apperr.ErrValidation, item.Kind())
	}
	return nil
}

// applyFieldChange sets a field and records the change under
// examiner_modifications, preserving the original value. The first change to
// a field keeps the pre-review original even across repeated edits.
func applyFieldChange(item models.Item, field, value, by string, now time.Time) error {
	_, current := editableFields(item)
	old, ok := current[field]
	if !ok {
		return fmt.Errorf("%w: %s has no editable field %q", apperr.ErrValidation, item.Kind(), field)
	}
	if old == value {
		return nil
	}
	if err := setField(item, field, value); err != nil {
		return err
	}
	m := item.Meta()
	if m.ExaminerModifications == nil {
		m.ExaminerModifications = make(map[string]models.Modification)
	}
	original := any(old)
	if prev, ok := m.ExaminerModifications[field]; ok {
		original = prev.Original
	}
	m.ExaminerModifications[field] = models.Modification{
		Original:   original,
		Modified:   value,
		ModifiedBy: by,
		ModifiedAt: now,
	}
	m.ModifiedAt = now
	return nil
}

// editItem round-trips the item's editable fields through the examiner's
// editor as a YAML document and records every changed field.
func (e *Engine) editItem(ctx context.Context, item models.Item, now time.Time) error {
	order, current := editableFields(item)
	if len(order) == 0 {
		return fmt.Errorf("%w: item kind %q is not editable", apperr.ErrValidation, item.Kind())
	}

	doc := yaml.Node{Kind: yaml.MappingNode}
	for _, field := range order {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: field},
			&yaml.Node{Kind: yaml.ScalarNode, Value: current[field]})
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("approval: marshal edit buffer: %w", err)
	}
	header := fmt.Sprintf("# Editing %s. Save and exit to apply; only these fields are read.\n", item.Meta().ID)

	tmp, err := os.CreateTemp("", "caseward-edit-*.yaml")
	if err != nil {
		return fmt.Errorf("approval: edit temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.WriteString(header + string(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("approval: write edit buffer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	editor := e.EditorCmd
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", editor+" "+path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("approval: editor: %w", err)
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var updated map[string]string
	if err := yaml.Unmarshal(edited, &updated); err != nil {
		return fmt.Errorf("%w: edited buffer is not valid YAML: %v", apperr.ErrValidation, err)
	}
	for _, field := range order {
		value, ok := updated[field]
		if !ok {
			continue
		}
		if err := applyFieldChange(item, field, value, e.ID.Examiner, now); err != nil {
			return err
		}
	}
	return nil
}
