package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/halvard/caseward/internal/models"
)

// Outcome summarizes an interactive review session.
type Outcome struct {
	Approved []string
	Rejected []string
	Deferred []string
	Skipped  []string
}

// Review walks the pending queue interactively. The examiner is authorized
// once up front; each item is then approved, edited, annotated, rejected,
// deferred as a TODO, or skipped. Quitting mid-queue commits the decisions
// already made and leaves the rest untouched.
func (e *Engine) Review(ctx context.Context, filter PendingFilter) (*Outcome, error) {
	ds := newDocset(e.Store)
	pending, err := e.collectPending(filter)
	if err != nil {
		return nil, err
	}
	out := &Outcome{}
	if len(pending) == 0 {
		fmt.Fprintln(e.out(), "No pending items.")
		return out, nil
	}

	g, err := e.authorize(fmt.Sprintf("review %d pending item(s)", len(pending)))
	if err != nil {
		return nil, err
	}

	// abort persists decisions already finalized in this session before
	// surfacing the error: their approval and ledger records are on disk,
	// so dropping the document mutations would leave the trail pointing at
	// items still DRAFT.
	abort := func(err error) (*Outcome, error) {
		if saveErr := ds.save(); saveErr != nil {
			return out, saveErr
		}
		return out, err
	}

	now := time.Now().UTC()
	for i, snapshot := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		// Re-locate through the docset so the mutation lands in the
		// document that will be saved.
		item, err := ds.find(snapshot.Meta().ID)
		if err != nil {
			return abort(err)
		}
		fmt.Fprintf(e.out(), "\n[%d/%d] ", i+1, len(pending))
		e.printItem(item)

		done := false
		for !done {
			choice, err := e.Confirm.ReadLine("[a]pprove [e]dit [n]ote [r]eject [t]odo [s]kip [q]uit: ")
			if err != nil {
				return abort(err)
			}
			switch strings.ToLower(choice) {
			case "a":
				if err := e.finalizeApprove(item, g, "", now); err != nil {
					return abort(err)
				}
				out.Approved = append(out.Approved, item.Meta().ID)
				done = true
			case "e":
				if err := e.editItem(ctx, item, now); err != nil {
					fmt.Fprintf(e.out(), "edit failed: %v\n", err)
					continue
				}
				e.printItem(item)
			case "n":
				note, err := e.Confirm.ReadLine("Note: ")
				if err != nil {
					return abort(err)
				}
				if note != "" {
					addNote(item, note, e.ID.Examiner, now)
				}
			case "r":
				reason := ""
				for reason == "" {
					reason, err = e.Confirm.ReadLine("Rejection reason (required): ")
					if err != nil {
						return abort(err)
					}
					reason = strings.TrimSpace(reason)
				}
				if err := e.finalizeReject(item, g, reason, now); err != nil {
					return abort(err)
				}
				out.Rejected = append(out.Rejected, item.Meta().ID)
				done = true
			case "t":
				if err := e.deferAsTodo(item, now); err != nil {
					return abort(err)
				}
				out.Deferred = append(out.Deferred, item.Meta().ID)
				done = true
			case "s":
				out.Skipped = append(out.Skipped, item.Meta().ID)
				done = true
			case "q":
				if err := ds.save(); err != nil {
					return out, err
				}
				e.printSummary(out)
				return out, nil
			default:
				// Re-prompt.
			}
		}
	}
	if err := ds.save(); err != nil {
		return out, err
	}
	e.printSummary(out)
	return out, nil
}

// deferAsTodo records a follow-up TODO for an item without deciding it. The
// item stays DRAFT.
func (e *Engine) deferAsTodo(item models.Item, now time.Time) error {
	m := item.Meta()
	id, err := e.Store.NextTodoID(e.ID.Examiner)
	if err != nil {
		return err
	}
	doc, err := e.Store.Todos(e.ID.Examiner)
	if err != nil {
		return err
	}
	doc.Items = append(doc.Items, models.TodoItem{
		ID:              id,
		Description:     fmt.Sprintf("Follow up on %s: %s", m.ID, item.Summary()),
		Status:          models.TodoOpen,
		RelatedFindings: []string{m.ID},
		CreatedBy:       e.ID.Examiner,
		CreatedAt:       now,
	})
	return e.Store.SaveTodos(doc)
}

func (e *Engine) printItem(item models.Item) {
	m := item.Meta()
	w := e.out()
	fmt.Fprintf(w, "%s (%s, staged by %s at %s)\n", m.ID, item.Kind(), m.CreatedBy, m.CreatedAt.Format(time.RFC3339))
	switch it := item.(type) {
	case *models.Finding:
		fmt.Fprintf(w, "  Title:          %s\n", it.Title)
		fmt.Fprintf(w, "  Observation:    %s\n", it.Observation)
		fmt.Fprintf(w, "  Interpretation: %s\n", it.Interpretation)
		if it.Confidence != "" {
			fmt.Fprintf(w, "  Confidence:     %s\n", it.Confidence)
		}
		if len(it.IOCs) > 0 {
			fmt.Fprintf(w, "  IOCs:           %s\n", strings.Join(it.IOCs, ", "))
		}
		if len(it.EvidenceIDs) > 0 {
			fmt.Fprintf(w, "  Evidence:       %s\n", strings.Join(it.EvidenceIDs, ", "))
		}
	case *models.TimelineEvent:
		fmt.Fprintf(w, "  Timestamp:   %s\n", it.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(w, "  Description: %s\n", it.Description)
		if it.Source != "" {
			fmt.Fprintf(w, "  Source:      %s\n", it.Source)
		}
	}
	for _, n := range m.ExaminerNotes {
		fmt.Fprintf(w, "  Note (%s): %s\n", n.By, n.Note)
	}
}

func (e *Engine) printSummary(out *Outcome) {
	fmt.Fprintf(e.out(), "\nReview complete: %d approved, %d rejected, %d deferred, %d skipped\n",
		len(out.Approved), len(out.Rejected), len(out.Deferred), len(out.Skipped))
}
