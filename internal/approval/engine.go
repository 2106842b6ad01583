// Package approval implements the human decision gate.
//
// Staged items stay DRAFT until a human approves or rejects them through this
// engine. Every decision requires confirmation on the controlling terminal,
// with the examiner's PIN when one is configured, and leaves an append-only
// record. Transitions are terminal: an item decided once cannot be decided
// again.
package approval

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/checksum"
	"github.com/halvard/caseward/internal/identity"
	"github.com/halvard/caseward/internal/ledger"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/pinauth"
)

// Engine wires the case store, the verification ledger, PIN auth, and the
// terminal confirmation channel into the approval operations.
type Engine struct {
	Store   *casestore.Store
	Ledger  *ledger.Ledger
	Auth    *pinauth.Auth
	Confirm Confirmer
	ID      identity.Identity
	CaseID  string

	// EditorCmd overrides $EDITOR for interactive edits. Tests set it to a
	// script; empty means $EDITOR, falling back to vi.
	EditorCmd string

	// Out receives human-readable output during review. Defaults to stdout.
	Out io.Writer
}

func (e *Engine) out() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

// PendingFilter narrows a pending listing.
type PendingFilter struct {
	Examiner string      // only this namespace when set
	Kind     models.Kind // only this kind when set
}

// ListPending returns the DRAFT items matching the filter, oldest first.
// The sequence is a snapshot of the store at call time and can be ranged
// over more than once.
func (e *Engine) ListPending(filter PendingFilter) (iter.Seq[models.Item], error) {
	items, err := e.collectPending(filter)
	if err != nil {
		return nil, err
	}
	return func(yield func(models.Item) bool) {
		for _, it := range items {
			if !yield(it) {
				return
			}
		}
	}, nil
}

func (e *Engine) collectPending(filter PendingFilter) ([]models.Item, error) {
	examiners, err := e.Store.Examiners()
	if err != nil {
		return nil, err
	}
	var items []models.Item
	for _, ex := range examiners {
		if filter.Examiner != "" && ex != filter.Examiner {
			continue
		}
		if filter.Kind == "" || filter.Kind == models.KindFinding {
			doc, err := e.Store.Findings(ex)
			if err != nil {
				return nil, err
			}
			for i := range doc.Items {
				if doc.Items[i].Status == models.StatusDraft {
					items = append(items, &doc.Items[i])
				}
			}
		}
		if filter.Kind == "" || filter.Kind == models.KindTimeline {
			doc, err := e.Store.Timeline(ex)
			if err != nil {
				return nil, err
			}
			for i := range doc.Items {
				if doc.Items[i].Status == models.StatusDraft {
					items = append(items, &doc.Items[i])
				}
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Meta(), items[j].Meta()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return items, nil
}

// grant is the result of a successful confirmation: the mode recorded in the
// approval log, plus the signing key when the examiner has a PIN.
type grant struct {
	mode       string
	key        []byte
	keyVersion int
}

// authorize performs the human gate once. With a PIN configured the PIN is
// read masked from the terminal and verified (lockout rules apply); without
// one, an explicit yes/no confirmation is required instead.
func (e *Engine) authorize(action string) (grant, error) {
	has, err := e.Auth.HasPIN(e.ID.Examiner)
	if err != nil {
		return grant{}, err
	}
	if has {
		pin, err := e.Confirm.ReadSecret(fmt.Sprintf("PIN for %s to %s: ", e.ID.Examiner, action))
		if err != nil {
			return grant{}, err
		}
		key, version, err := e.Auth.Verify(e.ID.Examiner, pin)
		if err != nil {
			return grant{}, err
		}
		return grant{mode: "pin", key: key, keyVersion: version}, nil
	}
	ok, err := e.Confirm.Confirm(fmt.Sprintf("Confirm %s as %s? [y/N]: ", action, e.ID.Examiner))
	if err != nil {
		return grant{}, err
	}
	if !ok {
		return grant{}, fmt.Errorf("%w: not confirmed", apperr.ErrAuth)
	}
	slog.Warn("decision confirmed without PIN; run 'caseward config --set-pin' to enable verification entries",
		slog.String("examiner", e.ID.Examiner))
	return grant{mode: "interactive"}, nil
}

// ApproveOptions adjusts an approval.
type ApproveOptions struct {
	// Note is attached to every approved item as an examiner note.
	Note string
	// Overrides sets substantive fields before approval; each change is
	// recorded as an examiner modification.
	Overrides map[string]string
	// Edit opens each item in the editor before approval.
	Edit bool
}

// Approve transitions the given DRAFT items to APPROVED. All items are
// checked before the single confirmation, so a bad id or a non-DRAFT item
// fails the whole batch without prompting.
func (e *Engine) Approve(ctx context.Context, ids []string, opts ApproveOptions) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no item ids given", apperr.ErrValidation)
	}
	ds := newDocset(e.Store)
	items := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		item, err := ds.find(id)
		if err != nil {
			return err
		}
		if err := requireDraft(item); err != nil {
			return err
		}
		items = append(items, item)
	}

	now := time.Now().UTC()
	for _, item := range items {
		if opts.Edit {
			if err := e.editItem(ctx, item, now); err != nil {
				return err
			}
		}
		for field, value := range opts.Overrides {
			if err := applyFieldChange(item, field, value, e.ID.Examiner, now); err != nil {
				return err
			}
		}
		if opts.Note != "" {
			addNote(item, opts.Note, e.ID.Examiner, now)
		}
	}

	g, err := e.authorize(fmt.Sprintf("approve %d item(s)", len(items)))
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := e.finalizeApprove(item, g, opts.Note, now); err != nil {
			// Items finalized before the failure have records on disk;
			// persist their transitions too.
			if saveErr := ds.save(); saveErr != nil {
				return saveErr
			}
			return err
		}
	}
	return ds.save()
}

// Reject transitions the given DRAFT items to REJECTED. A non-blank reason
// is mandatory; the reason lands on the item and in the approval log.
func (e *Engine) Reject(ctx context.Context, ids []string, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: rejection requires a reason", apperr.ErrValidation)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: no item ids given", apperr.ErrValidation)
	}
	ds := newDocset(e.Store)
	items := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		item, err := ds.find(id)
		if err != nil {
			return err
		}
		if err := requireDraft(item); err != nil {
			return err
		}
		items = append(items, item)
	}

	g, err := e.authorize(fmt.Sprintf("reject %d item(s)", len(items)))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, item := range items {
		if err := e.finalizeReject(item, g, reason, now); err != nil {
			if saveErr := ds.save(); saveErr != nil {
				return saveErr
			}
			return err
		}
	}
	return ds.save()
}

// finalizeApprove writes the approval record and, when a signing key is
// present, the ledger entry, then applies the terminal transition. Records
// land before the in-memory mutation so an interrupted run errs on the side
// of extra audit lines, never on a silent approval.
func (e *Engine) finalizeApprove(item models.Item, g grant, note string, now time.Time) error {
	m := item.Meta()
	hash := checksum.Text(item.SubstantiveText())

	if err := e.Store.AppendApproval(models.ApprovalRecord{
		Timestamp:      now,
		ItemID:         m.ID,
		Decision:       models.StatusApproved,
		Examiner:       e.ID.Examiner,
		ExaminerSource: e.ID.Source,
		OSUser:         e.ID.OSUser,
		Mode:           g.mode,
		Note:           note,
		ContentHash:    hash,
	}); err != nil {
		return err
	}
	if g.key != nil {
		if err := e.Ledger.Append(models.LedgerEntry{
			CaseID:        e.CaseID,
			ItemID:        m.ID,
			Examiner:      e.ID.Examiner,
			ContentHash:   hash,
			HMACSignature: ledger.Sign(g.key, hash),
			SignedAt:      now,
			KeyVersion:    g.keyVersion,
		}); err != nil {
			return err
		}
	}
	m.ContentHash = hash
	m.Status = models.StatusApproved
	m.ApprovedAt = &now
	m.ApprovedBy = e.ID.Examiner
	slog.Info("item approved",
		slog.String("item", m.ID),
		slog.String("examiner", e.ID.Examiner),
		slog.String("mode", g.mode))
	return nil
}

func (e *Engine) finalizeReject(item models.Item, g grant, reason string, now time.Time) error {
	m := item.Meta()
	if err := e.Store.AppendApproval(models.ApprovalRecord{
		Timestamp:      now,
		ItemID:         m.ID,
		Decision:       models.StatusRejected,
		Examiner:       e.ID.Examiner,
		ExaminerSource: e.ID.Source,
		OSUser:         e.ID.OSUser,
		Mode:           g.mode,
		Reason:         reason,
		ContentHash:    m.ContentHash,
	}); err != nil {
		return err
	}
	m.Status = models.StatusRejected
	m.RejectedAt = &now
	m.RejectedBy = e.ID.Examiner
	m.RejectionReason = reason
	slog.Info("item rejected",
		slog.String("item", m.ID),
		slog.String("examiner", e.ID.Examiner),
		slog.String("reason", reason))
	return nil
}

func requireDraft(item models.Item) error {
	m := item.Meta()
	if m.Status != models.StatusDraft {
		return fmt.Errorf("%w: %s is already %s", apperr.ErrInvalidState, m.ID, m.Status)
	}
	return nil
}

func addNote(item models.Item, note, by string, now time.Time) {
	m := item.Meta()
	m.ExaminerNotes = append(m.ExaminerNotes, models.ExaminerNote{Note: note, By: by, At: now})
	m.ModifiedAt = now
}

// docset caches loaded documents so a batch touching several namespaces
// loads and saves each document once. Documents are saved only if an item in
// them was located for mutation.
type docset struct {
	store    *casestore.Store
	findings map[string]*casestore.Doc[models.Finding]
	timeline map[string]*casestore.Doc[models.TimelineEvent]
	dirtyF   map[string]bool
	dirtyT   map[string]bool
}

func newDocset(s *casestore.Store) *docset {
	return &docset{
		store:    s,
		findings: make(map[string]*casestore.Doc[models.Finding]),
		timeline: make(map[string]*casestore.Doc[models.TimelineEvent]),
		dirtyF:   make(map[string]bool),
		dirtyT:   make(map[string]bool),
	}
}

// find locates an item by id and marks its document for save.
func (d *docset) find(id string) (models.Item, error) {
	kind, examiner, err := casestore.ParseItemID(id)
	if err != nil {
		return nil, err
	}
	switch kind {
	case models.KindFinding:
		doc, ok := d.findings[examiner]
		if !ok {
			doc, err = d.store.Findings(examiner)
			if err != nil {
				return nil, err
			}
			d.findings[examiner] = doc
		}
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				d.dirtyF[examiner] = true
				return &doc.Items[i], nil
			}
		}
	case models.KindTimeline:
		doc, ok := d.timeline[examiner]
		if !ok {
			doc, err = d.store.Timeline(examiner)
			if err != nil {
				return nil, err
			}
			d.timeline[examiner] = doc
		}
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				d.dirtyT[examiner] = true
				return &doc.Items[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: item %s not found", apperr.ErrNotFound, id)
}

func (d *docset) save() error {
	for ex := range d.dirtyF {
		if err := d.store.SaveFindings(d.findings[ex]); err != nil {
			return err
		}
	}
	for ex := range d.dirtyT {
		if err := d.store.SaveTimeline(d.timeline[ex]); err != nil {
			return err
		}
	}
	return nil
}
