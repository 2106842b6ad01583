package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/index"
	"github.com/halvard/caseward/internal/ledger"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/reconcile"
)

// Handler holds API route handlers.
type Handler struct {
	store  *casestore.Store
	idx    index.ItemIndex
	ldg    *ledger.Ledger
	caseID string
}

// NewHandler creates a new Handler.
func NewHandler(store *casestore.Store, idx index.ItemIndex, ldg *ledger.Ledger, caseID string) *Handler {
	return &Handler{store: store, idx: idx, ldg: ldg, caseID: caseID}
}

// GetCase handles GET /api/case.
//
//	@Summary		Case metadata with item counts per status
//	@Tags			case
//	@Produce		json
//	@Success		200	{object}	CaseResponse
//	@Security		BearerAuth
//	@Router			/case [get]
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	meta, err := h.store.Meta()
	if err != nil {
		internalError(w, "get case", err)
		return
	}
	counts, err := h.idx.CountByStatus()
	if err != nil {
		internalError(w, "status counts", err)
		return
	}
	examiners, err := h.store.Examiners()
	if err != nil {
		internalError(w, "list examiners", err)
		return
	}
	writeJSON(w, http.StatusOK, CaseResponse{
		Meta:      meta,
		Counts:    counts,
		Examiners: examiners,
	})
}

// ListItems handles GET /api/items.
//
//	@Summary		List item headers with optional filtering and pagination
//	@Tags			items
//	@Produce		json
//	@Param			examiner	query		string	false	"Filter by examiner"
//	@Param			kind		query		string	false	"Filter by kind"	Enums(finding, timeline)
//	@Param			status		query		string	false	"Filter by status"	Enums(DRAFT, APPROVED, REJECTED)
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	ItemListResponse
//	@Security		BearerAuth
//	@Router			/items [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, total, err := h.idx.ListItems(index.ListFilter{
		Examiner: q.Get("examiner"),
		Kind:     q.Get("kind"),
		Status:   q.Get("status"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		internalError(w, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: rows, Total: total})
}

// GetItem handles GET /api/items/{id}. The index locates the item; the full
// document comes from the authoritative store.
//
//	@Summary		Get one item with its full lifecycle
//	@Tags			items
//	@Produce		json
//	@Param			id	path		string	true	"Item id"
//	@Success		200	{object}	models.Finding
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id} [get]
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind, examiner, err := casestore.ParseItemID(id)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed item id"))
		return
	}
	switch kind {
	case models.KindFinding:
		doc, err := h.store.Findings(examiner)
		if err != nil {
			h.docError(w, id, err)
			return
		}
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				writeJSON(w, http.StatusOK, &doc.Items[i])
				return
			}
		}
	case models.KindTimeline:
		doc, err := h.store.Timeline(examiner)
		if err != nil {
			h.docError(w, id, err)
			return
		}
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				writeJSON(w, http.StatusOK, &doc.Items[i])
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, errorBody("not found"))
}

func (h *Handler) docError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, apperr.ErrValidation) {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed item id"))
		return
	}
	internalError(w, "get item", err, slog.String("id", id))
}

// ListTodos handles GET /api/todos.
//
//	@Summary		List TODOs across examiner namespaces
//	@Tags			todos
//	@Produce		json
//	@Param			examiner	query		string	false	"Filter by examiner"
//	@Success		200			{object}	TodoListResponse
//	@Security		BearerAuth
//	@Router			/todos [get]
func (h *Handler) ListTodos(w http.ResponseWriter, r *http.Request) {
	examiners, err := h.namespaces(r.URL.Query().Get("examiner"))
	if err != nil {
		internalError(w, "list todos", err)
		return
	}
	var todos []models.TodoItem
	for _, ex := range examiners {
		doc, err := h.store.Todos(ex)
		if err != nil {
			internalError(w, "list todos", err, slog.String("examiner", ex))
			return
		}
		todos = append(todos, doc.Items...)
	}
	writeJSON(w, http.StatusOK, TodoListResponse{Todos: todos, Total: len(todos)})
}

// ListEvidence handles GET /api/evidence.
//
//	@Summary		List registered evidence across examiner namespaces
//	@Tags			evidence
//	@Produce		json
//	@Param			examiner	query		string	false	"Filter by examiner"
//	@Success		200			{object}	EvidenceListResponse
//	@Security		BearerAuth
//	@Router			/evidence [get]
func (h *Handler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	examiners, err := h.namespaces(r.URL.Query().Get("examiner"))
	if err != nil {
		internalError(w, "list evidence", err)
		return
	}
	var records []models.EvidenceRecord
	for _, ex := range examiners {
		doc, err := h.store.Evidence(ex)
		if err != nil {
			internalError(w, "list evidence", err, slog.String("examiner", ex))
			return
		}
		records = append(records, doc.Items...)
	}
	writeJSON(w, http.StatusOK, EvidenceListResponse{Evidence: records, Total: len(records)})
}

// ListApprovals handles GET /api/approvals.
//
//	@Summary		The append-only decision trail
//	@Tags			approvals
//	@Produce		json
//	@Success		200	{object}	ApprovalListResponse
//	@Security		BearerAuth
//	@Router			/approvals [get]
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	records, skipped, err := h.store.Approvals()
	if err != nil {
		internalError(w, "list approvals", err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalListResponse{Approvals: records, Corrupt: skipped})
}

// Reconcile handles GET /api/reconcile. Always the cheap hash-only pass:
// the deep pass needs a PIN and PINs never transit this API.
//
//	@Summary		Hash-only reconciliation report
//	@Tags			reconcile
//	@Produce		json
//	@Success		200	{object}	reconcile.Report
//	@Security		BearerAuth
//	@Router			/reconcile [get]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := reconcile.Verify(h.store, h.ldg, h.caseID, reconcile.Options{
		Examiner: r.URL.Query().Get("examiner"),
	})
	if err != nil {
		internalError(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) namespaces(examiner string) ([]string, error) {
	if examiner != "" {
		return []string{examiner}, nil
	}
	return h.store.Examiners()
}
