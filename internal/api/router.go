package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/index"
	"github.com/halvard/caseward/internal/ledger"
)

// NewRouter creates a chi router with all dashboard routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(store *casestore.Store, idx index.ItemIndex, ldg *ledger.Ledger, caseID string,
	authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(store, idx, ldg, caseID)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Case summary.
	r.Get("/case", h.GetCase)

	// Item headers from the derived index, full documents from the store.
	r.Get("/items", h.ListItems)
	r.Get("/items/{id}", h.GetItem)

	// Per-namespace documents.
	r.Get("/todos", h.ListTodos)
	r.Get("/evidence", h.ListEvidence)

	// Decision trail and integrity report.
	r.Get("/approvals", h.ListApprovals)
	r.Get("/reconcile", h.Reconcile)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
