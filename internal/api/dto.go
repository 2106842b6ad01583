package api

import (
	"github.com/halvard/caseward/internal/index"
	"github.com/halvard/caseward/internal/models"
)

// CaseResponse is the case summary payload.
type CaseResponse struct {
	Meta      models.CaseMeta `json:"meta" validate:"required"`
	Counts    map[string]int  `json:"counts" validate:"required"`
	Examiners []string        `json:"examiners"`
}

// ItemListResponse wraps paginated item-header listings.
type ItemListResponse struct {
	Items []index.ItemRow `json:"items" validate:"required"`
	Total int             `json:"total" example:"42" validate:"required"`
}

// TodoListResponse wraps TODO listings.
type TodoListResponse struct {
	Todos []models.TodoItem `json:"todos" validate:"required"`
	Total int               `json:"total" validate:"required"`
}

// EvidenceListResponse wraps evidence registry listings.
type EvidenceListResponse struct {
	Evidence []models.EvidenceRecord `json:"evidence" validate:"required"`
	Total    int                     `json:"total" validate:"required"`
}

// ApprovalListResponse wraps the decision trail. Corrupt counts log lines
// that failed to parse and were skipped.
type ApprovalListResponse struct {
	Approvals []models.ApprovalRecord `json:"approvals" validate:"required"`
	Corrupt   int                     `json:"corrupt,omitempty"`
}
