package governance

import (
	"time"

	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/google/uuid"
)

// Decision is the outcome a reviewer chooses
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid checks if the decision is known
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// SubmitInput is a tenant's request to link a product to the catalog
type SubmitInput struct {
	DisplayName        string
	ClassificationCode *string
}

// ReviewInput carries a reviewer's decision
type ReviewInput struct {
	Decision           Decision
	ClassificationCode *string
	RejectionReason    *string
}

// CatalogEntryResponse is the read model of a catalog entry
type CatalogEntryResponse struct {
	ID                 uuid.UUID  `json:"id"`
	DisplayName        string     `json:"display_name"`
	NormalizedName     string     `json:"normalized_name"`
	ClassificationCode *string    `json:"classification_code,omitempty"`
	Status             string     `json:"status"`
	SubmittingTenantID *uuid.UUID `json:"submitting_tenant_id,omitempty"`
	CreatedBy          *uuid.UUID `json:"created_by,omitempty"`
	ReviewerID         *uuid.UUID `json:"reviewer_id,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason    *string    `json:"rejection_reason,omitempty"`
	Version            int        `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SubmitResult tells the caller whether the entry was created by this call
type SubmitResult struct {
	Entry   CatalogEntryResponse `json:"entry"`
	Created bool                 `json:"created"`
}

// ToCatalogEntryResponse maps the aggregate to its read model
func ToCatalogEntryResponse(e *catalog.CatalogEntry) CatalogEntryResponse {
	return CatalogEntryResponse{
		ID:                 e.ID,
		DisplayName:        e.DisplayName,
		NormalizedName:     e.NormalizedName,
		ClassificationCode: e.ClassificationCode,
		Status:             e.Status.String(),
		SubmittingTenantID: e.SubmittingTenantID,
		CreatedBy:          e.CreatedBy,
		ReviewerID:         e.ReviewerID,
		ReviewedAt:         e.ReviewedAt,
		RejectionReason:    e.RejectionReason,
		Version:            e.Version,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// ClassificationCodeResponse is the read model of a reference code
type ClassificationCodeResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Rate        string `json:"rate"`
	Active      bool   `json:"active"`
}

// BackfillOptions narrows a backfill run
type BackfillOptions struct {
	// EntryIDs limits the run to these entries; empty means every entry
	EntryIDs  []uuid.UUID
	DryRun    bool
	BatchSize int
}

// BackfillDecision is what the backfill decided for one entry
type BackfillDecision struct {
	EntryID        uuid.UUID `json:"entry_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ReasonCode     string    `json:"reason_code"`
}

// BackfillReport summarizes a backfill run
type BackfillReport struct {
	Scanned   int                `json:"scanned"`
	Approved  int                `json:"approved"`
	Pending   int                `json:"pending"`
	Skipped   int                `json:"skipped"`
	DryRun    bool               `json:"dry_run"`
	Decisions []BackfillDecision `json:"decisions"`
}
