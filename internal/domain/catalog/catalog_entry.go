package catalog

import (
	"strings"
	"time"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
)

// Status is the governance status of a catalog entry
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// String returns the string form of the status
func (s Status) String() string {
	return string(s)
}

const maxDisplayNameLength = 200

// CatalogEntry is a product definition shared by every tenant.
// Entries are never deleted; governance only flips Status.
type CatalogEntry struct {
	shared.BaseAggregateRoot
	DisplayName        string     `gorm:"type:varchar(200);not null"`
	NormalizedName     string     `gorm:"type:varchar(200);not null;uniqueIndex:idx_catalog_entries_normalized_name"`
	ClassificationCode *string    `gorm:"type:varchar(32);index"`
	Status             Status     `gorm:"type:varchar(20);not null;default:'pending';index"`
	SubmittingTenantID *uuid.UUID `gorm:"type:uuid;index"`
	CreatedBy          *uuid.UUID `gorm:"type:uuid"`
	ReviewerID         *uuid.UUID `gorm:"type:uuid"`
	ReviewedAt         *time.Time
	RejectionReason    *string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (CatalogEntry) TableName() string {
	return "catalog_entries"
}

// NewCatalogEntry creates a pending catalog entry.
// submittingTenantID and createdBy are nil for seed entries.
func NewCatalogEntry(displayName string, classificationCode *string, submittingTenantID, createdBy *uuid.UUID) (*CatalogEntry, error) {
	displayName = strings.TrimSpace(displayName)
	if err := validateDisplayName(displayName); err != nil {
		return nil, err
	}

	entry := &CatalogEntry{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(),
		DisplayName:        displayName,
		NormalizedName:     NormalizeName(displayName),
		ClassificationCode: normalizeCodeRef(classificationCode),
		Status:             StatusPending,
		SubmittingTenantID: submittingTenantID,
		CreatedBy:          createdBy,
	}

	entry.AddDomainEvent(NewCatalogEntrySubmittedEvent(entry))

	return entry, nil
}

// IsApproved reports whether the entry may back a finalized document line
func (e *CatalogEntry) IsApproved() bool {
	return e.Status == StatusApproved
}

// IsPending reports whether the entry is awaiting review
func (e *CatalogEntry) IsPending() bool {
	return e.Status == StatusPending
}

// IsRejected reports whether the entry was rejected
func (e *CatalogEntry) IsRejected() bool {
	return e.Status == StatusRejected
}

// HasClassification reports whether a classification code is set
func (e *CatalogEntry) HasClassification() bool {
	return e.ClassificationCode != nil && *e.ClassificationCode != ""
}

// Approve moves the entry from pending to approved.
// The classification must already be resolved and active; it is set in the
// same step as the status flip.
func (e *CatalogEntry) Approve(reviewerID *uuid.UUID, classification *ClassificationCode) error {
	if e.Status != StatusPending {
		return shared.ErrInvalidTransition.WithMessage("Only pending catalog entries can be approved")
	}
	if classification == nil {
		return shared.NewDomainError("CLASSIFICATION_REQUIRED", "An active classification code is required to approve")
	}
	if !classification.Active {
		return shared.NewDomainError("CLASSIFICATION_INACTIVE", "Classification code "+classification.Code+" is not active")
	}

	previous := e.Status
	code := classification.Code
	now := time.Now()

	e.ClassificationCode = &code
	e.Status = StatusApproved
	e.ReviewerID = reviewerID
	e.ReviewedAt = &now
	e.RejectionReason = nil
	e.UpdatedAt = now
	e.IncrementVersion()

	e.AddDomainEvent(NewCatalogEntryReviewedEvent(e, previous))

	return nil
}

// Reject moves the entry from pending to rejected
func (e *CatalogEntry) Reject(reviewerID *uuid.UUID, reason string) error {
	if e.Status != StatusPending {
		return shared.ErrInvalidTransition.WithMessage("Only pending catalog entries can be rejected")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return shared.NewDomainError("REJECTION_REASON_REQUIRED", "Rejection reason cannot be empty")
	}

	previous := e.Status
	now := time.Now()

	e.Status = StatusRejected
	e.ReviewerID = reviewerID
	e.ReviewedAt = &now
	e.RejectionReason = &reason
	e.UpdatedAt = now
	e.IncrementVersion()

	e.AddDomainEvent(NewCatalogEntryReviewedEvent(e, previous))

	return nil
}

// Resubmit moves a rejected entry back to pending.
// A non-nil classificationCode replaces the proposed classification.
func (e *CatalogEntry) Resubmit(classificationCode *string) error {
	if e.Status != StatusRejected {
		return shared.ErrInvalidTransition.WithMessage("Only rejected catalog entries can be resubmitted")
	}

	if code := normalizeCodeRef(classificationCode); code != nil {
		e.ClassificationCode = code
	}
	e.Status = StatusPending
	e.ReviewerID = nil
	e.ReviewedAt = nil
	e.RejectionReason = nil
	e.UpdatedAt = time.Now()
	e.IncrementVersion()

	e.AddDomainEvent(NewCatalogEntrySubmittedEvent(e))

	return nil
}

// Reconcile sets the status decided by the governance backfill.
// It bypasses the review state machine and is only used for entries that
// predate governance and have no audit history.
func (e *CatalogEntry) Reconcile(status Status) error {
	if !status.IsValid() || status == StatusRejected {
		return shared.NewDomainError("INVALID_STATUS", "Backfill can only assign pending or approved")
	}
	if e.Status == status {
		return nil
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	e.IncrementVersion()
	return nil
}

func validateDisplayName(name string) error {
	if name == "" {
		return shared.NewDomainError("INVALID_NAME", "Display name cannot be empty")
	}
	if len([]rune(name)) > maxDisplayNameLength {
		return shared.NewDomainError("INVALID_NAME", "Display name cannot exceed 200 characters")
	}
	return nil
}

func normalizeCodeRef(code *string) *string {
	if code == nil {
		return nil
	}
	c := strings.ToUpper(strings.TrimSpace(*code))
	if c == "" {
		return nil
	}
	return &c
}
