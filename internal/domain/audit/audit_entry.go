package audit

import (
	"strings"
	"time"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
)

// SubjectType names the kind of record an entry is about
type SubjectType string

const (
	SubjectCatalogEntry SubjectType = "catalog_entry"
	SubjectDocument     SubjectType = "document"
)

// IsValid checks if the subject type is known
func (s SubjectType) IsValid() bool {
	return s == SubjectCatalogEntry || s == SubjectDocument
}

// Action is what happened to the subject
type Action string

const (
	ActionSubmitted      Action = "submitted"
	ActionResubmitted    Action = "resubmitted"
	ActionAutoApproved   Action = "auto_approved"
	ActionApproved       Action = "approved"
	ActionRejected       Action = "rejected"
	ActionReviewRejected Action = "review_rejected"
	ActionBackfilled     Action = "backfilled"
	ActionPostSucceeded  Action = "post_succeeded"
	ActionPostRejected   Action = "post_rejected"
	ActionPostAborted    Action = "post_aborted"
)

// Entry is one immutable line of the audit trail.
// ActorID is nil for system actions. TenantID is nil for platform-owned
// subjects that no tenant submitted.
type Entry struct {
	ID             uuid.UUID   `gorm:"type:uuid;primary_key"`
	SubjectType    SubjectType `gorm:"type:varchar(32);not null;index:idx_audit_entries_subject,priority:1"`
	SubjectID      uuid.UUID   `gorm:"type:uuid;not null;index:idx_audit_entries_subject,priority:2"`
	Action         Action      `gorm:"type:varchar(32);not null"`
	ActorID        *uuid.UUID  `gorm:"type:uuid"`
	TenantID       *uuid.UUID  `gorm:"type:uuid;index"`
	PreviousStatus string      `gorm:"type:varchar(20);not null;default:''"`
	NewStatus      string      `gorm:"type:varchar(20);not null;default:''"`
	ReasonCode     string      `gorm:"type:varchar(64);not null;default:''"`
	Note           string      `gorm:"type:text;not null;default:''"`
	OccurredAt     time.Time   `gorm:"not null;index:idx_audit_entries_subject,priority:3"`
}

// TableName returns the table name for GORM
func (Entry) TableName() string {
	return "audit_entries"
}

// NewEntry creates an audit entry stamped with the current time.
// Ids are UUIDv7 and the timestamp is cut to the microsecond the database
// keeps, so entries written by one process sort in creation order.
func NewEntry(subjectType SubjectType, subjectID uuid.UUID, action Action) (*Entry, error) {
	if !subjectType.IsValid() {
		return nil, shared.NewDomainError("INVALID_SUBJECT_TYPE", "Unknown audit subject type: "+string(subjectType))
	}
	if subjectID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Audit subject ID cannot be empty")
	}
	if strings.TrimSpace(string(action)) == "" {
		return nil, shared.NewDomainError("INVALID_ACTION", "Audit action cannot be empty")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &Entry{
		ID:          id,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Action:      action,
		OccurredAt:  time.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

// By sets the acting user and tenant from actor
func (e *Entry) By(actor shared.Actor) *Entry {
	e.ActorID = actor.UserID
	e.TenantID = actor.TenantRef()
	return e
}

// ForTenant overrides the owning tenant
func (e *Entry) ForTenant(tenantID *uuid.UUID) *Entry {
	e.TenantID = tenantID
	return e
}

// Transition records the status change
func (e *Entry) Transition(previous, next string) *Entry {
	e.PreviousStatus = previous
	e.NewStatus = next
	return e
}

// Because records the machine-readable reason and a human-readable note
func (e *Entry) Because(reasonCode, note string) *Entry {
	e.ReasonCode = reasonCode
	e.Note = note
	return e
}
