package audit

import (
	"context"
	"time"

	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// EntryResponse is the read model of an audit entry
type EntryResponse struct {
	ID             uuid.UUID  `json:"id"`
	SubjectType    string     `json:"subject_type"`
	SubjectID      uuid.UUID  `json:"subject_id"`
	Action         string     `json:"action"`
	ActorID        *uuid.UUID `json:"actor_id,omitempty"`
	TenantID       *uuid.UUID `json:"tenant_id,omitempty"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	NewStatus      string     `json:"new_status,omitempty"`
	ReasonCode     string     `json:"reason_code,omitempty"`
	Note           string     `json:"note,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// ToEntryResponse maps an audit entry to its read model
func ToEntryResponse(e audit.Entry) EntryResponse {
	return EntryResponse{
		ID:             e.ID,
		SubjectType:    string(e.SubjectType),
		SubjectID:      e.SubjectID,
		Action:         string(e.Action),
		ActorID:        e.ActorID,
		TenantID:       e.TenantID,
		PreviousStatus: e.PreviousStatus,
		NewStatus:      e.NewStatus,
		ReasonCode:     e.ReasonCode,
		Note:           e.Note,
		OccurredAt:     e.OccurredAt,
	}
}

// Service reads and appends the audit trail
type Service struct {
	repo   audit.Repository
	logger *zap.Logger
}

// NewService creates an audit Service
func NewService(repo audit.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Record appends an entry outside any business transaction
func (s *Service) Record(ctx context.Context, entry *audit.Entry) error {
	if entry == nil {
		return shared.ErrInvalidInput.WithMessage("Audit entry cannot be nil")
	}
	if !entry.SubjectType.IsValid() || entry.SubjectID == uuid.Nil || entry.Action == "" {
		return shared.ErrInvalidInput.WithMessage("Audit entry needs a subject and an action")
	}
	if entry.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		entry.ID = id
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to record audit entry",
			zap.String("subject_type", string(entry.SubjectType)),
			zap.String("subject_id", entry.SubjectID.String()),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return err
	}
	return nil
}

// History returns the trail of one subject, oldest first. Platform actors
// see every entry; anyone else sees their tenant's entries plus entries
// that belong to no tenant.
func (s *Service) History(ctx context.Context, actor shared.Actor, subjectType audit.SubjectType, subjectID uuid.UUID) ([]EntryResponse, error) {
	if !subjectType.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("Unknown subject type " + string(subjectType))
	}

	var tenantFilter *uuid.UUID
	if !actor.IsPlatform() {
		if actor.TenantID == uuid.Nil {
			return nil, shared.ErrInvalidInput.WithMessage("Tenant actor without a tenant")
		}
		tenantFilter = actor.TenantRef()
	}

	entries, err := s.repo.FindBySubject(ctx, subjectType, subjectID, tenantFilter)
	if err != nil {
		return nil, err
	}
	return lo.Map(entries, func(e audit.Entry, _ int) EntryResponse {
		return ToEntryResponse(e)
	}), nil
}
