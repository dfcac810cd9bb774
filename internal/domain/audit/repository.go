package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the append-only store of audit entries. There is no update
// or delete path.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error

	// FindBySubject returns entries oldest first. A non-nil tenantID limits
	// the result to entries of that tenant plus platform entries without one.
	FindBySubject(ctx context.Context, subjectType SubjectType, subjectID uuid.UUID, tenantID *uuid.UUID) ([]Entry, error)

	// CountBySubject counts all entries of a subject regardless of tenant
	CountBySubject(ctx context.Context, subjectType SubjectType, subjectID uuid.UUID) (int64, error)
}
